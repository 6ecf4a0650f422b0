package domain

import (
	"time"
)

// TransactionStatus is the verification state of a customer-reported
// transaction.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusVerified TransactionStatus = "verified"
	TransactionStatusRejected TransactionStatus = "rejected"
)

// Transaction is a customer-reported purchase event collected through a
// feedback call. The customer reports a point-in-time and amount; the
// tolerance window around them defines the range a POS record must fall in.
type Transaction struct {
	ID         string `json:"id"`
	DatabaseID string `json:"databaseId"`
	BusinessID string `json:"businessId"`
	StoreID    string `json:"storeId"`
	CustomerID string `json:"customerId"`

	// Customer-reported values. The tolerance band (±2 min, ±2 SEK) around
	// these defines the acceptable POS range, so the stored ranges are
	// derived from these points.
	CustomerTime   time.Time `json:"customerTime"`
	CustomerAmount float64   `json:"customerAmount"` // SEK

	// Feedback transcript produced by the call integration. Scanned by the
	// keyword detector and sent to the AI context provider.
	FeedbackText string `json:"feedbackText,omitempty"`

	// Reconciled POS values, filled in when the business submits decisions.
	ActualAmount *float64   `json:"actualAmount,omitempty"`
	ActualTime   *time.Time `json:"actualTime,omitempty"`

	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

// TimeRange returns the tolerance window around the customer-reported time.
func (t *Transaction) TimeRange(tolerance time.Duration) (time.Time, time.Time) {
	return t.CustomerTime.Add(-tolerance), t.CustomerTime.Add(tolerance)
}

// AmountRange returns the tolerance window around the reported amount.
func (t *Transaction) AmountRange(tolerance float64) (float64, float64) {
	return t.CustomerAmount - tolerance, t.CustomerAmount + tolerance
}

// VerificationDecision is one line of a business's POS reconciliation upload:
// the business's legitimacy verdict for a single transaction, optionally with
// the matched POS record's actual values.
type VerificationDecision struct {
	TransactionID string     `json:"transactionId"`
	IsLegitimate  bool       `json:"isLegitimate"`
	ActualAmount  *float64   `json:"actualAmount,omitempty"`
	ActualTime    *time.Time `json:"actualTime,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// TransactionMeta is the transaction context handed to external score
// providers alongside the feedback text.
type TransactionMeta struct {
	TransactionID string    `json:"transactionId"`
	StoreID       string    `json:"storeId"`
	CustomerID    string    `json:"customerId"`
	Amount        float64   `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}
