package domain

import "time"

// FraudAssessment is the scored legitimacy evaluation of one transaction.
// Sub-scores are all in [0,1] with 1.0 = most legitimate: keyword and
// behavioral inputs are inverted to "cleanliness" before scoring.
type FraudAssessment struct {
	ID            string `json:"id"`
	BusinessID    string `json:"businessId"`
	TransactionID string `json:"transactionId"`
	DatabaseID    string `json:"databaseId"`

	ContextScore     float64 `json:"contextScore"`
	KeywordScore     float64 `json:"keywordScore"`
	BehavioralScore  float64 `json:"behavioralScore"`
	TransactionScore float64 `json:"transactionScore"`

	Composite float64 `json:"composite"`
	Passed    bool    `json:"passed"`

	// Degraded is set when one or more sub-scores were unavailable and the
	// composite was computed over re-normalized weights.
	Degraded bool `json:"degraded"`

	// ReviewReason is non-empty when the transaction was routed to manual
	// review instead of automatic classification.
	ReviewReason string `json:"reviewReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ReviewItem is a queued manual-review entry for a transaction that could
// not be classified automatically.
type ReviewItem struct {
	ID            string    `json:"id"`
	BusinessID    string    `json:"businessId"`
	TransactionID string    `json:"transactionId"`
	DatabaseID    string    `json:"databaseId"`
	Reason        string    `json:"reason"`
	Resolved      bool      `json:"resolved"`
	CreatedAt     time.Time `json:"createdAt"`
}
