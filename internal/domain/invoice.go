package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceLine is the reward for one verified transaction.
type InvoiceLine struct {
	TransactionID string          `json:"transactionId"`
	StoreID       string          `json:"storeId"`
	Amount        decimal.Decimal `json:"amount"` // purchase amount, SEK
	RewardPercent float64         `json:"rewardPercent"`
	RewardAmount  decimal.Decimal `json:"rewardAmount"` // SEK
}

// Invoice is the per-cycle bill handed to the payment/export integration:
// reward subtotal across all verified transactions plus the platform admin
// fee on top.
type Invoice struct {
	ID         string          `json:"id"`
	BusinessID string          `json:"businessId"`
	CycleID    string          `json:"cycleId"`
	Lines      []InvoiceLine   `json:"lines"`
	Subtotal   decimal.Decimal `json:"subtotal"` // sum of reward amounts
	AdminFee   decimal.Decimal `json:"adminFee"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"createdAt"`
}
