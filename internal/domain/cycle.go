package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleStatus is the lifecycle state of a weekly verification cycle.
type CycleStatus string

const (
	CycleStatusPending    CycleStatus = "pending"
	CycleStatusPreparing  CycleStatus = "preparing"
	CycleStatusReady      CycleStatus = "ready"
	CycleStatusInProgress CycleStatus = "in_progress"
	CycleStatusCompleted  CycleStatus = "completed"
	CycleStatusCancelled  CycleStatus = "cancelled"
)

// cycleOrder defines the forward progression of cycle statuses.
// Cancelled is reachable from any non-terminal state and is not in the order.
var cycleOrder = map[CycleStatus]int{
	CycleStatusPending:    0,
	CycleStatusPreparing:  1,
	CycleStatusReady:      2,
	CycleStatusInProgress: 3,
	CycleStatusCompleted:  4,
}

// CanTransition reports whether a cycle may move from one status to another.
// Forward-only through the ordered states; cancelled from any non-terminal.
func (s CycleStatus) CanTransition(to CycleStatus) bool {
	if s == CycleStatusCompleted || s == CycleStatusCancelled {
		return false
	}
	if to == CycleStatusCancelled {
		return true
	}
	from, ok := cycleOrder[s]
	next, ok2 := cycleOrder[to]
	if !ok || !ok2 {
		return false
	}
	return next == from+1
}

// IsTerminal reports whether the status admits no further transitions.
func (s CycleStatus) IsTerminal() bool {
	return s == CycleStatusCompleted || s == CycleStatusCancelled
}

// VerificationCycle is one week's batch verification workflow for a business.
// One cycle exists per (business, ISO week).
type VerificationCycle struct {
	ID         string      `json:"id"`
	BusinessID string      `json:"businessId"`
	WeekID     string      `json:"weekId"` // YYYY-Www
	Status     CycleStatus `json:"status"`

	// Database counts. Prepared/Submitted never exceed Total.
	TotalDatabases     int `json:"totalDatabases"`
	PreparedDatabases  int `json:"preparedDatabases"`
	SubmittedDatabases int `json:"submittedDatabases"`

	// Transaction counts. Verified+Fake never exceed Total.
	TotalTransactions    int `json:"totalTransactions"`
	VerifiedTransactions int `json:"verifiedTransactions"`
	FakeTransactions     int `json:"fakeTransactions"`

	// Money aggregates, SEK.
	TotalRewards decimal.Decimal `json:"totalRewards"`
	TotalInvoice decimal.Decimal `json:"totalInvoice"`
	PaidInvoices int             `json:"paidInvoices"`

	CreatedAt   time.Time  `json:"createdAt"`
	PreparedAt  *time.Time `json:"preparedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StoreFailure records a store whose database could not be created during
// cycle fan-out. The cycle continues; failures surface to the operator.
type StoreFailure struct {
	StoreID string `json:"storeId"`
	Reason  string `json:"reason"`
}
