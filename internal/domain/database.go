package domain

import "time"

// DatabaseStatus is the lifecycle state of a per-(cycle, store) verification
// database.
type DatabaseStatus string

const (
	DatabaseStatusPreparing  DatabaseStatus = "preparing"
	DatabaseStatusReady      DatabaseStatus = "ready"
	DatabaseStatusDownloaded DatabaseStatus = "downloaded"
	DatabaseStatusSubmitted  DatabaseStatus = "submitted"
	DatabaseStatusProcessed  DatabaseStatus = "processed"
	DatabaseStatusExpired    DatabaseStatus = "expired"
)

// databaseTransitions is the allowed forward edge set. The deadline sweep
// owns the ready/downloaded -> expired edge.
var databaseTransitions = map[DatabaseStatus][]DatabaseStatus{
	DatabaseStatusPreparing:  {DatabaseStatusReady},
	DatabaseStatusReady:      {DatabaseStatusDownloaded, DatabaseStatusExpired},
	DatabaseStatusDownloaded: {DatabaseStatusSubmitted, DatabaseStatusExpired},
	DatabaseStatusSubmitted:  {DatabaseStatusProcessed},
}

// CanTransition reports whether the status may move to the target status.
func (s DatabaseStatus) CanTransition(to DatabaseStatus) bool {
	for _, next := range databaseTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the database has reached a terminal state for
// cycle-completion purposes.
func (s DatabaseStatus) IsTerminal() bool {
	return s == DatabaseStatusProcessed || s == DatabaseStatusExpired
}

// VerificationDatabase is one store's per-cycle bundle of transactions
// awaiting business reconciliation. Exclusively owned by its parent cycle.
type VerificationDatabase struct {
	ID         string `json:"id"`
	CycleID    string `json:"cycleId"`
	StoreID    string `json:"storeId"`
	BusinessID string `json:"businessId"`

	DeadlineAt time.Time `json:"deadlineAt"`

	// Invariant: VerifiedCount+FakeCount+UnverifiedCount == TransactionCount.
	TransactionCount int `json:"transactionCount"`
	VerifiedCount    int `json:"verifiedCount"`
	FakeCount        int `json:"fakeCount"`
	UnverifiedCount  int `json:"unverifiedCount"`

	Status DatabaseStatus `json:"status"`

	// Export artifact locations, set when the database becomes ready.
	CSVURL   string `json:"csvUrl,omitempty"`
	ExcelURL string `json:"excelUrl,omitempty"`

	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// DatabaseSummary is a read-side projection of a business's databases,
// aggregated by status. Used for dashboard display; never mutates state.
type DatabaseSummary struct {
	BusinessID string `json:"businessId"`

	TotalDatabases int                    `json:"totalDatabases"`
	ByStatus       map[DatabaseStatus]int `json:"byStatus"`

	// OverdueDatabases counts ready/downloaded databases past deadline that
	// the sweep has not yet expired.
	OverdueDatabases int `json:"overdueDatabases"`

	TotalTransactions    int `json:"totalTransactions"`
	VerifiedTransactions int `json:"verifiedTransactions"`
	FakeTransactions     int `json:"fakeTransactions"`
}

// ExpiredDatabase identifies a database transitioned to expired by a sweep.
type ExpiredDatabase struct {
	ID         string `json:"id"`
	CycleID    string `json:"cycleId"`
	BusinessID string `json:"businessId"`
}
