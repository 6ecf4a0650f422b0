// Package domain defines the core interfaces and types for the Vocilia
// verification pipeline.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require businessID for strict multi-tenancy isolation.
type Repository interface {
	// Cycle operations
	CreateCycle(ctx context.Context, businessID string, cycle *VerificationCycle) error
	GetCycle(ctx context.Context, businessID string, cycleID string) (*VerificationCycle, error)
	GetCycleByWeek(ctx context.Context, businessID string, weekID string) (*VerificationCycle, error)
	UpdateCycleStatus(ctx context.Context, businessID string, cycleID string, from, to CycleStatus) error
	UpdateCycleAggregates(ctx context.Context, businessID string, cycle *VerificationCycle) error

	// Verification database operations
	CreateDatabase(ctx context.Context, businessID string, db *VerificationDatabase) error
	GetDatabase(ctx context.Context, businessID string, dbID string) (*VerificationDatabase, error)
	ListDatabasesByCycle(ctx context.Context, businessID string, cycleID string) ([]*VerificationDatabase, error)
	// UpdateDatabaseStatus performs a conditional transition: the row is
	// updated only while still in the expected `from` status. Returns
	// ErrInvalidStateTransition when the row is in another status.
	UpdateDatabaseStatus(ctx context.Context, businessID string, dbID string, from, to DatabaseStatus) error
	SetDatabaseArtifacts(ctx context.Context, businessID string, dbID string, csvURL, excelURL string) error
	SetDatabaseSubmittedAt(ctx context.Context, businessID string, dbID string, at time.Time) error
	UpdateDatabaseCounts(ctx context.Context, businessID string, dbID string, verified, fake, unverified int) error
	// SweepExpiredDatabases conditionally expires all ready/downloaded
	// databases with deadline_at < now. Idempotent.
	SweepExpiredDatabases(ctx context.Context, now time.Time) ([]ExpiredDatabase, error)
	BusinessDatabaseSummary(ctx context.Context, businessID string, now time.Time) (*DatabaseSummary, error)

	// Transaction operations
	CreateTransaction(ctx context.Context, businessID string, tx *Transaction) error
	GetTransaction(ctx context.Context, businessID string, txID string) (*Transaction, error)
	ListTransactionsByDatabase(ctx context.Context, businessID string, dbID string) ([]*Transaction, error)
	UpdateTransactionVerification(ctx context.Context, businessID string, txID string, status TransactionStatus, actualAmount *float64, actualTime *time.Time) error

	// Red-flag keyword operations
	SaveKeyword(ctx context.Context, businessID string, kw *RedFlagKeyword) error
	ListKeywords(ctx context.Context, businessID string, language string, activeOnly bool) ([]*RedFlagKeyword, error)

	// Screening rule operations
	SaveScreeningRule(ctx context.Context, businessID string, rule *ScreeningRule) error
	GetScreeningRule(ctx context.Context, businessID string, ruleID string) (*ScreeningRule, error)
	ListScreeningRules(ctx context.Context, businessID string) ([]*ScreeningRule, error)

	// Fraud assessments (persisted for auditability)
	SaveAssessment(ctx context.Context, businessID string, a *FraudAssessment) error
	ListAssessmentsByDatabase(ctx context.Context, businessID string, dbID string) ([]*FraudAssessment, error)

	// Manual review queue
	CreateReviewItem(ctx context.Context, businessID string, item *ReviewItem) error
	ListOpenReviewItems(ctx context.Context, businessID string) ([]*ReviewItem, error)

	// Invoices
	SaveInvoice(ctx context.Context, businessID string, inv *Invoice) error
	GetInvoiceByCycle(ctx context.Context, businessID string, cycleID string) (*Invoice, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
