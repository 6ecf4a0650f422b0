// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vocilia/verify/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateCycle stores a new verification cycle. A second cycle for the same
// (business, week) fails with ErrDuplicate.
func (r *SQLRepository) CreateCycle(ctx context.Context, businessID string, cycle *domain.VerificationCycle) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		INSERT INTO verification_cycles (
			id, business_id, week_id, status,
			total_databases, prepared_databases, submitted_databases,
			total_transactions, verified_transactions, fake_transactions,
			total_rewards, total_invoice, paid_invoices, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cycle.ID, businessID, cycle.WeekID, string(cycle.Status),
		cycle.TotalDatabases, cycle.PreparedDatabases, cycle.SubmittedDatabases,
		cycle.TotalTransactions, cycle.VerifiedTransactions, cycle.FakeTransactions,
		cycle.TotalRewards.String(), cycle.TotalInvoice.String(), cycle.PaidInvoices,
		cycle.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: cycle for week %s", domain.ErrDuplicate, cycle.WeekID)
	}
	return err
}

// GetCycle retrieves a cycle by ID with business isolation.
func (r *SQLRepository) GetCycle(ctx context.Context, businessID string, cycleID string) (*domain.VerificationCycle, error) {
	return r.getCycleWhere(ctx, businessID, "id = ?", cycleID)
}

// GetCycleByWeek retrieves a cycle by its week identifier.
func (r *SQLRepository) GetCycleByWeek(ctx context.Context, businessID string, weekID string) (*domain.VerificationCycle, error) {
	return r.getCycleWhere(ctx, businessID, "week_id = ?", weekID)
}

func (r *SQLRepository) getCycleWhere(ctx context.Context, businessID string, cond string, arg any) (*domain.VerificationCycle, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, business_id, week_id, status,
			   total_databases, prepared_databases, submitted_databases,
			   total_transactions, verified_transactions, fake_transactions,
			   total_rewards, total_invoice, paid_invoices,
			   created_at, prepared_at, completed_at
		FROM verification_cycles
		WHERE business_id = ? AND ` + cond

	var c domain.VerificationCycle
	var status, rewards, invoice string
	var preparedAt, completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), businessID, arg).Scan(
		&c.ID, &c.BusinessID, &c.WeekID, &status,
		&c.TotalDatabases, &c.PreparedDatabases, &c.SubmittedDatabases,
		&c.TotalTransactions, &c.VerifiedTransactions, &c.FakeTransactions,
		&rewards, &invoice, &c.PaidInvoices,
		&c.CreatedAt, &preparedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Status = domain.CycleStatus(status)
	c.TotalRewards, err = decimal.NewFromString(rewards)
	if err != nil {
		return nil, fmt.Errorf("invalid total_rewards %q: %w", rewards, err)
	}
	c.TotalInvoice, err = decimal.NewFromString(invoice)
	if err != nil {
		return nil, fmt.Errorf("invalid total_invoice %q: %w", invoice, err)
	}
	if preparedAt.Valid {
		c.PreparedAt = &preparedAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}

	return &c, nil
}

// UpdateCycleStatus performs a conditional status transition. The row is
// updated only while still in the expected `from` status.
func (r *SQLRepository) UpdateCycleStatus(ctx context.Context, businessID string, cycleID string, from, to domain.CycleStatus) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		UPDATE verification_cycles
		SET status = ?
		WHERE business_id = ? AND id = ? AND status = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query), string(to), businessID, cycleID, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetCycle(ctx, businessID, cycleID); errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: cycle %s is not in %s", domain.ErrInvalidStateTransition, cycleID, from)
	}

	// Record milestone timestamps.
	now := time.Now().UTC()
	switch to {
	case domain.CycleStatusReady:
		_, err = r.db.ExecContext(ctx,
			r.rebind(`UPDATE verification_cycles SET prepared_at = ? WHERE business_id = ? AND id = ?`),
			now, businessID, cycleID)
	case domain.CycleStatusCompleted:
		_, err = r.db.ExecContext(ctx,
			r.rebind(`UPDATE verification_cycles SET completed_at = ? WHERE business_id = ? AND id = ?`),
			now, businessID, cycleID)
	}
	return err
}

// UpdateCycleAggregates persists the cycle's count and money aggregates.
func (r *SQLRepository) UpdateCycleAggregates(ctx context.Context, businessID string, cycle *domain.VerificationCycle) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		UPDATE verification_cycles
		SET total_databases = ?, prepared_databases = ?, submitted_databases = ?,
			total_transactions = ?, verified_transactions = ?, fake_transactions = ?,
			total_rewards = ?, total_invoice = ?, paid_invoices = ?
		WHERE business_id = ? AND id = ?
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cycle.TotalDatabases, cycle.PreparedDatabases, cycle.SubmittedDatabases,
		cycle.TotalTransactions, cycle.VerifiedTransactions, cycle.FakeTransactions,
		cycle.TotalRewards.String(), cycle.TotalInvoice.String(), cycle.PaidInvoices,
		businessID, cycle.ID,
	)
	return err
}

// CreateDatabase stores a new verification database. A second database for
// the same (cycle, store) fails with ErrDuplicate.
func (r *SQLRepository) CreateDatabase(ctx context.Context, businessID string, db *domain.VerificationDatabase) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		INSERT INTO verification_databases (
			id, cycle_id, store_id, business_id, deadline_at,
			transaction_count, verified_count, fake_count, unverified_count,
			status, csv_url, excel_url, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		db.ID, db.CycleID, db.StoreID, businessID, db.DeadlineAt,
		db.TransactionCount, db.VerifiedCount, db.FakeCount, db.UnverifiedCount,
		string(db.Status), db.CSVURL, db.ExcelURL, db.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: database for cycle %s store %s", domain.ErrDuplicate, db.CycleID, db.StoreID)
	}
	return err
}

const databaseColumns = `
	id, cycle_id, store_id, business_id, deadline_at,
	transaction_count, verified_count, fake_count, unverified_count,
	status, csv_url, excel_url, submitted_at, created_at
`

func scanDatabase(row interface{ Scan(...any) error }) (*domain.VerificationDatabase, error) {
	var d domain.VerificationDatabase
	var status string
	var csvURL, excelURL sql.NullString
	var submittedAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.CycleID, &d.StoreID, &d.BusinessID, &d.DeadlineAt,
		&d.TransactionCount, &d.VerifiedCount, &d.FakeCount, &d.UnverifiedCount,
		&status, &csvURL, &excelURL, &submittedAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = domain.DatabaseStatus(status)
	d.CSVURL = csvURL.String
	d.ExcelURL = excelURL.String
	if submittedAt.Valid {
		d.SubmittedAt = &submittedAt.Time
	}
	return &d, nil
}

// GetDatabase retrieves a verification database by ID.
func (r *SQLRepository) GetDatabase(ctx context.Context, businessID string, dbID string) (*domain.VerificationDatabase, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `SELECT ` + databaseColumns + ` FROM verification_databases WHERE business_id = ? AND id = ?`

	d, err := scanDatabase(r.db.QueryRowContext(ctx, r.rebind(query), businessID, dbID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return d, err
}

// ListDatabasesByCycle retrieves all databases belonging to a cycle.
func (r *SQLRepository) ListDatabasesByCycle(ctx context.Context, businessID string, cycleID string) ([]*domain.VerificationDatabase, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `SELECT ` + databaseColumns + ` FROM verification_databases WHERE business_id = ? AND cycle_id = ? ORDER BY store_id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), businessID, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dbs []*domain.VerificationDatabase
	for rows.Next() {
		d, err := scanDatabase(rows)
		if err != nil {
			return nil, err
		}
		dbs = append(dbs, d)
	}
	return dbs, rows.Err()
}

// UpdateDatabaseStatus performs a conditional status transition.
func (r *SQLRepository) UpdateDatabaseStatus(ctx context.Context, businessID string, dbID string, from, to domain.DatabaseStatus) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		UPDATE verification_databases
		SET status = ?
		WHERE business_id = ? AND id = ? AND status = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query), string(to), businessID, dbID, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetDatabase(ctx, businessID, dbID); errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: database %s is not in %s", domain.ErrInvalidStateTransition, dbID, from)
	}
	return nil
}

// SetDatabaseArtifacts records export artifact locations.
func (r *SQLRepository) SetDatabaseArtifacts(ctx context.Context, businessID string, dbID string, csvURL, excelURL string) error {
	query := `UPDATE verification_databases SET csv_url = ?, excel_url = ? WHERE business_id = ? AND id = ?`
	_, err := r.db.ExecContext(ctx, r.rebind(query), csvURL, excelURL, businessID, dbID)
	return err
}

// SetDatabaseSubmittedAt records the submission timestamp.
func (r *SQLRepository) SetDatabaseSubmittedAt(ctx context.Context, businessID string, dbID string, at time.Time) error {
	query := `UPDATE verification_databases SET submitted_at = ? WHERE business_id = ? AND id = ?`
	_, err := r.db.ExecContext(ctx, r.rebind(query), at, businessID, dbID)
	return err
}

// UpdateDatabaseCounts stores verification counts. The counts must sum to
// the database's transaction count; violations are rejected.
func (r *SQLRepository) UpdateDatabaseCounts(ctx context.Context, businessID string, dbID string, verified, fake, unverified int) error {
	if verified < 0 || fake < 0 || unverified < 0 {
		return fmt.Errorf("%w: negative count", domain.ErrValidation)
	}

	d, err := r.GetDatabase(ctx, businessID, dbID)
	if err != nil {
		return err
	}
	if verified+fake+unverified != d.TransactionCount {
		return fmt.Errorf("%w: %d+%d+%d != %d", domain.ErrCountMismatch, verified, fake, unverified, d.TransactionCount)
	}

	query := `
		UPDATE verification_databases
		SET verified_count = ?, fake_count = ?, unverified_count = ?
		WHERE business_id = ? AND id = ?
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), verified, fake, unverified, businessID, dbID)
	return err
}

// SweepExpiredDatabases expires every ready/downloaded database past its
// deadline. The per-row conditional update makes the sweep idempotent and
// safe under concurrent replicas.
func (r *SQLRepository) SweepExpiredDatabases(ctx context.Context, now time.Time) ([]domain.ExpiredDatabase, error) {
	query := `
		SELECT id, cycle_id, business_id
		FROM verification_databases
		WHERE deadline_at < ? AND status IN ('ready', 'downloaded')
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), now)
	if err != nil {
		return nil, err
	}

	var candidates []domain.ExpiredDatabase
	for rows.Next() {
		var e domain.ExpiredDatabase
		if err := rows.Scan(&e.ID, &e.CycleID, &e.BusinessID); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	update := `
		UPDATE verification_databases
		SET status = 'expired'
		WHERE id = ? AND status IN ('ready', 'downloaded')
	`

	var expired []domain.ExpiredDatabase
	for _, e := range candidates {
		res, err := r.db.ExecContext(ctx, r.rebind(update), e.ID)
		if err != nil {
			return expired, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			expired = append(expired, e)
		}
	}

	return expired, nil
}

// BusinessDatabaseSummary aggregates a business's databases by status.
// Read-only projection for dashboard display.
func (r *SQLRepository) BusinessDatabaseSummary(ctx context.Context, businessID string, now time.Time) (*domain.DatabaseSummary, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	summary := &domain.DatabaseSummary{
		BusinessID: businessID,
		ByStatus:   make(map[domain.DatabaseStatus]int),
	}

	query := `
		SELECT status, COUNT(*),
			   COALESCE(SUM(transaction_count), 0),
			   COALESCE(SUM(verified_count), 0),
			   COALESCE(SUM(fake_count), 0)
		FROM verification_databases
		WHERE business_id = ?
		GROUP BY status
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count, txs, verified, fake int
		if err := rows.Scan(&status, &count, &txs, &verified, &fake); err != nil {
			return nil, err
		}
		summary.ByStatus[domain.DatabaseStatus(status)] = count
		summary.TotalDatabases += count
		summary.TotalTransactions += txs
		summary.VerifiedTransactions += verified
		summary.FakeTransactions += fake
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	overdue := `
		SELECT COUNT(*)
		FROM verification_databases
		WHERE business_id = ? AND status IN ('ready', 'downloaded') AND deadline_at < ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(overdue), businessID, now).Scan(&summary.OverdueDatabases); err != nil {
		return nil, err
	}

	return summary, nil
}

// CreateTransaction stores a customer-reported transaction.
func (r *SQLRepository) CreateTransaction(ctx context.Context, businessID string, tx *domain.Transaction) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		INSERT INTO transactions (
			id, database_id, business_id, store_id, customer_id,
			customer_time, customer_amount, feedback_text,
			actual_amount, actual_time, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.DatabaseID, businessID, tx.StoreID, tx.CustomerID,
		tx.CustomerTime, tx.CustomerAmount, tx.FeedbackText,
		tx.ActualAmount, tx.ActualTime, string(tx.Status), tx.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: transaction %s", domain.ErrDuplicate, tx.ID)
	}
	return err
}

const transactionColumns = `
	id, database_id, business_id, store_id, customer_id,
	customer_time, customer_amount, feedback_text,
	actual_amount, actual_time, status, created_at
`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var t domain.Transaction
	var status string
	var feedback sql.NullString
	var actualAmount sql.NullFloat64
	var actualTime sql.NullTime

	err := row.Scan(
		&t.ID, &t.DatabaseID, &t.BusinessID, &t.StoreID, &t.CustomerID,
		&t.CustomerTime, &t.CustomerAmount, &feedback,
		&actualAmount, &actualTime, &status, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = domain.TransactionStatus(status)
	t.FeedbackText = feedback.String
	if actualAmount.Valid {
		t.ActualAmount = &actualAmount.Float64
	}
	if actualTime.Valid {
		t.ActualTime = &actualTime.Time
	}
	return &t, nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, businessID string, txID string) (*domain.Transaction, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE business_id = ? AND id = ?`

	t, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), businessID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return t, err
}

// ListTransactionsByDatabase retrieves all transactions in a verification
// database.
func (r *SQLRepository) ListTransactionsByDatabase(ctx context.Context, businessID string, dbID string) ([]*domain.Transaction, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE business_id = ? AND database_id = ? ORDER BY customer_time`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), businessID, dbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// UpdateTransactionVerification records the verification outcome and any
// reconciled POS values.
func (r *SQLRepository) UpdateTransactionVerification(ctx context.Context, businessID string, txID string, status domain.TransactionStatus, actualAmount *float64, actualTime *time.Time) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		UPDATE transactions
		SET status = ?, actual_amount = ?, actual_time = ?
		WHERE business_id = ? AND id = ?
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), string(status), actualAmount, actualTime, businessID, txID)
	return err
}

// SaveKeyword upserts a red-flag keyword.
func (r *SQLRepository) SaveKeyword(ctx context.Context, businessID string, kw *domain.RedFlagKeyword) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	active := 0
	if kw.Active {
		active = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO red_flag_keywords (
			id, business_id, keyword, category, severity, language, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, business_id) DO UPDATE SET
			keyword = excluded.keyword,
			category = excluded.category,
			severity = excluded.severity,
			language = excluded.language,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		kw.ID, businessID, kw.Keyword, string(kw.Category), kw.Severity,
		kw.Language, active, now, now,
	)
	return err
}

// ListKeywords retrieves keywords for a language.
func (r *SQLRepository) ListKeywords(ctx context.Context, businessID string, language string, activeOnly bool) ([]*domain.RedFlagKeyword, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, business_id, keyword, category, severity, language, active, created_at, updated_at
		FROM red_flag_keywords
		WHERE business_id = ?
	`
	args := []any{businessID}

	if language != "" {
		query += ` AND language = ?`
		args = append(args, language)
	}
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY keyword`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var kws []*domain.RedFlagKeyword
	for rows.Next() {
		var kw domain.RedFlagKeyword
		var category string
		var active int

		if err := rows.Scan(
			&kw.ID, &kw.BusinessID, &kw.Keyword, &category, &kw.Severity,
			&kw.Language, &active, &kw.CreatedAt, &kw.UpdatedAt,
		); err != nil {
			return nil, err
		}

		kw.Category = domain.KeywordCategory(category)
		kw.Active = active == 1
		kws = append(kws, &kw)
	}
	return kws, rows.Err()
}

// SaveScreeningRule upserts a screening rule configuration.
func (r *SQLRepository) SaveScreeningRule(ctx context.Context, businessID string, rule *domain.ScreeningRule) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	bands, _ := json.Marshal(rule.Bands)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO screening_rules (
			id, business_id, name, description, version, expression, bands, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, business_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, businessID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), enabled,
		now, now,
	)
	return err
}

// GetScreeningRule retrieves the latest enabled version of a rule.
func (r *SQLRepository) GetScreeningRule(ctx context.Context, businessID string, ruleID string) (*domain.ScreeningRule, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, business_id, name, description, version, expression, bands, enabled
		FROM screening_rules
		WHERE business_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.ScreeningRule
	var bands string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), businessID, ruleID).Scan(
		&cfg.ID, &cfg.BusinessID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &bands, &enabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	json.Unmarshal([]byte(bands), &cfg.Bands)

	return &cfg, nil
}

// ListScreeningRules retrieves all enabled rules for a business.
func (r *SQLRepository) ListScreeningRules(ctx context.Context, businessID string) ([]*domain.ScreeningRule, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, business_id, name, description, version, expression, bands, enabled
		FROM screening_rules
		WHERE business_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ScreeningRule
	for rows.Next() {
		var cfg domain.ScreeningRule
		var bands string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.BusinessID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &bands, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &cfg.Bands)
		rules = append(rules, &cfg)
	}
	return rules, rows.Err()
}

// SaveAssessment stores a fraud assessment for auditability.
func (r *SQLRepository) SaveAssessment(ctx context.Context, businessID string, a *domain.FraudAssessment) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	passed := 0
	if a.Passed {
		passed = 1
	}
	degraded := 0
	if a.Degraded {
		degraded = 1
	}

	query := `
		INSERT INTO fraud_assessments (
			id, business_id, transaction_id, database_id,
			context_score, keyword_score, behavioral_score, transaction_score,
			composite, passed, degraded, review_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, businessID, a.TransactionID, a.DatabaseID,
		a.ContextScore, a.KeywordScore, a.BehavioralScore, a.TransactionScore,
		a.Composite, passed, degraded, a.ReviewReason, a.CreatedAt,
	)
	return err
}

// ListAssessmentsByDatabase retrieves assessments for a verification
// database.
func (r *SQLRepository) ListAssessmentsByDatabase(ctx context.Context, businessID string, dbID string) ([]*domain.FraudAssessment, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, business_id, transaction_id, database_id,
			   context_score, keyword_score, behavioral_score, transaction_score,
			   composite, passed, degraded, review_reason, created_at
		FROM fraud_assessments
		WHERE business_id = ? AND database_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), businessID, dbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.FraudAssessment
	for rows.Next() {
		var a domain.FraudAssessment
		var passed, degraded int
		var reason sql.NullString

		if err := rows.Scan(
			&a.ID, &a.BusinessID, &a.TransactionID, &a.DatabaseID,
			&a.ContextScore, &a.KeywordScore, &a.BehavioralScore, &a.TransactionScore,
			&a.Composite, &passed, &degraded, &reason, &a.CreatedAt,
		); err != nil {
			return nil, err
		}

		a.Passed = passed == 1
		a.Degraded = degraded == 1
		a.ReviewReason = reason.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CreateReviewItem queues a transaction for manual review.
func (r *SQLRepository) CreateReviewItem(ctx context.Context, businessID string, item *domain.ReviewItem) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		INSERT INTO review_items (
			id, business_id, transaction_id, database_id, reason, resolved, created_at
		) VALUES (?, ?, ?, ?, ?, 0, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		item.ID, businessID, item.TransactionID, item.DatabaseID, item.Reason, item.CreatedAt,
	)
	return err
}

// ListOpenReviewItems retrieves unresolved review items.
func (r *SQLRepository) ListOpenReviewItems(ctx context.Context, businessID string) ([]*domain.ReviewItem, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, business_id, transaction_id, database_id, reason, resolved, created_at
		FROM review_items
		WHERE business_id = ? AND resolved = 0
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.ReviewItem
	for rows.Next() {
		var item domain.ReviewItem
		var resolved int
		if err := rows.Scan(
			&item.ID, &item.BusinessID, &item.TransactionID, &item.DatabaseID,
			&item.Reason, &resolved, &item.CreatedAt,
		); err != nil {
			return nil, err
		}
		item.Resolved = resolved == 1
		items = append(items, &item)
	}
	return items, rows.Err()
}

// SaveInvoice stores a cycle invoice. One invoice per cycle.
func (r *SQLRepository) SaveInvoice(ctx context.Context, businessID string, inv *domain.Invoice) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	lines, _ := json.Marshal(inv.Lines)

	query := `
		INSERT INTO invoices (
			id, business_id, cycle_id, lines, subtotal, admin_fee, total, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		inv.ID, businessID, inv.CycleID, string(lines),
		inv.Subtotal.String(), inv.AdminFee.String(), inv.Total.String(), inv.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: invoice for cycle %s", domain.ErrDuplicate, inv.CycleID)
	}
	return err
}

// GetInvoiceByCycle retrieves the invoice produced for a cycle.
func (r *SQLRepository) GetInvoiceByCycle(ctx context.Context, businessID string, cycleID string) (*domain.Invoice, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID is required", domain.ErrValidation)
	}

	query := `
		SELECT id, business_id, cycle_id, lines, subtotal, admin_fee, total, created_at
		FROM invoices
		WHERE business_id = ? AND cycle_id = ?
	`

	var inv domain.Invoice
	var lines, subtotal, adminFee, total string

	err := r.db.QueryRowContext(ctx, r.rebind(query), businessID, cycleID).Scan(
		&inv.ID, &inv.BusinessID, &inv.CycleID, &lines,
		&subtotal, &adminFee, &total, &inv.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(lines), &inv.Lines)
	if inv.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("invalid subtotal %q: %w", subtotal, err)
	}
	if inv.AdminFee, err = decimal.NewFromString(adminFee); err != nil {
		return nil, fmt.Errorf("invalid admin_fee %q: %w", adminFee, err)
	}
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("invalid total %q: %w", total, err)
	}

	return &inv, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// isUniqueViolation detects uniqueness errors from either driver without
// depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
