// Package verifydb manages the lifecycle of per-store verification
// databases: creation during cycle fan-out, readiness, download tracking,
// submission intake and deadline expiry.
package verifydb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vocilia/verify/internal/domain"
)

// Manager coordinates verification database state against the repository and
// announces lifecycle milestones on the event bus.
type Manager struct {
	repo domain.Repository
	bus  domain.EventBus
}

// NewManager creates a database manager. The bus may be nil, in which case
// lifecycle events are not published.
func NewManager(repo domain.Repository, bus domain.EventBus) *Manager {
	return &Manager{
		repo: repo,
		bus:  bus,
	}
}

// databaseEvent is the payload published on database lifecycle topics.
type databaseEvent struct {
	DatabaseID string `json:"databaseId"`
	CycleID    string `json:"cycleId"`
	StoreID    string `json:"storeId,omitempty"`
	Status     string `json:"status"`
}

// Create builds a new preparing database for a (cycle, store) pair.
// A second database for the same pair fails with ErrDuplicate.
func (m *Manager) Create(ctx context.Context, businessID, cycleID, storeID string, deadline time.Time, transactionCount int) (*domain.VerificationDatabase, error) {
	if transactionCount < 0 {
		return nil, fmt.Errorf("%w: negative transaction count", domain.ErrValidation)
	}

	db := &domain.VerificationDatabase{
		ID:               uuid.New().String(),
		CycleID:          cycleID,
		StoreID:          storeID,
		BusinessID:       businessID,
		DeadlineAt:       deadline,
		TransactionCount: transactionCount,
		UnverifiedCount:  transactionCount,
		Status:           domain.DatabaseStatusPreparing,
		CreatedAt:        time.Now().UTC(),
	}

	if err := m.repo.CreateDatabase(ctx, businessID, db); err != nil {
		return nil, err
	}
	return db, nil
}

// Get retrieves a database by ID.
func (m *Manager) Get(ctx context.Context, businessID, dbID string) (*domain.VerificationDatabase, error) {
	return m.repo.GetDatabase(ctx, businessID, dbID)
}

// ListByCycle retrieves all databases belonging to a cycle.
func (m *Manager) ListByCycle(ctx context.Context, businessID, cycleID string) ([]*domain.VerificationDatabase, error) {
	return m.repo.ListDatabasesByCycle(ctx, businessID, cycleID)
}

// MarkReady records the export artifacts and transitions the database from
// preparing to ready, making it visible for business download.
func (m *Manager) MarkReady(ctx context.Context, businessID, dbID, csvURL, excelURL string) error {
	if err := m.repo.SetDatabaseArtifacts(ctx, businessID, dbID, csvURL, excelURL); err != nil {
		return err
	}
	if err := m.repo.UpdateDatabaseStatus(ctx, businessID, dbID, domain.DatabaseStatusPreparing, domain.DatabaseStatusReady); err != nil {
		return err
	}

	m.publish(ctx, businessID, domain.TopicDatabaseReady, dbID, string(domain.DatabaseStatusReady))
	return nil
}

// MarkDownloaded records that the business fetched the database export.
func (m *Manager) MarkDownloaded(ctx context.Context, businessID, dbID string) error {
	return m.repo.UpdateDatabaseStatus(ctx, businessID, dbID, domain.DatabaseStatusReady, domain.DatabaseStatusDownloaded)
}

// RecordSubmission transitions a downloaded database to submitted and stamps
// the submission time. Submissions against expired databases fail with
// ErrInvalidStateTransition.
func (m *Manager) RecordSubmission(ctx context.Context, businessID, dbID string, at time.Time) error {
	if err := m.repo.UpdateDatabaseStatus(ctx, businessID, dbID, domain.DatabaseStatusDownloaded, domain.DatabaseStatusSubmitted); err != nil {
		return err
	}
	if err := m.repo.SetDatabaseSubmittedAt(ctx, businessID, dbID, at); err != nil {
		return err
	}

	m.publish(ctx, businessID, domain.TopicDatabaseSubmitted, dbID, string(domain.DatabaseStatusSubmitted))
	return nil
}

// UpdateVerificationCounts stores per-database verification tallies.
// The counts must sum to the database's transaction count.
func (m *Manager) UpdateVerificationCounts(ctx context.Context, businessID, dbID string, verified, fake, unverified int) error {
	return m.repo.UpdateDatabaseCounts(ctx, businessID, dbID, verified, fake, unverified)
}

// MarkProcessed transitions a submitted database to its terminal processed
// state once scoring finished.
func (m *Manager) MarkProcessed(ctx context.Context, businessID, dbID string) error {
	return m.repo.UpdateDatabaseStatus(ctx, businessID, dbID, domain.DatabaseStatusSubmitted, domain.DatabaseStatusProcessed)
}

// SweepExpired expires every ready/downloaded database past its deadline and
// publishes an expiry event per database. Safe to run concurrently; each
// database is expired and announced at most once.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) ([]domain.ExpiredDatabase, error) {
	expired, err := m.repo.SweepExpiredDatabases(ctx, now)
	if err != nil {
		return nil, err
	}

	for _, e := range expired {
		m.publish(ctx, e.BusinessID, domain.TopicDatabaseExpired, e.ID, string(domain.DatabaseStatusExpired))
		slog.Info("verification database expired",
			"business_id", e.BusinessID,
			"database_id", e.ID,
			"cycle_id", e.CycleID,
		)
	}

	return expired, nil
}

// Summary returns the per-status aggregation of a business's databases.
func (m *Manager) Summary(ctx context.Context, businessID string) (*domain.DatabaseSummary, error) {
	return m.repo.BusinessDatabaseSummary(ctx, businessID, time.Now().UTC())
}

// publish sends a lifecycle event. Publish failures are logged, never fatal:
// state in the repository is the source of truth.
func (m *Manager) publish(ctx context.Context, businessID, topic, dbID, status string) {
	if m.bus == nil {
		return
	}

	db, err := m.repo.GetDatabase(ctx, businessID, dbID)
	evt := databaseEvent{
		DatabaseID: dbID,
		Status:     status,
	}
	if err == nil {
		evt.CycleID = db.CycleID
		evt.StoreID = db.StoreID
	}

	payload, _ := json.Marshal(evt)
	if err := m.bus.Publish(ctx, businessID, topic, payload); err != nil {
		slog.Warn("failed to publish database event",
			"business_id", businessID,
			"topic", topic,
			"database_id", dbID,
			"error", err,
		)
	}
}
