// Package worker provides async submission processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/vocilia/verify/internal/cycle"
	"github.com/vocilia/verify/internal/domain"
)

// Worker consumes submitted verification databases from the EventBus and runs
// them through the orchestrator pipeline.
type Worker struct {
	bus  domain.EventBus
	orch *cycle.Orchestrator

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// BusinessIDs is the list of businesses to process (empty = all via the
	// global subscription).
	BusinessIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, orch *cycle.Orchestrator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		orch:   orch,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing submissions for the given businesses.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.BusinessIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, businessID := range cfg.BusinessIDs {
		if err := w.startBusinessWorker(businessID); err != nil {
			slog.Error("failed to start worker for business",
				"business_id", businessID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"business_count", len(cfg.BusinessIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes every business through a
// wildcard subscription.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.BusinessWildcard, domain.TopicDatabaseSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startBusinessWorker starts a worker for a specific business.
func (w *Worker) startBusinessWorker(businessID string) error {
	sub, err := w.bus.Subscribe(w.ctx, businessID, domain.TopicDatabaseSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processSubmission(ctx, businessID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("business worker started",
		"business_id", businessID,
		"topic", domain.TopicDatabaseSubmitted,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processSubmission(ctx, msg.BusinessID, msg)
}

// SubmissionMessage is the payload for async submission processing.
type SubmissionMessage struct {
	DatabaseID string                        `json:"databaseId"`
	BusinessID string                        `json:"businessId"`
	Decisions  []domain.VerificationDecision `json:"decisions"`
}

// processSubmission runs one submitted database through the fraud pipeline.
// The manager also publishes bare status events on the same topic when a
// submission is recorded; those carry no decisions and are skipped here.
func (w *Worker) processSubmission(ctx context.Context, businessID string, msg *domain.Message) error {
	start := time.Now()

	var subMsg SubmissionMessage
	if err := json.Unmarshal(msg.Payload, &subMsg); err != nil {
		slog.Error("failed to parse submission message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if len(subMsg.Decisions) == 0 {
		slog.Debug("skipping status event without decisions",
			"message_id", msg.ID,
			"database_id", subMsg.DatabaseID,
		)
		return nil
	}

	if subMsg.BusinessID != "" {
		businessID = subMsg.BusinessID
	}

	slog.Debug("processing submission",
		"database_id", subMsg.DatabaseID,
		"business_id", businessID,
		"decision_count", len(subMsg.Decisions),
	)

	if err := w.orch.ProcessSubmission(ctx, businessID, subMsg.DatabaseID, subMsg.Decisions); err != nil {
		slog.Error("submission processing failed",
			"database_id", subMsg.DatabaseID,
			"business_id", businessID,
			"error", err,
		)
		return err
	}

	slog.Info("submission processed async",
		"database_id", subMsg.DatabaseID,
		"business_id", businessID,
		"decision_count", len(subMsg.Decisions),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
