package worker

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/vocilia/verify/internal/bus"
	"github.com/vocilia/verify/internal/cycle"
	"github.com/vocilia/verify/internal/domain"
	"github.com/vocilia/verify/internal/fraud"
	"github.com/vocilia/verify/internal/invoice"
	"github.com/vocilia/verify/internal/keywords"
	"github.com/vocilia/verify/internal/providers"
	"github.com/vocilia/verify/internal/repository"
	"github.com/vocilia/verify/internal/screening"
	"github.com/vocilia/verify/internal/verifydb"
)

func newTestPipeline(t *testing.T, eventBus domain.EventBus) (*cycle.Orchestrator, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "vocilia-worker-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cfg := domain.DefaultConfig().Verification

	detector := keywords.NewDetector(repo, nil, keywords.Config{})
	scorer, err := fraud.NewScorer(fraud.DefaultWeights(), cfg.FraudThreshold)
	if err != nil {
		t.Fatalf("failed to create scorer: %v", err)
	}
	screener, err := screening.NewEngine(func(ctx context.Context, businessID string) ([]*domain.ScreeningRule, error) {
		return repo.ListScreeningRules(ctx, businessID)
	})
	if err != nil {
		t.Fatalf("failed to create screening engine: %v", err)
	}
	calc, err := invoice.NewCalculator(cfg)
	if err != nil {
		t.Fatalf("failed to create calculator: %v", err)
	}

	static := &providers.StaticProvider{ContextScore: 0.9, BehavioralScore: 0.9}

	orch, err := cycle.NewOrchestrator(cycle.Deps{
		Repo:               repo,
		Databases:          verifydb.NewManager(repo, eventBus),
		Bus:                eventBus,
		Detector:           detector,
		Scorer:             scorer,
		Screener:           screener,
		Invoicer:           calc,
		ContextProvider:    static,
		BehavioralProvider: static,
		Config:             cfg,
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	return orch, repo
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	orch, repo := newTestPipeline(t, eventBus)
	ctx := context.Background()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, orch)

		err := w.Start(Config{BusinessIDs: []string{"biz-001"}})
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessSubmission", func(t *testing.T) {
		businessID := "biz-async"
		now := time.Now().UTC()

		c, _, err := orch.OpenCycle(ctx, businessID, "2026-W35", now.Add(24*time.Hour), []cycle.StoreBatch{
			{StoreID: "store-001", Transactions: []cycle.TransactionInput{
				{CustomerID: "cust-1", CustomerTime: now, CustomerAmount: 100, FeedbackText: "bra service"},
			}},
		})
		if err != nil {
			t.Fatalf("OpenCycle failed: %v", err)
		}

		dbs, _ := repo.ListDatabasesByCycle(ctx, businessID, c.ID)
		dbID := dbs[0].ID
		if err := orch.MarkDatabaseReady(ctx, businessID, dbID, "", ""); err != nil {
			t.Fatalf("MarkDatabaseReady failed: %v", err)
		}
		if err := orch.MarkDatabaseDownloaded(ctx, businessID, dbID); err != nil {
			t.Fatalf("MarkDatabaseDownloaded failed: %v", err)
		}

		w := NewWorker(eventBus, orch)
		if err := w.Start(Config{BusinessIDs: []string{businessID}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		// Allow the subscription to be active before publishing.
		time.Sleep(50 * time.Millisecond)

		txs, _ := repo.ListTransactionsByDatabase(ctx, businessID, dbID)
		amount := txs[0].CustomerAmount
		at := txs[0].CustomerTime
		msg := SubmissionMessage{
			DatabaseID: dbID,
			BusinessID: businessID,
			Decisions: []domain.VerificationDecision{
				{TransactionID: txs[0].ID, IsLegitimate: true, ActualAmount: &amount, ActualTime: &at},
			},
		}

		payload, _ := json.Marshal(msg)
		if err := eventBus.Publish(ctx, businessID, domain.TopicDatabaseSubmitted, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for the pipeline to run.
		deadline := time.Now().Add(2 * time.Second)
		for {
			db, err := repo.GetDatabase(ctx, businessID, dbID)
			if err != nil {
				t.Fatalf("GetDatabase failed: %v", err)
			}
			if db.Status == domain.DatabaseStatusProcessed {
				if db.VerifiedCount != 1 {
					t.Errorf("expected 1 verified, got %d", db.VerifiedCount)
				}
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("database never reached processed, status %s", db.Status)
			}
			time.Sleep(20 * time.Millisecond)
		}
	})

	t.Run("GlobalModeReceivesEveryBusiness", func(t *testing.T) {
		businessID := "biz-global"
		now := time.Now().UTC()

		c, _, err := orch.OpenCycle(ctx, businessID, "2026-W36", now.Add(24*time.Hour), []cycle.StoreBatch{
			{StoreID: "store-001", Transactions: []cycle.TransactionInput{
				{CustomerID: "cust-1", CustomerTime: now, CustomerAmount: 80, FeedbackText: "snabb kassa"},
			}},
		})
		if err != nil {
			t.Fatalf("OpenCycle failed: %v", err)
		}

		dbs, _ := repo.ListDatabasesByCycle(ctx, businessID, c.ID)
		dbID := dbs[0].ID
		if err := orch.MarkDatabaseReady(ctx, businessID, dbID, "", ""); err != nil {
			t.Fatalf("MarkDatabaseReady failed: %v", err)
		}
		if err := orch.MarkDatabaseDownloaded(ctx, businessID, dbID); err != nil {
			t.Fatalf("MarkDatabaseDownloaded failed: %v", err)
		}

		// No business list: the worker must still see this business's
		// submissions through the wildcard subscription.
		w := NewWorker(eventBus, orch)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 wildcard subscription, got %d", stats.SubscriptionCount)
		}

		time.Sleep(50 * time.Millisecond)

		txs, _ := repo.ListTransactionsByDatabase(ctx, businessID, dbID)
		amount := txs[0].CustomerAmount
		at := txs[0].CustomerTime
		payload, _ := json.Marshal(SubmissionMessage{
			DatabaseID: dbID,
			BusinessID: businessID,
			Decisions: []domain.VerificationDecision{
				{TransactionID: txs[0].ID, IsLegitimate: true, ActualAmount: &amount, ActualTime: &at},
			},
		})
		if err := eventBus.Publish(ctx, businessID, domain.TopicDatabaseSubmitted, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		deadline := time.Now().Add(2 * time.Second)
		for {
			db, err := repo.GetDatabase(ctx, businessID, dbID)
			if err != nil {
				t.Fatalf("GetDatabase failed: %v", err)
			}
			if db.Status == domain.DatabaseStatusProcessed {
				if db.VerifiedCount != 1 {
					t.Errorf("expected 1 verified, got %d", db.VerifiedCount)
				}
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("database never reached processed, status %s", db.Status)
			}
			time.Sleep(20 * time.Millisecond)
		}
	})

	t.Run("SkipsStatusEvents", func(t *testing.T) {
		businessID := "biz-status"

		w := NewWorker(eventBus, orch)
		if err := w.Start(Config{BusinessIDs: []string{businessID}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		// The manager's audit events carry no decisions; the worker must not
		// try to process them.
		payload, _ := json.Marshal(map[string]any{
			"databaseId": "db-unknown",
			"status":     "submitted",
		})
		if err := eventBus.Publish(ctx, businessID, domain.TopicDatabaseSubmitted, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		time.Sleep(100 * time.Millisecond)
	})

	t.Run("MultiBusiness", func(t *testing.T) {
		w := NewWorker(eventBus, orch)

		if err := w.Start(Config{BusinessIDs: []string{"biz-a", "biz-b"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 businesses, got %d", stats.SubscriptionCount)
		}
	})
}

func TestSubmissionMessageParsing(t *testing.T) {
	amount := 123.45
	at := time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC)
	msg := SubmissionMessage{
		DatabaseID: "db-123",
		BusinessID: "biz-001",
		Decisions: []domain.VerificationDecision{
			{TransactionID: "tx-001", IsLegitimate: true, ActualAmount: &amount, ActualTime: &at},
			{TransactionID: "tx-002", IsLegitimate: false},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed SubmissionMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.DatabaseID != msg.DatabaseID {
		t.Errorf("expected DatabaseID '%s', got '%s'", msg.DatabaseID, parsed.DatabaseID)
	}
	if len(parsed.Decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(parsed.Decisions))
	}
	if parsed.Decisions[0].ActualAmount == nil || *parsed.Decisions[0].ActualAmount != amount {
		t.Errorf("actual amount lost in round trip")
	}
	if parsed.Decisions[1].ActualAmount != nil {
		t.Errorf("expected nil actual amount for fake decision")
	}
}
