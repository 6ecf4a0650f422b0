package cycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vocilia/verify/internal/bus"
	"github.com/vocilia/verify/internal/cache"
	"github.com/vocilia/verify/internal/domain"
	"github.com/vocilia/verify/internal/fraud"
	"github.com/vocilia/verify/internal/invoice"
	"github.com/vocilia/verify/internal/keywords"
	"github.com/vocilia/verify/internal/providers"
	"github.com/vocilia/verify/internal/repository"
	"github.com/vocilia/verify/internal/screening"
	"github.com/vocilia/verify/internal/verifydb"
)

type testEnv struct {
	orch *Orchestrator
	repo domain.Repository
}

func newTestEnv(t *testing.T, contextScore, behavioralScore float64) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "vocilia-cycle-*.db")
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

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	cfg := domain.DefaultConfig().Verification

	detector := keywords.NewDetector(
		repo,
		cache.NewLRUCache(100),
		keywords.Config{SeverityCap: cfg.SeverityCap, DefaultLanguage: cfg.DefaultLanguage, CacheTTL: time.Minute},
	)

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

	static := &providers.StaticProvider{ContextScore: contextScore, BehavioralScore: behavioralScore}

	orch, err := NewOrchestrator(Deps{
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

	return &testEnv{orch: orch, repo: repo}
}

func legitDecisions(txs []*domain.Transaction) []domain.VerificationDecision {
	out := make([]domain.VerificationDecision, 0, len(txs))
	for _, tx := range txs {
		amount := tx.CustomerAmount
		at := tx.CustomerTime
		out = append(out, domain.VerificationDecision{
			TransactionID: tx.ID,
			IsLegitimate:  true,
			ActualAmount:  &amount,
			ActualTime:    &at,
		})
	}
	return out
}

func TestOpenCycle(t *testing.T) {
	env := newTestEnv(t, 0.9, 0.9)
	ctx := context.Background()
	businessID := "biz-001"
	deadline := time.Now().UTC().Add(5 * 24 * time.Hour)
	now := time.Now().UTC()

	batches := []StoreBatch{
		{StoreID: "store-001", Transactions: []TransactionInput{
			{CustomerID: "cust-1", CustomerTime: now, CustomerAmount: 100, FeedbackText: "bra service"},
			{CustomerID: "cust-2", CustomerTime: now, CustomerAmount: 50, FeedbackText: "trevligt"},
		}},
		{StoreID: "store-002", Transactions: []TransactionInput{
			{CustomerID: "cust-3", CustomerTime: now, CustomerAmount: 75, FeedbackText: "ok"},
		}},
	}

	cycle, failures, err := env.orch.OpenCycle(ctx, businessID, "2026-W35", deadline, batches)
	if err != nil {
		t.Fatalf("OpenCycle failed: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("expected no store failures, got %v", failures)
	}
	if cycle.TotalDatabases != 2 {
		t.Errorf("expected 2 databases, got %d", cycle.TotalDatabases)
	}
	if cycle.TotalTransactions != 3 {
		t.Errorf("expected 3 transactions, got %d", cycle.TotalTransactions)
	}
	if cycle.Status != domain.CycleStatusPreparing {
		t.Errorf("expected preparing, got %s", cycle.Status)
	}

	t.Run("DuplicateWeek", func(t *testing.T) {
		_, _, err := env.orch.OpenCycle(ctx, businessID, "2026-W35", deadline, nil)
		if !errors.Is(err, domain.ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("InvalidWeekID", func(t *testing.T) {
		_, _, err := env.orch.OpenCycle(ctx, businessID, "week-35", deadline, nil)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestFullCycleFlow(t *testing.T) {
	env := newTestEnv(t, 0.9, 0.9)
	ctx := context.Background()
	businessID := "biz-001"
	deadline := time.Now().UTC().Add(24 * time.Hour)
	now := time.Now().UTC()

	cycle, _, err := env.orch.OpenCycle(ctx, businessID, "2026-W35", deadline, []StoreBatch{
		{StoreID: "store-001", Transactions: []TransactionInput{
			{CustomerID: "cust-1", CustomerTime: now, CustomerAmount: 100, FeedbackText: "mycket bra service"},
			{CustomerID: "cust-2", CustomerTime: now, CustomerAmount: 200, FeedbackText: "snabb kassa"},
		}},
		{StoreID: "store-002", Transactions: []TransactionInput{
			{CustomerID: "cust-3", CustomerTime: now, CustomerAmount: 60, FeedbackText: "helt ok"},
		}},
	})
	if err != nil {
		t.Fatalf("OpenCycle failed: %v", err)
	}

	dbs, err := env.repo.ListDatabasesByCycle(ctx, businessID, cycle.ID)
	if err != nil {
		t.Fatalf("ListDatabasesByCycle failed: %v", err)
	}
	if len(dbs) != 2 {
		t.Fatalf("expected 2 databases, got %d", len(dbs))
	}

	// Exports become ready; the cycle follows.
	for _, d := range dbs {
		if err := env.orch.MarkDatabaseReady(ctx, businessID, d.ID, "s3://csv", "s3://xlsx"); err != nil {
			t.Fatalf("MarkDatabaseReady failed: %v", err)
		}
	}

	got, err := env.repo.GetCycle(ctx, businessID, cycle.ID)
	if err != nil {
		t.Fatalf("GetCycle failed: %v", err)
	}
	if got.Status != domain.CycleStatusReady {
		t.Errorf("expected ready after all databases ready, got %s", got.Status)
	}

	var storeA, storeB *domain.VerificationDatabase
	for _, d := range dbs {
		if d.StoreID == "store-001" {
			storeA = d
		} else {
			storeB = d
		}
	}

	// Store A submits clean legitimate decisions with matching POS records.
	txsA, err := env.repo.ListTransactionsByDatabase(ctx, businessID, storeA.ID)
	if err != nil {
		t.Fatalf("ListTransactionsByDatabase failed: %v", err)
	}
	if err := env.orch.MarkDatabaseDownloaded(ctx, businessID, storeA.ID); err != nil {
		t.Fatalf("MarkDatabaseDownloaded failed: %v", err)
	}
	if err := env.orch.ProcessSubmission(ctx, businessID, storeA.ID, legitDecisions(txsA)); err != nil {
		t.Fatalf("ProcessSubmission failed: %v", err)
	}

	dbA, err := env.repo.GetDatabase(ctx, businessID, storeA.ID)
	if err != nil {
		t.Fatalf("GetDatabase failed: %v", err)
	}
	if dbA.Status != domain.DatabaseStatusProcessed {
		t.Errorf("expected processed, got %s", dbA.Status)
	}
	if dbA.VerifiedCount != 2 {
		t.Errorf("expected 2 verified, got %d", dbA.VerifiedCount)
	}

	got, _ = env.repo.GetCycle(ctx, businessID, cycle.ID)
	if got.Status != domain.CycleStatusInProgress {
		t.Errorf("expected in_progress after first submission, got %s", got.Status)
	}

	// Store B never submits; its deadline passes and the sweep closes out
	// the cycle.
	expired, err := env.orch.RunSweep(ctx, time.Now().UTC().Add(48*time.Hour))
	if err != nil {
		t.Fatalf("RunSweep failed: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired database, got %d", expired)
	}

	dbBGot, _ := env.repo.GetDatabase(ctx, businessID, storeB.ID)
	if dbBGot.Status != domain.DatabaseStatusExpired {
		t.Errorf("expected store B expired, got %s", dbBGot.Status)
	}

	got, _ = env.repo.GetCycle(ctx, businessID, cycle.ID)
	if got.Status != domain.CycleStatusCompleted {
		t.Errorf("expected completed cycle, got %s", got.Status)
	}
	if got.VerifiedTransactions != 2 {
		t.Errorf("expected 2 verified transactions, got %d", got.VerifiedTransactions)
	}

	inv, err := env.repo.GetInvoiceByCycle(ctx, businessID, cycle.ID)
	if err != nil {
		t.Fatalf("GetInvoiceByCycle failed: %v", err)
	}
	if len(inv.Lines) != 2 {
		t.Fatalf("expected 2 invoice lines, got %d", len(inv.Lines))
	}

	// composite = 0.9*0.4 + 1.0*0.2 + 0.9*0.3 + 1.0*0.1 = 0.93
	// reward = 2% + 0.93*13% = 14.09% of 300 SEK = 42.27
	subtotal := inv.Subtotal.InexactFloat64()
	if math.Abs(subtotal-42.27) > 0.02 {
		t.Errorf("expected subtotal ~42.27, got %f", subtotal)
	}
	total := inv.Total.InexactFloat64()
	if math.Abs(total-subtotal*1.20) > 0.02 {
		t.Errorf("expected 20%% admin fee, got subtotal %f total %f", subtotal, total)
	}
}

func TestProcessSubmissionOutcomes(t *testing.T) {
	env := newTestEnv(t, 0.8, 0.8)
	ctx := context.Background()
	businessID := "biz-001"
	deadline := time.Now().UTC().Add(24 * time.Hour)
	now := time.Now().UTC()

	// Red-flag keyword with maximum severity zeroes the keyword factor.
	if err := env.repo.SaveKeyword(ctx, businessID, &domain.RedFlagKeyword{
		ID:       "kw-bomb",
		Keyword:  "bomb",
		Category: domain.KeywordCategoryThreats,
		Severity: 10,
		Language: "sv",
		Active:   true,
	}); err != nil {
		t.Fatalf("SaveKeyword failed: %v", err)
	}

	cycle, _, err := env.orch.OpenCycle(ctx, businessID, "2026-W36", deadline, []StoreBatch{
		{StoreID: "store-001", Transactions: []TransactionInput{
			{CustomerID: "cust-1", CustomerTime: now, CustomerAmount: 100, FeedbackText: "bra bemötande"},
			{CustomerID: "cust-2", CustomerTime: now, CustomerAmount: 100, FeedbackText: "det ligger en bomb här"},
			{CustomerID: "cust-3", CustomerTime: now, CustomerAmount: 100, FeedbackText: "falsk transaktion"},
			{CustomerID: "cust-4", CustomerTime: now, CustomerAmount: 100, FeedbackText: "långt ifrån kassan"},
			{CustomerID: "cust-5", CustomerTime: now, CustomerAmount: 100, FeedbackText: "ingen kvittodata"},
		}},
	})
	if err != nil {
		t.Fatalf("OpenCycle failed: %v", err)
	}

	dbs, _ := env.repo.ListDatabasesByCycle(ctx, businessID, cycle.ID)
	dbID := dbs[0].ID
	if err := env.orch.MarkDatabaseReady(ctx, businessID, dbID, "", ""); err != nil {
		t.Fatalf("MarkDatabaseReady failed: %v", err)
	}
	if err := env.orch.MarkDatabaseDownloaded(ctx, businessID, dbID); err != nil {
		t.Fatalf("MarkDatabaseDownloaded failed: %v", err)
	}

	txs, _ := env.repo.ListTransactionsByDatabase(ctx, businessID, dbID)
	byCustomer := make(map[string]*domain.Transaction)
	for _, tx := range txs {
		byCustomer[tx.CustomerID] = tx
	}

	exact := func(tx *domain.Transaction) (*float64, *time.Time) {
		a := tx.CustomerAmount
		at := tx.CustomerTime
		return &a, &at
	}

	// cust-1: clean, matching POS record
	a1, t1 := exact(byCustomer["cust-1"])
	// cust-2: threat keyword saturates severity, composite drops below 0.7
	a2, t2 := exact(byCustomer["cust-2"])
	// cust-3: business says fake
	// cust-4: POS record far outside tolerance
	a4 := 150.00
	t4 := byCustomer["cust-4"].CustomerTime.Add(30 * time.Minute)
	// cust-5: no POS record at all

	decisions := []domain.VerificationDecision{
		{TransactionID: byCustomer["cust-1"].ID, IsLegitimate: true, ActualAmount: a1, ActualTime: t1},
		{TransactionID: byCustomer["cust-2"].ID, IsLegitimate: true, ActualAmount: a2, ActualTime: t2},
		{TransactionID: byCustomer["cust-3"].ID, IsLegitimate: false},
		{TransactionID: byCustomer["cust-4"].ID, IsLegitimate: true, ActualAmount: &a4, ActualTime: &t4},
		{TransactionID: byCustomer["cust-5"].ID, IsLegitimate: true},
	}

	if err := env.orch.ProcessSubmission(ctx, businessID, dbID, decisions); err != nil {
		t.Fatalf("ProcessSubmission failed: %v", err)
	}

	expect := map[string]domain.TransactionStatus{
		"cust-1": domain.TransactionStatusVerified,
		"cust-2": domain.TransactionStatusRejected, // 0.8*0.4 + 0*0.2 + 0.8*0.3 + 1.0*0.1 = 0.66 < 0.70
		"cust-3": domain.TransactionStatusRejected,
		"cust-4": domain.TransactionStatusRejected,
		"cust-5": domain.TransactionStatusPending, // degraded, routed to review
	}

	for customer, want := range expect {
		got, err := env.repo.GetTransaction(ctx, businessID, byCustomer[customer].ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.Status != want {
			t.Errorf("%s: expected %s, got %s", customer, want, got.Status)
		}
	}

	db, _ := env.repo.GetDatabase(ctx, businessID, dbID)
	if db.VerifiedCount != 1 || db.FakeCount != 3 || db.UnverifiedCount != 1 {
		t.Errorf("expected counts 1/3/1, got %d/%d/%d", db.VerifiedCount, db.FakeCount, db.UnverifiedCount)
	}

	reviews, err := env.repo.ListOpenReviewItems(ctx, businessID)
	if err != nil {
		t.Fatalf("ListOpenReviewItems failed: %v", err)
	}
	if len(reviews) != 1 {
		t.Fatalf("expected 1 review item, got %d", len(reviews))
	}
	if reviews[0].TransactionID != byCustomer["cust-5"].ID {
		t.Errorf("wrong transaction in review queue")
	}
}

// A decision naming a transaction outside the database rejects the whole
// submission before any state changes, so the business can correct and
// resend it.
func TestProcessSubmissionUnknownTransaction(t *testing.T) {
	env := newTestEnv(t, 0.9, 0.9)
	ctx := context.Background()
	businessID := "biz-001"
	deadline := time.Now().UTC().Add(24 * time.Hour)
	now := time.Now().UTC()

	cycle, _, err := env.orch.OpenCycle(ctx, businessID, "2026-W41", deadline, []StoreBatch{
		{StoreID: "store-001", Transactions: []TransactionInput{
			{CustomerID: "cust-1", CustomerTime: now, CustomerAmount: 100, FeedbackText: "bra service"},
		}},
	})
	if err != nil {
		t.Fatalf("OpenCycle failed: %v", err)
	}

	dbs, _ := env.repo.ListDatabasesByCycle(ctx, businessID, cycle.ID)
	dbID := dbs[0].ID
	if err := env.orch.MarkDatabaseReady(ctx, businessID, dbID, "", ""); err != nil {
		t.Fatalf("MarkDatabaseReady failed: %v", err)
	}
	if err := env.orch.MarkDatabaseDownloaded(ctx, businessID, dbID); err != nil {
		t.Fatalf("MarkDatabaseDownloaded failed: %v", err)
	}

	txs, _ := env.repo.ListTransactionsByDatabase(ctx, businessID, dbID)
	decisions := legitDecisions(txs)
	decisions = append(decisions, domain.VerificationDecision{
		TransactionID: "tx-typo",
		IsLegitimate:  true,
	})

	err = env.orch.ProcessSubmission(ctx, businessID, dbID, decisions)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), "tx-typo") {
		t.Errorf("expected offending transaction id in error, got %q", err.Error())
	}

	// Nothing changed: the database is still downloaded and unsubmitted.
	db, _ := env.repo.GetDatabase(ctx, businessID, dbID)
	if db.Status != domain.DatabaseStatusDownloaded {
		t.Errorf("expected database still downloaded, got %s", db.Status)
	}
	if db.SubmittedAt != nil {
		t.Error("expected no recorded submission")
	}

	// The corrected submission goes through.
	if err := env.orch.ProcessSubmission(ctx, businessID, dbID, legitDecisions(txs)); err != nil {
		t.Fatalf("corrected ProcessSubmission failed: %v", err)
	}
	db, _ = env.repo.GetDatabase(ctx, businessID, dbID)
	if db.Status != domain.DatabaseStatusProcessed {
		t.Errorf("expected processed database, got %s", db.Status)
	}
}

type unavailableContextProvider struct{}

func (p *unavailableContextProvider) GetContextScore(ctx context.Context, feedbackText string, meta domain.TransactionMeta) (float64, error) {
	return 0, fmt.Errorf("%w: context scoring service unreachable", domain.ErrExternalDependency)
}

// A failed AI-context call drops the factor: the composite re-normalizes over
// the remaining three and the transaction routes to manual review instead of
// auto-classifying.
func TestProcessSubmissionContextProviderDown(t *testing.T) {
	env := newTestEnv(t, 0.9, 0.9)
	env.orch.contextP = &unavailableContextProvider{}

	ctx := context.Background()
	businessID := "biz-001"
	deadline := time.Now().UTC().Add(24 * time.Hour)
	now := time.Now().UTC()

	cycle, _, err := env.orch.OpenCycle(ctx, businessID, "2026-W40", deadline, []StoreBatch{
		{StoreID: "store-001", Transactions: []TransactionInput{
			{CustomerID: "cust-1", CustomerTime: now, CustomerAmount: 100, FeedbackText: "mycket bra service"},
		}},
	})
	if err != nil {
		t.Fatalf("OpenCycle failed: %v", err)
	}

	dbs, _ := env.repo.ListDatabasesByCycle(ctx, businessID, cycle.ID)
	dbID := dbs[0].ID
	if err := env.orch.MarkDatabaseReady(ctx, businessID, dbID, "", ""); err != nil {
		t.Fatalf("MarkDatabaseReady failed: %v", err)
	}
	if err := env.orch.MarkDatabaseDownloaded(ctx, businessID, dbID); err != nil {
		t.Fatalf("MarkDatabaseDownloaded failed: %v", err)
	}

	txs, _ := env.repo.ListTransactionsByDatabase(ctx, businessID, dbID)
	if err := env.orch.ProcessSubmission(ctx, businessID, dbID, legitDecisions(txs)); err != nil {
		t.Fatalf("ProcessSubmission failed: %v", err)
	}

	// Never auto-verified despite a clean keyword scan and an exact POS match.
	tx, err := env.repo.GetTransaction(ctx, businessID, txs[0].ID)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if tx.Status != domain.TransactionStatusPending {
		t.Errorf("expected pending transaction, got %s", tx.Status)
	}

	reviews, err := env.repo.ListOpenReviewItems(ctx, businessID)
	if err != nil {
		t.Fatalf("ListOpenReviewItems failed: %v", err)
	}
	if len(reviews) != 1 {
		t.Fatalf("expected 1 review item, got %d", len(reviews))
	}
	if !strings.Contains(reviews[0].Reason, "context provider unavailable") {
		t.Errorf("expected provider failure in review reason, got %q", reviews[0].Reason)
	}

	assessments, err := env.repo.ListAssessmentsByDatabase(ctx, businessID, dbID)
	if err != nil {
		t.Fatalf("ListAssessmentsByDatabase failed: %v", err)
	}
	if len(assessments) != 1 {
		t.Fatalf("expected 1 assessment, got %d", len(assessments))
	}
	a := assessments[0]
	if !a.Degraded {
		t.Error("expected degraded assessment")
	}
	// (1.0*0.20 + 0.9*0.30 + 1.0*0.10) / 0.60 = 0.95
	if math.Abs(a.Composite-0.95) > 1e-6 {
		t.Errorf("expected re-normalized composite 0.95, got %.4f", a.Composite)
	}

	db, _ := env.repo.GetDatabase(ctx, businessID, dbID)
	if db.VerifiedCount != 0 || db.UnverifiedCount != 1 {
		t.Errorf("expected 0 verified / 1 unverified, got %d/%d", db.VerifiedCount, db.UnverifiedCount)
	}
}

func TestScreeningRuleReject(t *testing.T) {
	env := newTestEnv(t, 0.9, 0.9)
	ctx := context.Background()
	businessID := "biz-001"
	deadline := time.Now().UTC().Add(24 * time.Hour)
	now := time.Now().UTC()

	// Business rule: reject any transaction over 1000 SEK outright.
	upper := 1000.0
	if err := env.repo.SaveScreeningRule(ctx, businessID, &domain.ScreeningRule{
		ID:         "rule-amount",
		Name:       "large-amount",
		Version:    "1.0.0",
		Expression: "amount",
		Bands: []domain.RuleBand{
			{LowerLimit: &upper, Outcome: domain.OutcomeReject, Reason: "amount above limit"},
		},
		Enabled: true,
	}); err != nil {
		t.Fatalf("SaveScreeningRule failed: %v", err)
	}

	cycle, _, err := env.orch.OpenCycle(ctx, businessID, "2026-W37", deadline, []StoreBatch{
		{StoreID: "store-001", Transactions: []TransactionInput{
			{CustomerID: "cust-1", CustomerTime: now, CustomerAmount: 5000, FeedbackText: "stor handling"},
		}},
	})
	if err != nil {
		t.Fatalf("OpenCycle failed: %v", err)
	}

	dbs, _ := env.repo.ListDatabasesByCycle(ctx, businessID, cycle.ID)
	dbID := dbs[0].ID
	env.orch.MarkDatabaseReady(ctx, businessID, dbID, "", "")
	env.orch.MarkDatabaseDownloaded(ctx, businessID, dbID)

	txs, _ := env.repo.ListTransactionsByDatabase(ctx, businessID, dbID)
	if err := env.orch.ProcessSubmission(ctx, businessID, dbID, legitDecisions(txs)); err != nil {
		t.Fatalf("ProcessSubmission failed: %v", err)
	}

	got, _ := env.repo.GetTransaction(ctx, businessID, txs[0].ID)
	if got.Status != domain.TransactionStatusRejected {
		t.Errorf("expected screening reject, got %s", got.Status)
	}
}

func TestCancelCycle(t *testing.T) {
	env := newTestEnv(t, 0.9, 0.9)
	ctx := context.Background()
	businessID := "biz-001"

	cycle, _, err := env.orch.OpenCycle(ctx, businessID, "2026-W38", time.Now().UTC().Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("OpenCycle failed: %v", err)
	}

	if err := env.orch.CancelCycle(ctx, businessID, cycle.ID); err != nil {
		t.Fatalf("CancelCycle failed: %v", err)
	}

	got, _ := env.repo.GetCycle(ctx, businessID, cycle.ID)
	if got.Status != domain.CycleStatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}

	// Terminal cycles cannot be cancelled again.
	if err := env.orch.CancelCycle(ctx, businessID, cycle.ID); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Errorf("expected ErrInvalidStateTransition, got %v", err)
	}
}

// Locks accrue one entry per live cycle and are released once the cycle
// reaches a terminal state.
func TestCycleLockReleasedOnTerminal(t *testing.T) {
	env := newTestEnv(t, 0.9, 0.9)
	ctx := context.Background()
	businessID := "biz-001"
	deadline := time.Now().UTC().Add(24 * time.Hour)
	now := time.Now().UTC()

	lockCount := func() int {
		env.orch.mu.Lock()
		defer env.orch.mu.Unlock()
		return len(env.orch.locks)
	}

	t.Run("Cancelled", func(t *testing.T) {
		cycle, _, err := env.orch.OpenCycle(ctx, businessID, "2026-W42", deadline, nil)
		if err != nil {
			t.Fatalf("OpenCycle failed: %v", err)
		}
		if err := env.orch.CancelCycle(ctx, businessID, cycle.ID); err != nil {
			t.Fatalf("CancelCycle failed: %v", err)
		}
		if n := lockCount(); n != 0 {
			t.Errorf("expected 0 cycle locks after cancel, got %d", n)
		}
	})

	t.Run("Completed", func(t *testing.T) {
		cycle, _, err := env.orch.OpenCycle(ctx, businessID, "2026-W43", deadline, []StoreBatch{
			{StoreID: "store-001", Transactions: []TransactionInput{
				{CustomerID: "cust-1", CustomerTime: now, CustomerAmount: 100, FeedbackText: "bra service"},
			}},
		})
		if err != nil {
			t.Fatalf("OpenCycle failed: %v", err)
		}

		dbs, _ := env.repo.ListDatabasesByCycle(ctx, businessID, cycle.ID)
		dbID := dbs[0].ID
		if err := env.orch.MarkDatabaseReady(ctx, businessID, dbID, "", ""); err != nil {
			t.Fatalf("MarkDatabaseReady failed: %v", err)
		}
		if err := env.orch.MarkDatabaseDownloaded(ctx, businessID, dbID); err != nil {
			t.Fatalf("MarkDatabaseDownloaded failed: %v", err)
		}
		txs, _ := env.repo.ListTransactionsByDatabase(ctx, businessID, dbID)
		if err := env.orch.ProcessSubmission(ctx, businessID, dbID, legitDecisions(txs)); err != nil {
			t.Fatalf("ProcessSubmission failed: %v", err)
		}

		got, _ := env.repo.GetCycle(ctx, businessID, cycle.ID)
		if got.Status != domain.CycleStatusCompleted {
			t.Fatalf("expected completed cycle, got %s", got.Status)
		}
		if n := lockCount(); n != 0 {
			t.Errorf("expected 0 cycle locks after completion, got %d", n)
		}
	})
}
