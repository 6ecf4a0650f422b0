// Package cycle implements the weekly verification cycle orchestrator: it
// opens cycles, fans out per-store verification databases, runs submitted
// decisions through the fraud pipeline and closes cycles with an invoice.
package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vocilia/verify/internal/domain"
	"github.com/vocilia/verify/internal/fraud"
	"github.com/vocilia/verify/internal/invoice"
	"github.com/vocilia/verify/internal/keywords"
	"github.com/vocilia/verify/internal/screening"
	"github.com/vocilia/verify/internal/tolerance"
	"github.com/vocilia/verify/internal/verifydb"
)

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Repo      domain.Repository
	Databases *verifydb.Manager
	Bus       domain.EventBus
	Detector  *keywords.Detector
	Scorer    *fraud.Scorer
	Screener  *screening.Engine
	Invoicer  *invoice.Calculator

	// External providers. Either may be nil; missing providers degrade the
	// composite instead of failing the submission.
	ContextProvider    domain.ContextScoreProvider
	BehavioralProvider domain.BehavioralScoreProvider

	Config domain.VerificationConfig
}

// Orchestrator drives the cycle state machine. All cycle-level mutations for
// one cycle are serialized through a per-cycle lock; store fan-out inside a
// cycle runs concurrently.
type Orchestrator struct {
	repo       domain.Repository
	dbs        *verifydb.Manager
	bus        domain.EventBus
	detector   *keywords.Detector
	scorer     *fraud.Scorer
	screener   *screening.Engine
	invoicer   *invoice.Calculator
	contextP   domain.ContextScoreProvider
	behavioral domain.BehavioralScoreProvider
	cfg        domain.VerificationConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOrchestrator creates an orchestrator. Repo, Databases, Scorer and
// Invoicer are required.
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	if deps.Repo == nil || deps.Databases == nil || deps.Scorer == nil || deps.Invoicer == nil {
		return nil, fmt.Errorf("%w: repo, databases, scorer and invoicer are required", domain.ErrValidation)
	}
	if deps.Config.MaxStoreWorkers <= 0 {
		deps.Config.MaxStoreWorkers = 8
	}
	if deps.Config.ProviderTimeout <= 0 {
		deps.Config.ProviderTimeout = 10
	}

	return &Orchestrator{
		repo:       deps.Repo,
		dbs:        deps.Databases,
		bus:        deps.Bus,
		detector:   deps.Detector,
		scorer:     deps.Scorer,
		screener:   deps.Screener,
		invoicer:   deps.Invoicer,
		contextP:   deps.ContextProvider,
		behavioral: deps.BehavioralProvider,
		cfg:        deps.Config,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// cycleLock returns the serialization lock for one cycle.
func (o *Orchestrator) cycleLock(cycleID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[cycleID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[cycleID] = l
	}
	return l
}

// releaseCycleLock drops a terminal cycle's lock so the map does not grow
// one entry per cycle for the life of the process. Terminal cycles reject
// every guarded mutation, so a late holder of the old mutex cannot conflict.
func (o *Orchestrator) releaseCycleLock(cycleID string) {
	o.mu.Lock()
	delete(o.locks, cycleID)
	o.mu.Unlock()
}

// TransactionInput is one collected feedback transaction handed to OpenCycle.
type TransactionInput struct {
	CustomerID     string    `json:"customerId"`
	CustomerTime   time.Time `json:"customerTime"`
	CustomerAmount float64   `json:"customerAmount"`
	FeedbackText   string    `json:"feedbackText"`
}

// StoreBatch is one store's collected transactions for the week.
type StoreBatch struct {
	StoreID      string             `json:"storeId"`
	Transactions []TransactionInput `json:"transactions"`
}

// OpenCycle creates the week's cycle and fans out one verification database
// per store. Store failures do not abort the cycle; they are collected and
// returned. A second cycle for the same week fails with ErrDuplicate.
func (o *Orchestrator) OpenCycle(ctx context.Context, businessID, weekID string, deadline time.Time, batches []StoreBatch) (*domain.VerificationCycle, []domain.StoreFailure, error) {
	if err := domain.ValidateWeekID(weekID); err != nil {
		return nil, nil, err
	}

	cycle := &domain.VerificationCycle{
		ID:         uuid.New().String(),
		BusinessID: businessID,
		WeekID:     weekID,
		Status:     domain.CycleStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.repo.CreateCycle(ctx, businessID, cycle); err != nil {
		return nil, nil, err
	}
	if err := o.repo.UpdateCycleStatus(ctx, businessID, cycle.ID, domain.CycleStatusPending, domain.CycleStatusPreparing); err != nil {
		return nil, nil, err
	}
	cycle.Status = domain.CycleStatusPreparing

	var (
		failMu   sync.Mutex
		failures []domain.StoreFailure
		totalTx  int
		totalDBs int
	)

	// Bounded fan-out across stores.
	sem := make(chan struct{}, o.cfg.MaxStoreWorkers)
	var wg sync.WaitGroup

	for _, batch := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(batch StoreBatch) {
			defer wg.Done()
			defer func() { <-sem }()

			n, err := o.prepareStore(ctx, businessID, cycle.ID, deadline, batch)
			failMu.Lock()
			defer failMu.Unlock()
			if err != nil {
				failures = append(failures, domain.StoreFailure{
					StoreID: batch.StoreID,
					Reason:  err.Error(),
				})
				return
			}
			totalDBs++
			totalTx += n
		}(batch)
	}
	wg.Wait()

	cycle.TotalDatabases = totalDBs
	cycle.TotalTransactions = totalTx
	if err := o.repo.UpdateCycleAggregates(ctx, businessID, cycle); err != nil {
		return nil, failures, err
	}

	o.publish(ctx, businessID, domain.TopicCycleOpened, map[string]any{
		"cycleId": cycle.ID,
		"weekId":  weekID,
		"stores":  totalDBs,
	})

	slog.Info("cycle opened",
		"business_id", businessID,
		"cycle_id", cycle.ID,
		"week_id", weekID,
		"databases", totalDBs,
		"transactions", totalTx,
		"store_failures", len(failures),
	)

	return cycle, failures, nil
}

// prepareStore creates one store's database and its transactions. Returns
// the transaction count.
func (o *Orchestrator) prepareStore(ctx context.Context, businessID, cycleID string, deadline time.Time, batch StoreBatch) (int, error) {
	db, err := o.dbs.Create(ctx, businessID, cycleID, batch.StoreID, deadline, len(batch.Transactions))
	if err != nil {
		return 0, err
	}

	for _, in := range batch.Transactions {
		tx := &domain.Transaction{
			ID:             uuid.New().String(),
			DatabaseID:     db.ID,
			BusinessID:     businessID,
			StoreID:        batch.StoreID,
			CustomerID:     in.CustomerID,
			CustomerTime:   in.CustomerTime,
			CustomerAmount: in.CustomerAmount,
			FeedbackText:   in.FeedbackText,
			Status:         domain.TransactionStatusPending,
			CreatedAt:      time.Now().UTC(),
		}
		if err := o.repo.CreateTransaction(ctx, businessID, tx); err != nil {
			return 0, err
		}
	}

	return len(batch.Transactions), nil
}

// MarkDatabaseReady records export artifacts, then advances the cycle to
// ready once every store database is ready.
func (o *Orchestrator) MarkDatabaseReady(ctx context.Context, businessID, dbID, csvURL, excelURL string) error {
	db, err := o.dbs.Get(ctx, businessID, dbID)
	if err != nil {
		return err
	}
	if err := o.dbs.MarkReady(ctx, businessID, dbID, csvURL, excelURL); err != nil {
		return err
	}

	lock := o.cycleLock(db.CycleID)
	lock.Lock()
	defer lock.Unlock()

	cycle, err := o.repo.GetCycle(ctx, businessID, db.CycleID)
	if err != nil {
		return err
	}

	all, err := o.dbs.ListByCycle(ctx, businessID, db.CycleID)
	if err != nil {
		return err
	}

	prepared := 0
	for _, d := range all {
		if d.Status != domain.DatabaseStatusPreparing {
			prepared++
		}
	}
	cycle.PreparedDatabases = prepared
	if err := o.repo.UpdateCycleAggregates(ctx, businessID, cycle); err != nil {
		return err
	}

	if prepared == cycle.TotalDatabases && cycle.Status == domain.CycleStatusPreparing {
		return o.repo.UpdateCycleStatus(ctx, businessID, cycle.ID, domain.CycleStatusPreparing, domain.CycleStatusReady)
	}
	return nil
}

// MarkDatabaseDownloaded records a business export download.
func (o *Orchestrator) MarkDatabaseDownloaded(ctx context.Context, businessID, dbID string) error {
	return o.dbs.MarkDownloaded(ctx, businessID, dbID)
}

// ProcessSubmission ingests a business's verification decisions for one
// database and runs every claimed-legitimate transaction through the fraud
// pipeline. The database ends processed; the cycle completes when this was
// the last open database.
func (o *Orchestrator) ProcessSubmission(ctx context.Context, businessID, dbID string, decisions []domain.VerificationDecision) error {
	db, err := o.dbs.Get(ctx, businessID, dbID)
	if err != nil {
		return err
	}

	txs, err := o.repo.ListTransactionsByDatabase(ctx, businessID, dbID)
	if err != nil {
		return err
	}

	// Every decision must name a transaction in this database. Rejected
	// before any state changes so a typo'd submission can be corrected and
	// resent whole.
	known := make(map[string]bool, len(txs))
	for _, tx := range txs {
		known[tx.ID] = true
	}
	var unknown []string
	for i := range decisions {
		if !known[decisions[i].TransactionID] {
			unknown = append(unknown, decisions[i].TransactionID)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: decisions reference unknown transactions %s", domain.ErrValidation, strings.Join(unknown, ", "))
	}

	if err := o.dbs.RecordSubmission(ctx, businessID, dbID, time.Now().UTC()); err != nil {
		return err
	}

	// First submission of the cycle moves it to in_progress.
	lock := o.cycleLock(db.CycleID)
	lock.Lock()
	if err := o.repo.UpdateCycleStatus(ctx, businessID, db.CycleID, domain.CycleStatusReady, domain.CycleStatusInProgress); err != nil && !errors.Is(err, domain.ErrInvalidStateTransition) {
		lock.Unlock()
		return err
	}
	lock.Unlock()

	byTx := make(map[string]*domain.VerificationDecision, len(decisions))
	for i := range decisions {
		byTx[decisions[i].TransactionID] = &decisions[i]
	}

	var verified, fake, unverified int
	for _, tx := range txs {
		decision, ok := byTx[tx.ID]
		if !ok {
			// No decision: the transaction stays pending.
			unverified++
			continue
		}

		status, err := o.processDecision(ctx, businessID, db, tx, decision)
		if err != nil {
			return fmt.Errorf("transaction %s: %w", tx.ID, err)
		}

		switch status {
		case domain.TransactionStatusVerified:
			verified++
		case domain.TransactionStatusRejected:
			fake++
		default:
			unverified++
		}
	}

	if err := o.dbs.UpdateVerificationCounts(ctx, businessID, dbID, verified, fake, unverified); err != nil {
		return err
	}
	if err := o.dbs.MarkProcessed(ctx, businessID, dbID); err != nil {
		return err
	}

	slog.Info("submission processed",
		"business_id", businessID,
		"database_id", dbID,
		"verified", verified,
		"fake", fake,
		"unverified", unverified,
	)

	if err := o.refreshCycleAggregates(ctx, businessID, db.CycleID); err != nil {
		return err
	}
	_, err = o.CompleteCycleIfDone(ctx, businessID, db.CycleID)
	return err
}

// processDecision scores one transaction and persists its outcome. Returns
// the resulting transaction status; pending means routed to manual review or
// left unverified.
func (o *Orchestrator) processDecision(ctx context.Context, businessID string, db *domain.VerificationDatabase, tx *domain.Transaction, decision *domain.VerificationDecision) (domain.TransactionStatus, error) {
	// The business's own verdict is authoritative for fakes.
	if !decision.IsLegitimate {
		if err := o.repo.UpdateTransactionVerification(ctx, businessID, tx.ID, domain.TransactionStatusRejected, decision.ActualAmount, decision.ActualTime); err != nil {
			return "", err
		}
		return domain.TransactionStatusRejected, nil
	}

	assessment := &domain.FraudAssessment{
		ID:            uuid.New().String(),
		BusinessID:    businessID,
		TransactionID: tx.ID,
		DatabaseID:    db.ID,
		CreatedAt:     time.Now().UTC(),
	}

	factors := make(map[fraud.Factor]float64)
	var reviewReasons []string
	var amountDelta, timeDelta float64

	// Transaction factor: tolerance reconciliation against the POS record.
	if decision.ActualAmount != nil && decision.ActualTime != nil {
		match, err := tolerance.Match(tx.CustomerTime, tx.CustomerAmount, *decision.ActualTime, *decision.ActualAmount)
		if err != nil {
			return "", err
		}
		amountDelta = match.AmountDelta
		timeDelta = match.TimeDeltaMinutes

		if !match.IsMatch {
			// Outside the tolerance window: fake regardless of other factors.
			assessment.TransactionScore = 0
			assessment.Composite = 0
			if err := o.repo.SaveAssessment(ctx, businessID, assessment); err != nil {
				return "", err
			}
			if err := o.repo.UpdateTransactionVerification(ctx, businessID, tx.ID, domain.TransactionStatusRejected, decision.ActualAmount, decision.ActualTime); err != nil {
				return "", err
			}
			return domain.TransactionStatusRejected, nil
		}

		factors[fraud.FactorTransaction] = match.Confidence
		assessment.TransactionScore = match.Confidence
	} else {
		reviewReasons = append(reviewReasons, "no POS record provided")
	}

	// Keyword factor: red-flag severity inverted to cleanliness.
	if o.detector != nil {
		scan, err := o.detector.Scan(ctx, businessID, tx.FeedbackText, "")
		if err != nil {
			slog.Warn("keyword scan failed",
				"business_id", businessID,
				"transaction_id", tx.ID,
				"error", err,
			)
			reviewReasons = append(reviewReasons, "keyword scan unavailable")
		} else {
			factors[fraud.FactorKeyword] = 1.0 - scan.Score
			assessment.KeywordScore = 1.0 - scan.Score
		}
	}

	// External providers, each under its own timeout.
	if o.contextP != nil {
		score, err := o.callContext(ctx, tx)
		if err != nil {
			slog.Warn("context provider failed",
				"business_id", businessID,
				"transaction_id", tx.ID,
				"error", err,
			)
			reviewReasons = append(reviewReasons, "context provider unavailable")
		} else {
			factors[fraud.FactorContext] = score
			assessment.ContextScore = score
		}
	}

	if o.behavioral != nil {
		score, err := o.callBehavioral(ctx, businessID, tx.CustomerID)
		if err != nil {
			slog.Warn("behavioral provider failed",
				"business_id", businessID,
				"transaction_id", tx.ID,
				"error", err,
			)
			reviewReasons = append(reviewReasons, "behavioral provider unavailable")
		} else {
			factors[fraud.FactorBehavioral] = score
			assessment.BehavioralScore = score
		}
	}

	result, err := o.scorer.ScorePartial(factors)
	if err != nil {
		// Too few factors to score at all: manual review.
		assessment.Degraded = true
		assessment.ReviewReason = joinReasons(reviewReasons)
		if err := o.repo.SaveAssessment(ctx, businessID, assessment); err != nil {
			return "", err
		}
		if err := o.queueReview(ctx, businessID, db.ID, tx.ID, assessment.ReviewReason); err != nil {
			return "", err
		}
		return domain.TransactionStatusPending, nil
	}

	assessment.Composite = result.Composite
	assessment.Passed = result.Passed
	assessment.Degraded = result.Degraded

	// Per-business screening rules run over the scored transaction.
	outcome := domain.OutcomeApprove
	if o.screener != nil {
		_, decisive, err := o.screener.Evaluate(ctx, businessID, &screening.Input{
			TxID:             tx.ID,
			Amount:           tx.CustomerAmount,
			AmountDelta:      amountDelta,
			TimeDeltaMinutes: timeDelta,
			Composite:        result.Composite,
			ContextScore:     assessment.ContextScore,
			KeywordScore:     assessment.KeywordScore,
			BehavioralScore:  assessment.BehavioralScore,
			TransactionScore: assessment.TransactionScore,
		})
		if err != nil {
			return "", err
		}
		outcome = decisive
	}

	var status domain.TransactionStatus
	switch {
	case outcome == domain.OutcomeReject:
		status = domain.TransactionStatusRejected
	case outcome == domain.OutcomeReview || result.Degraded:
		status = domain.TransactionStatusPending
		if result.Degraded {
			reviewReasons = append(reviewReasons, "degraded composite")
		} else {
			reviewReasons = append(reviewReasons, "screening rule review")
		}
		assessment.ReviewReason = joinReasons(reviewReasons)
		if err := o.queueReview(ctx, businessID, db.ID, tx.ID, assessment.ReviewReason); err != nil {
			return "", err
		}
	case result.Passed:
		status = domain.TransactionStatusVerified
	default:
		status = domain.TransactionStatusRejected
	}

	if err := o.repo.SaveAssessment(ctx, businessID, assessment); err != nil {
		return "", err
	}
	if status != domain.TransactionStatusPending {
		if err := o.repo.UpdateTransactionVerification(ctx, businessID, tx.ID, status, decision.ActualAmount, decision.ActualTime); err != nil {
			return "", err
		}
	}

	return status, nil
}

func (o *Orchestrator) callContext(ctx context.Context, tx *domain.Transaction) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.ProviderTimeout)*time.Second)
	defer cancel()

	return o.contextP.GetContextScore(callCtx, tx.FeedbackText, domain.TransactionMeta{
		TransactionID: tx.ID,
		StoreID:       tx.StoreID,
		CustomerID:    tx.CustomerID,
		Amount:        tx.CustomerAmount,
		Timestamp:     tx.CustomerTime,
	})
}

func (o *Orchestrator) callBehavioral(ctx context.Context, businessID, customerID string) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.ProviderTimeout)*time.Second)
	defer cancel()

	return o.behavioral.GetBehavioralScore(callCtx, businessID, customerID)
}

func (o *Orchestrator) queueReview(ctx context.Context, businessID, dbID, txID, reason string) error {
	return o.repo.CreateReviewItem(ctx, businessID, &domain.ReviewItem{
		ID:            uuid.New().String(),
		BusinessID:    businessID,
		TransactionID: txID,
		DatabaseID:    dbID,
		Reason:        reason,
		CreatedAt:     time.Now().UTC(),
	})
}

// refreshCycleAggregates recomputes the cycle's counters from its databases.
func (o *Orchestrator) refreshCycleAggregates(ctx context.Context, businessID, cycleID string) error {
	lock := o.cycleLock(cycleID)
	lock.Lock()
	defer lock.Unlock()

	cycle, err := o.repo.GetCycle(ctx, businessID, cycleID)
	if err != nil {
		return err
	}
	dbs, err := o.dbs.ListByCycle(ctx, businessID, cycleID)
	if err != nil {
		return err
	}

	cycle.PreparedDatabases = 0
	cycle.SubmittedDatabases = 0
	cycle.VerifiedTransactions = 0
	cycle.FakeTransactions = 0
	for _, d := range dbs {
		if d.Status != domain.DatabaseStatusPreparing {
			cycle.PreparedDatabases++
		}
		if d.SubmittedAt != nil {
			cycle.SubmittedDatabases++
		}
		cycle.VerifiedTransactions += d.VerifiedCount
		cycle.FakeTransactions += d.FakeCount
	}

	return o.repo.UpdateCycleAggregates(ctx, businessID, cycle)
}

// CompleteCycleIfDone closes the cycle once every database reached a
// terminal state: it builds and stores the invoice, updates money
// aggregates and publishes completion. Returns true when the cycle
// completed in this call.
func (o *Orchestrator) CompleteCycleIfDone(ctx context.Context, businessID, cycleID string) (bool, error) {
	lock := o.cycleLock(cycleID)
	lock.Lock()
	defer lock.Unlock()

	cycle, err := o.repo.GetCycle(ctx, businessID, cycleID)
	if err != nil {
		return false, err
	}
	if cycle.Status.IsTerminal() {
		return false, nil
	}

	dbs, err := o.dbs.ListByCycle(ctx, businessID, cycleID)
	if err != nil {
		return false, err
	}
	for _, d := range dbs {
		if !d.Status.IsTerminal() {
			return false, nil
		}
	}

	inv, err := o.buildInvoice(ctx, businessID, cycle, dbs)
	if err != nil {
		return false, err
	}

	if err := o.repo.SaveInvoice(ctx, businessID, inv); err != nil && !errors.Is(err, domain.ErrDuplicate) {
		return false, err
	}

	cycle.TotalRewards = inv.Subtotal
	cycle.TotalInvoice = inv.Total
	if err := o.repo.UpdateCycleAggregates(ctx, businessID, cycle); err != nil {
		return false, err
	}

	// Cycles whose databases all expired may still sit in ready.
	if cycle.Status == domain.CycleStatusReady {
		if err := o.repo.UpdateCycleStatus(ctx, businessID, cycleID, domain.CycleStatusReady, domain.CycleStatusInProgress); err != nil {
			return false, err
		}
		cycle.Status = domain.CycleStatusInProgress
	}
	if err := o.repo.UpdateCycleStatus(ctx, businessID, cycleID, domain.CycleStatusInProgress, domain.CycleStatusCompleted); err != nil {
		return false, err
	}

	o.publish(ctx, businessID, domain.TopicCycleCompleted, map[string]any{
		"cycleId": cycleID,
		"weekId":  cycle.WeekID,
	})
	o.publish(ctx, businessID, domain.TopicInvoiceCreated, map[string]any{
		"cycleId":   cycleID,
		"invoiceId": inv.ID,
		"total":     inv.Total.String(),
	})

	slog.Info("cycle completed",
		"business_id", businessID,
		"cycle_id", cycleID,
		"week_id", cycle.WeekID,
		"rewards", inv.Subtotal.String(),
		"invoice_total", inv.Total.String(),
	)

	o.releaseCycleLock(cycleID)
	return true, nil
}

// buildInvoice collects verified transactions across all databases and runs
// them through the calculator. Fake and unverified transactions earn nothing;
// an all-expired cycle yields a zero invoice.
func (o *Orchestrator) buildInvoice(ctx context.Context, businessID string, cycle *domain.VerificationCycle, dbs []*domain.VerificationDatabase) (*domain.Invoice, error) {
	var verified []*domain.Transaction
	composites := make(map[string]float64)

	for _, d := range dbs {
		if d.Status != domain.DatabaseStatusProcessed {
			continue
		}

		txs, err := o.repo.ListTransactionsByDatabase(ctx, businessID, d.ID)
		if err != nil {
			return nil, err
		}
		assessments, err := o.repo.ListAssessmentsByDatabase(ctx, businessID, d.ID)
		if err != nil {
			return nil, err
		}

		byTx := make(map[string]float64, len(assessments))
		for _, a := range assessments {
			byTx[a.TransactionID] = a.Composite
		}

		for _, tx := range txs {
			if tx.Status != domain.TransactionStatusVerified {
				continue
			}
			verified = append(verified, tx)
			composites[tx.ID] = byTx[tx.ID]
		}
	}

	return o.invoicer.Build(businessID, cycle.ID, verified, composites)
}

// CancelCycle aborts a non-terminal cycle.
func (o *Orchestrator) CancelCycle(ctx context.Context, businessID, cycleID string) error {
	lock := o.cycleLock(cycleID)
	lock.Lock()
	defer lock.Unlock()

	cycle, err := o.repo.GetCycle(ctx, businessID, cycleID)
	if err != nil {
		return err
	}
	if !cycle.Status.CanTransition(domain.CycleStatusCancelled) {
		return fmt.Errorf("%w: cycle %s is %s", domain.ErrInvalidStateTransition, cycleID, cycle.Status)
	}
	if err := o.repo.UpdateCycleStatus(ctx, businessID, cycleID, cycle.Status, domain.CycleStatusCancelled); err != nil {
		return err
	}

	o.publish(ctx, businessID, domain.TopicCycleCancelled, map[string]any{
		"cycleId": cycleID,
		"weekId":  cycle.WeekID,
	})

	o.releaseCycleLock(cycleID)
	return nil
}

// RunSweep expires overdue databases and re-checks completion for every
// affected cycle. Returns the number of databases expired.
func (o *Orchestrator) RunSweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := o.dbs.SweepExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	// A cycle whose last open database just expired can now complete.
	seen := make(map[string]bool)
	for _, e := range expired {
		key := e.BusinessID + ":" + e.CycleID
		if seen[key] {
			continue
		}
		seen[key] = true

		if err := o.refreshCycleAggregates(ctx, e.BusinessID, e.CycleID); err != nil {
			slog.Error("failed to refresh cycle after expiry",
				"business_id", e.BusinessID,
				"cycle_id", e.CycleID,
				"error", err,
			)
			continue
		}
		if _, err := o.CompleteCycleIfDone(ctx, e.BusinessID, e.CycleID); err != nil {
			slog.Error("failed to complete cycle after expiry",
				"business_id", e.BusinessID,
				"cycle_id", e.CycleID,
				"error", err,
			)
		}
	}

	return len(expired), nil
}

func (o *Orchestrator) publish(ctx context.Context, businessID, topic string, payload map[string]any) {
	if o.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	if err := o.bus.Publish(ctx, businessID, topic, data); err != nil {
		slog.Warn("failed to publish cycle event",
			"business_id", businessID,
			"topic", topic,
			"error", err,
		)
	}
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "manual review required"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}
