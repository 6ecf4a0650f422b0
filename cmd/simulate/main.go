// Simulation tool that runs a synthetic verification week through the full
// fraud pipeline in process.
//
// Usage:
//   go run cmd/simulate/main.go -stores 5 -transactions 50 -fraud-rate 0.1
//
// This tool:
//  1. Opens a cycle for the current ISO week with synthetic feedback
//  2. Submits verification decisions per store (a slice marked fake, a slice
//     with out-of-tolerance POS records, one store never submitting)
//  3. Sweeps the non-submitting store past its deadline
//  4. Prints the resulting cycle, per-store outcomes, and the invoice
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
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

var feedbackSamples = []string{
	"mycket trevlig personal i kassan",
	"snabb service och bra utbud",
	"lite stokigt vid frukten men annars bra",
	"kassakon var lang men gick fort",
	"bra priser pa mejeri denna vecka",
	"personalen hjalpte mig hitta glutenfritt",
}

func main() {
	stores := flag.Int("stores", 3, "Number of stores in the cycle")
	txPerStore := flag.Int("transactions", 20, "Transactions per store")
	fraudRate := flag.Float64("fraud-rate", 0.10, "Share of decisions marked fake")
	mismatchRate := flag.Float64("mismatch-rate", 0.05, "Share of POS records outside tolerance")
	seed := flag.Int64("seed", 42, "Random seed")
	businessID := flag.String("business", "sim-business", "Business ID")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	rng := rand.New(rand.NewSource(*seed))
	ctx := context.Background()

	tmpFile, err := os.CreateTemp("", "vocilia-sim-*.db")
	if err != nil {
		fatal("create temp db: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		fatal("init repository: %v", err)
	}
	defer repo.Close()

	eventBus := bus.NewChannelBus(1000)
	defer eventBus.Close()

	vcfg := domain.DefaultConfig().Verification

	detector := keywords.NewDetector(repo, nil, keywords.Config{})
	scorer, err := fraud.NewScorer(fraud.DefaultWeights(), vcfg.FraudThreshold)
	if err != nil {
		fatal("init scorer: %v", err)
	}
	screener, err := screening.NewEngine(func(ctx context.Context, businessID string) ([]*domain.ScreeningRule, error) {
		return repo.ListScreeningRules(ctx, businessID)
	})
	if err != nil {
		fatal("init screening engine: %v", err)
	}
	calc, err := invoice.NewCalculator(vcfg)
	if err != nil {
		fatal("init calculator: %v", err)
	}

	static := &providers.StaticProvider{ContextScore: 0.9, BehavioralScore: 0.9}
	manager := verifydb.NewManager(repo, eventBus)

	orch, err := cycle.NewOrchestrator(cycle.Deps{
		Repo:               repo,
		Databases:          manager,
		Bus:                eventBus,
		Detector:           detector,
		Scorer:             scorer,
		Screener:           screener,
		Invoicer:           calc,
		ContextProvider:    static,
		BehavioralProvider: static,
		Config:             vcfg,
	})
	if err != nil {
		fatal("init orchestrator: %v", err)
	}

	now := time.Now().UTC()
	weekID := domain.WeekID(now)
	deadline := now.Add(5 * 24 * time.Hour)

	fmt.Println("==============================================")
	fmt.Println("        VOCILIA VERIFY - WEEK SIMULATION")
	fmt.Println("==============================================")
	fmt.Printf("Week:          %s\n", weekID)
	fmt.Printf("Stores:        %d (last one never submits)\n", *stores)
	fmt.Printf("Transactions:  %d per store\n", *txPerStore)
	fmt.Printf("Fraud rate:    %.0f%%\n", *fraudRate*100)
	fmt.Printf("Mismatch rate: %.0f%%\n", *mismatchRate*100)
	fmt.Println()

	// Build the week's batches.
	batches := make([]cycle.StoreBatch, *stores)
	for s := 0; s < *stores; s++ {
		batch := cycle.StoreBatch{StoreID: fmt.Sprintf("store-%03d", s+1)}
		for i := 0; i < *txPerStore; i++ {
			batch.Transactions = append(batch.Transactions, cycle.TransactionInput{
				CustomerID:     fmt.Sprintf("cust-%03d-%03d", s+1, i+1),
				CustomerTime:   now.Add(-time.Duration(rng.Intn(7*24)) * time.Hour),
				CustomerAmount: 20 + rng.Float64()*480,
				FeedbackText:   feedbackSamples[rng.Intn(len(feedbackSamples))],
			})
		}
		batches[s] = batch
	}

	c, failures, err := orch.OpenCycle(ctx, *businessID, weekID, deadline, batches)
	if err != nil {
		fatal("open cycle: %v", err)
	}
	if len(failures) > 0 {
		fatal("store failures: %v", failures)
	}
	fmt.Printf("Cycle %s opened: %d databases, %d transactions\n",
		c.ID, c.TotalDatabases, c.TotalTransactions)

	dbs, err := repo.ListDatabasesByCycle(ctx, *businessID, c.ID)
	if err != nil {
		fatal("list databases: %v", err)
	}

	for _, db := range dbs {
		if err := orch.MarkDatabaseReady(ctx, *businessID, db.ID, "file://"+db.StoreID+".csv", ""); err != nil {
			fatal("mark ready: %v", err)
		}
	}

	// Every store but the last downloads and submits.
	for i, db := range dbs {
		if i == len(dbs)-1 {
			continue
		}

		if err := orch.MarkDatabaseDownloaded(ctx, *businessID, db.ID); err != nil {
			fatal("mark downloaded: %v", err)
		}

		txs, err := repo.ListTransactionsByDatabase(ctx, *businessID, db.ID)
		if err != nil {
			fatal("list transactions: %v", err)
		}

		decisions := make([]domain.VerificationDecision, 0, len(txs))
		for _, tx := range txs {
			roll := rng.Float64()
			switch {
			case roll < *fraudRate:
				decisions = append(decisions, domain.VerificationDecision{
					TransactionID: tx.ID,
					IsLegitimate:  false,
				})
			case roll < *fraudRate+*mismatchRate:
				// POS record far outside the tolerance window.
				amount := tx.CustomerAmount + 50
				at := tx.CustomerTime.Add(45 * time.Minute)
				decisions = append(decisions, domain.VerificationDecision{
					TransactionID: tx.ID,
					IsLegitimate:  true,
					ActualAmount:  &amount,
					ActualTime:    &at,
				})
			default:
				// POS record inside tolerance, jittered.
				amount := tx.CustomerAmount + (rng.Float64()*2 - 1)
				at := tx.CustomerTime.Add(time.Duration(rng.Intn(180)-90) * time.Second)
				decisions = append(decisions, domain.VerificationDecision{
					TransactionID: tx.ID,
					IsLegitimate:  true,
					ActualAmount:  &amount,
					ActualTime:    &at,
				})
			}
		}

		if err := orch.ProcessSubmission(ctx, *businessID, db.ID, decisions); err != nil {
			fatal("process submission: %v", err)
		}
	}

	// The last store misses its deadline.
	expired, err := orch.RunSweep(ctx, deadline.Add(time.Hour))
	if err != nil {
		fatal("sweep: %v", err)
	}

	// Report.
	final, err := repo.GetCycle(ctx, *businessID, c.ID)
	if err != nil {
		fatal("get cycle: %v", err)
	}

	fmt.Println()
	fmt.Println("Per-store outcomes:")
	dbs, _ = repo.ListDatabasesByCycle(ctx, *businessID, c.ID)
	for _, db := range dbs {
		fmt.Printf("  %s  %-10s verified=%-4d fake=%-4d unverified=%-4d\n",
			db.StoreID, db.Status, db.VerifiedCount, db.FakeCount, db.UnverifiedCount)
	}

	reviews, _ := repo.ListOpenReviewItems(ctx, *businessID)

	fmt.Println()
	fmt.Printf("Cycle status:        %s\n", final.Status)
	fmt.Printf("Expired databases:   %d\n", expired)
	fmt.Printf("Verified:            %d\n", final.VerifiedTransactions)
	fmt.Printf("Fake:                %d\n", final.FakeTransactions)
	fmt.Printf("Open reviews:        %d\n", len(reviews))

	inv, err := repo.GetInvoiceByCycle(ctx, *businessID, c.ID)
	if err != nil {
		fatal("get invoice: %v", err)
	}
	fmt.Println()
	fmt.Printf("Invoice %s\n", inv.ID)
	fmt.Printf("  Lines:     %d\n", len(inv.Lines))
	fmt.Printf("  Subtotal:  %s SEK\n", inv.Subtotal.StringFixed(2))
	fmt.Printf("  Admin fee: %s SEK\n", inv.AdminFee.StringFixed(2))
	fmt.Printf("  Total:     %s SEK\n", inv.Total.StringFixed(2))
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}
