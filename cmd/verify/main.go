// Vocilia Verify - Weekly verification cycles for customer feedback rewards.
// Copyright (c) 2026 Vocilia AB
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vocilia/verify/internal/api"
	"github.com/vocilia/verify/internal/bus"
	"github.com/vocilia/verify/internal/cache"
	"github.com/vocilia/verify/internal/cycle"
	"github.com/vocilia/verify/internal/domain"
	"github.com/vocilia/verify/internal/fraud"
	"github.com/vocilia/verify/internal/invoice"
	"github.com/vocilia/verify/internal/keywords"
	"github.com/vocilia/verify/internal/providers"
	"github.com/vocilia/verify/internal/repository"
	"github.com/vocilia/verify/internal/screening"
	"github.com/vocilia/verify/internal/verifydb"
	"github.com/vocilia/verify/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load .env if present; real environment wins.
	_ = godotenv.Load()

	cfg := loadConfig()
	setupLogger(cfg.Logging)

	slog.Info("starting vocilia verify",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Keyword detector with cached keyword sets
	detector := keywords.NewDetector(repo, cacheImpl, keywords.Config{
		SeverityCap:     cfg.Verification.SeverityCap,
		DefaultLanguage: cfg.Verification.DefaultLanguage,
		CacheTTL:        cfg.Cache.LocalTTL,
	})
	slog.Info("keyword detector initialized")

	// Fraud scorer
	scorer, err := fraud.NewScorer(fraud.DefaultWeights(), cfg.Verification.FraudThreshold)
	if err != nil {
		slog.Error("failed to initialize fraud scorer", "error", err)
		os.Exit(1)
	}
	slog.Info("fraud scorer initialized", "threshold", cfg.Verification.FraudThreshold)

	// CEL screening engine, rules loaded per business on demand
	screener, err := screening.NewEngine(func(ctx context.Context, businessID string) ([]*domain.ScreeningRule, error) {
		return repo.ListScreeningRules(ctx, businessID)
	})
	if err != nil {
		slog.Error("failed to initialize screening engine", "error", err)
		os.Exit(1)
	}
	slog.Info("screening engine initialized")

	// Invoice calculator
	calc, err := invoice.NewCalculator(cfg.Verification)
	if err != nil {
		slog.Error("failed to initialize invoice calculator", "error", err)
		os.Exit(1)
	}

	// External score providers (optional; scoring degrades without them)
	contextP, behavioralP := buildProviders(cfg.Verification)

	manager := verifydb.NewManager(repo, busImpl)

	orch, err := cycle.NewOrchestrator(cycle.Deps{
		Repo:               repo,
		Databases:          manager,
		Bus:                busImpl,
		Detector:           detector,
		Scorer:             scorer,
		Screener:           screener,
		Invoicer:           calc,
		ContextProvider:    contextP,
		BehavioralProvider: behavioralP,
		Config:             cfg.Verification,
	})
	if err != nil {
		slog.Error("failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}
	slog.Info("cycle orchestrator initialized")

	// Async worker (Pro tier)
	asyncSubmit := cfg.Tier == domain.TierPro || os.Getenv("VOCILIA_ASYNC_WORKER") == "true"
	var asyncWorker *worker.Worker
	if asyncSubmit {
		asyncWorker = worker.NewWorker(busImpl, orch)

		var businessIDs []string
		if envBusinesses := os.Getenv("VOCILIA_BUSINESSES"); envBusinesses != "" {
			for _, id := range strings.Split(envBusinesses, ",") {
				if id = strings.TrimSpace(id); id != "" {
					businessIDs = append(businessIDs, id)
				}
			}
		}

		if err := asyncWorker.Start(worker.Config{BusinessIDs: businessIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "business_count", len(businessIDs))
		}
	}

	// Deadline sweep loop
	sweepInterval := time.Duration(cfg.Verification.SweepInterval) * time.Second
	go runSweeper(ctx, orch, sweepInterval)
	slog.Info("deadline sweeper started", "interval", sweepInterval)

	// HTTP server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, orch, manager, detector, screener, Version, asyncSubmit)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("vocilia verify is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("vocilia verify shutdown complete")
}

// loadConfig builds the config from the tier default plus environment
// overrides.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("VOCILIA_TIER") == "pro" {
		cfg = domain.ProConfig()
	}

	if v := os.Getenv("VOCILIA_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("VOCILIA_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("VOCILIA_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("VOCILIA_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("VOCILIA_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("VOCILIA_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("VOCILIA_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}
	if v := os.Getenv("VOCILIA_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("VOCILIA_RATE_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = limit
		}
	}
	if os.Getenv("VOCILIA_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	if v := os.Getenv("VOCILIA_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	return cfg
}

// setupLogger installs the process-wide structured logger.
func setupLogger(cfg domain.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// buildProviders wires the HTTP score providers when their base URLs are
// configured. A nil provider drops its factor from the composite.
// buildProviders wires the external scoring providers. A URL of the form
// "static:0.9" installs a fixed-score provider for development setups.
func buildProviders(cfg domain.VerificationConfig) (domain.ContextScoreProvider, domain.BehavioralScoreProvider) {
	timeout := time.Duration(cfg.ProviderTimeout) * time.Second

	var contextP domain.ContextScoreProvider
	if url := os.Getenv("VOCILIA_CONTEXT_PROVIDER_URL"); url != "" {
		if score, ok := parseStaticProvider(url); ok {
			contextP = &providers.StaticProvider{ContextScore: score}
			slog.Info("static context provider configured", "score", score)
		} else {
			contextP = providers.NewHTTPContextProvider(url, timeout)
			slog.Info("context provider configured", "url", url)
		}
	} else {
		slog.Warn("no context provider configured, context factor disabled")
	}

	var behavioralP domain.BehavioralScoreProvider
	if url := os.Getenv("VOCILIA_BEHAVIORAL_PROVIDER_URL"); url != "" {
		if score, ok := parseStaticProvider(url); ok {
			behavioralP = &providers.StaticProvider{BehavioralScore: score}
			slog.Info("static behavioral provider configured", "score", score)
		} else {
			behavioralP = providers.NewHTTPBehavioralProvider(url, timeout)
			slog.Info("behavioral provider configured", "url", url)
		}
	} else {
		slog.Warn("no behavioral provider configured, behavioral factor disabled")
	}

	return contextP, behavioralP
}

func parseStaticProvider(url string) (float64, bool) {
	raw, ok := strings.CutPrefix(url, "static:")
	if !ok {
		return 0, false
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil || score < 0 || score > 1 {
		slog.Warn("invalid static provider score, ignoring", "value", raw)
		return 0, false
	}
	return score, true
}

// runSweeper expires overdue databases on a fixed cadence.
func runSweeper(ctx context.Context, orch *cycle.Orchestrator, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := orch.RunSweep(ctx, time.Now().UTC())
			if err != nil {
				slog.Error("deadline sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				slog.Info("deadline sweep expired databases", "count", expired)
			}
		}
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==============================================")
	fmt.Println("              VOCILIA VERIFY")
	fmt.Println("     Weekly feedback verification engine")
	fmt.Println("  ==============================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /v1/cycles                    - Open a weekly cycle")
	fmt.Println("    GET  /v1/cycles/{id}               - Get cycle by ID")
	fmt.Println("    POST /v1/cycles/{id}/cancel        - Cancel a cycle")
	fmt.Println("    GET  /v1/cycles/{id}/invoice       - Get cycle invoice")
	fmt.Println("    GET  /v1/databases/summary         - Database summary")
	fmt.Println("    POST /v1/databases/{id}/ready      - Mark export ready")
	fmt.Println("    POST /v1/databases/{id}/download   - Mark downloaded")
	fmt.Println("    POST /v1/databases/{id}/submit     - Submit decisions")
	fmt.Println("    GET  /v1/keywords                  - List red-flag keywords")
	fmt.Println("    POST /v1/keywords                  - Create a keyword")
	fmt.Println("    GET  /v1/screening-rules           - List screening rules")
	fmt.Println("    POST /v1/screening-rules           - Create a screening rule")
	fmt.Println("    GET  /v1/reviews                   - Open review queue")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println()
}
