package domain

import "time"

// Config holds the complete verification service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure choices
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Pipeline tuning
	Verification VerificationConfig `json:"verification"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// VerificationConfig holds fraud-pipeline tuning.
type VerificationConfig struct {
	// FraudThreshold is the composite score at or above which a transaction
	// is classified legitimate.
	FraudThreshold float64 `json:"fraudThreshold"`

	// SeverityCap is the keyword severity sum at which the red-flag score
	// saturates at 1.0.
	SeverityCap int `json:"severityCap"`

	// DefaultLanguage is the keyword set used when a feedback language has
	// no keywords of its own.
	DefaultLanguage string `json:"defaultLanguage"`

	// Reward band, percent of purchase amount.
	RewardMinPercent float64 `json:"rewardMinPercent"`
	RewardMaxPercent float64 `json:"rewardMaxPercent"`

	// AdminFeePercent is charged on top of the reward subtotal.
	AdminFeePercent float64 `json:"adminFeePercent"`

	// MaxStoreWorkers bounds per-cycle store fan-out parallelism.
	MaxStoreWorkers int `json:"maxStoreWorkers"`

	// ProviderTimeout bounds each external scoring call, seconds.
	ProviderTimeout int `json:"providerTimeout"`

	// SweepInterval is the deadline sweep cadence, seconds.
	SweepInterval int `json:"sweepInterval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// Per-business write request budget per window. Zero disables limiting.
	RateLimit       int `json:"rateLimit"`
	RateLimitWindow int `json:"rateLimitWindow"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + local LRU.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30,
			WriteTimeout:    30,
			RateLimit:       0,
			RateLimitWindow: 60,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./vocilia.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Verification: VerificationConfig{
			FraudThreshold:   0.70,
			SeverityCap:      10,
			DefaultLanguage:  "sv",
			RewardMinPercent: 2.0,
			RewardMaxPercent: 15.0,
			AdminFeePercent:  20.0,
			MaxStoreWorkers:  8,
			ProviderTimeout:  10,
			SweepInterval:    300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "vocilia-verify",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Server.RateLimit = 600
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "vocilia",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
