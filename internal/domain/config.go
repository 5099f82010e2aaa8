package domain

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// ScoringMode determines how claims are scored
	// - "rules": Detectors → Weighted Score → Alert (offline, deterministic)
	// - "hybrid": Rules + ML oracle blend + advisory verdicts (needs oracles)
	ScoringMode ScoringMode `json:"scoringMode"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Oracles    OracleConfig     `json:"oracles"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ScoringMode determines the claim scoring strategy.
type ScoringMode string

const (
	// ModeRules runs the detector set and weighted aggregation only.
	// Fully offline, deterministic, no external services required.
	ModeRules ScoringMode = "rules"

	// ModeHybrid blends rule scores with the ML oracle and routes high
	// scores through the advisory oracle for a structured verdict.
	ModeHybrid ScoringMode = "hybrid"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// OracleConfig holds settings for the external scoring oracles.
type OracleConfig struct {
	// MLBaseURL is the model service root, e.g. "http://localhost:8001".
	MLBaseURL string `json:"mlBaseUrl"`
	MLTimeout int    `json:"mlTimeout"` // seconds

	// Advisor settings (Perplexity-compatible chat completions API).
	AdvisorBaseURL string `json:"advisorBaseUrl"`
	AdvisorAPIKey  string `json:"-"`
	AdvisorModel   string `json:"advisorModel"`
	AdvisorTimeout int    `json:"advisorTimeout"` // seconds
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

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for Community tier.
// Uses Rules mode by default - offline, deterministic scoring.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:        TierCommunity,
		ScoringMode: ModeRules,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Oracles: OracleConfig{
			MLBaseURL:      "http://localhost:8001",
			MLTimeout:      10,
			AdvisorModel:   "sonar",
			AdvisorTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
// Pro tier supports both Rules and Hybrid modes.
// Set KESTREL_MODE=hybrid to enable oracle-blended scoring.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	// Pro defaults to Rules, Hybrid is available when oracles are configured
	cfg.ScoringMode = ModeRules
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
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
