// Package config loads the engine configuration from file and environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/mintarchive/provenance-cli/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig   `yaml:"store" mapstructure:"store"`
	Chains   []ChainConfig `yaml:"chains" mapstructure:"chains"`
	Scan     ScanConfig    `yaml:"scan" mapstructure:"scan"`
	Gateways GatewayConfig `yaml:"gateways" mapstructure:"gateways"`
	// StrategiesFile points at a standalone YAML file of strategy
	// definitions, merged after the inline list.
	StrategiesFile string             `yaml:"strategies_file" mapstructure:"strategies_file"`
	Strategies     []StrategyConfig   `yaml:"strategies" mapstructure:"strategies"`
	Scrape         ScrapeConfig       `yaml:"scrape" mapstructure:"scrape"`
	Validator      ValidatorConfig    `yaml:"validator" mapstructure:"validator"`
	Orchestrator   OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Breaker        BreakerConfig      `yaml:"breaker" mapstructure:"breaker"`
	Retry          RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Monitoring     MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Server         ServerConfig       `yaml:"server" mapstructure:"server"`
	Log            LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ChainConfig holds the ordered provider list for one chain.
type ChainConfig struct {
	ChainID   int64            `yaml:"chain_id" mapstructure:"chain_id"`
	Name      string           `yaml:"name" mapstructure:"name"`
	Providers []ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// ProviderConfig describes one RPC endpoint.
type ProviderConfig struct {
	ID          string  `yaml:"id" mapstructure:"id"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	Priority    int     `yaml:"priority" mapstructure:"priority"`
	AuthHeader  string  `yaml:"auth_header" mapstructure:"auth_header"`
	AuthToken   string  `yaml:"auth_token" mapstructure:"auth_token"`
	MaxInFlight int64   `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ScanConfig configures chunked log scanning.
type ScanConfig struct {
	ChunkSize      uint64 `yaml:"chunk_size" mapstructure:"chunk_size"`
	DefaultChainID int64  `yaml:"default_chain_id" mapstructure:"default_chain_id"`
	LookbackBlocks uint64 `yaml:"lookback_blocks" mapstructure:"lookback_blocks"`
	MetadataLimit  int    `yaml:"metadata_limit" mapstructure:"metadata_limit"`
}

// GatewayConfig configures content-gateway fetching.
type GatewayConfig struct {
	// Templates are tried in order; "{cid}" is replaced with the content id.
	Templates   []string `yaml:"templates" mapstructure:"templates"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBytes    int64    `yaml:"max_bytes" mapstructure:"max_bytes"`
}

// StrategyConfig declares one platform scrape strategy in the registry table.
type StrategyConfig struct {
	ID           string       `yaml:"id" mapstructure:"id"`
	Platform     string       `yaml:"platform" mapstructure:"platform"`
	HostContains string       `yaml:"host_contains" mapstructure:"host_contains"`
	Priority     int          `yaml:"priority" mapstructure:"priority"`
	Filters      FilterConfig `yaml:"filters" mapstructure:"filters"`
}

// FilterConfig holds platform-specific item inclusion/exclusion rules.
type FilterConfig struct {
	AllowSubstrings []string `yaml:"allow_substrings" mapstructure:"allow_substrings"`
	DenySubstrings  []string `yaml:"deny_substrings" mapstructure:"deny_substrings"`
	MinMediaBytes   int64    `yaml:"min_media_bytes" mapstructure:"min_media_bytes"`
	ExcludeAltWords []string `yaml:"exclude_alt_words" mapstructure:"exclude_alt_words"`
}

// ScrapeConfig bounds browser-backed scraping.
type ScrapeConfig struct {
	MaxSessions    int64  `yaml:"max_sessions" mapstructure:"max_sessions"`
	MaxScrolls     int    `yaml:"max_scrolls" mapstructure:"max_scrolls"`
	ScrollDelayMs  int    `yaml:"scroll_delay_ms" mapstructure:"scroll_delay_ms"`
	NavTimeoutSecs int    `yaml:"nav_timeout_secs" mapstructure:"nav_timeout_secs"`
	SkipKnown      bool   `yaml:"skip_known" mapstructure:"skip_known"`
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
}

// ValidatorConfig holds the extraction validator's tunables. Weights and
// thresholds are configuration on purpose: the upstream constants were chosen
// without calibration data and need to stay tunable.
type ValidatorConfig struct {
	CountWeight          float64  `yaml:"count_weight" mapstructure:"count_weight"`
	MediaWeight          float64  `yaml:"media_weight" mapstructure:"media_weight"`
	MetadataWeight       float64  `yaml:"metadata_weight" mapstructure:"metadata_weight"`
	ContaminationPenalty float64  `yaml:"contamination_penalty" mapstructure:"contamination_penalty"`
	ExpectedMinItems     int      `yaml:"expected_min_items" mapstructure:"expected_min_items"`
	AcceptThreshold      float64  `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	HardFailCodes        []string `yaml:"hard_fail_codes" mapstructure:"hard_fail_codes"`
}

// OrchestratorConfig bounds one acquisition run.
type OrchestratorConfig struct {
	StrategyTimeoutSecs  int     `yaml:"strategy_timeout_secs" mapstructure:"strategy_timeout_secs"`
	OverallTimeoutSecs   int     `yaml:"overall_timeout_secs" mapstructure:"overall_timeout_secs"`
	EarlyAcceptThreshold float64 `yaml:"early_accept_threshold" mapstructure:"early_accept_threshold"`
}

// BreakerConfig configures per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// RetryConfig configures the shared backoff policy.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Resilience converts the YAML retry block into the runtime backoff policy.
func (r RetryConfig) Resilience() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: time.Duration(r.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(r.MaxBackoffMs) * time.Millisecond,
		Multiplier:     r.Multiplier,
		JitterFraction: r.JitterFraction,
	}
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	WebhookURL                string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs         int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold      float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DegradedProviderThreshold int     `yaml:"degraded_provider_threshold" mapstructure:"degraded_provider_threshold"`
}

// ServerConfig configures the HTTP entry point.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StrategyTimeout returns the per-strategy timeout as a duration.
func (c OrchestratorConfig) StrategyTimeout() time.Duration {
	return time.Duration(c.StrategyTimeoutSecs) * time.Second
}

// OverallTimeout returns the wall-clock deadline spanning all attempts.
func (c OrchestratorConfig) OverallTimeout() time.Duration {
	return time.Duration(c.OverallTimeoutSecs) * time.Second
}

// Cooldown returns the breaker cooldown as a duration.
func (c BreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROVENANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "provenance.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("scan.chunk_size", 5000)
	v.SetDefault("scan.default_chain_id", 1)
	v.SetDefault("scan.lookback_blocks", 500000)
	v.SetDefault("scan.metadata_limit", 50)

	v.SetDefault("gateways.templates", []string{
		"https://ipfs.io/ipfs/{cid}",
		"https://cloudflare-ipfs.com/ipfs/{cid}",
		"https://dweb.link/ipfs/{cid}",
	})
	v.SetDefault("gateways.timeout_secs", 20)
	v.SetDefault("gateways.max_bytes", 1048576)

	v.SetDefault("scrape.max_sessions", 2)
	v.SetDefault("scrape.max_scrolls", 8)
	v.SetDefault("scrape.scroll_delay_ms", 400)
	v.SetDefault("scrape.nav_timeout_secs", 30)
	v.SetDefault("scrape.skip_known", false)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; ProvenanceBot/1.0)")

	v.SetDefault("validator.count_weight", 0.25)
	v.SetDefault("validator.media_weight", 0.25)
	v.SetDefault("validator.metadata_weight", 0.30)
	v.SetDefault("validator.contamination_penalty", 0.20)
	v.SetDefault("validator.expected_min_items", 10)
	v.SetDefault("validator.accept_threshold", 0.7)
	v.SetDefault("validator.hard_fail_codes", []string{"wrong-content-type"})

	v.SetDefault("orchestrator.strategy_timeout_secs", 60)
	v.SetDefault("orchestrator.overall_timeout_secs", 300)
	v.SetDefault("orchestrator.early_accept_threshold", 0.9)

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.cooldown_secs", 60)

	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.degraded_provider_threshold", 2)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.StrategiesFile != "" {
		extra, err := LoadStrategies(cfg.StrategiesFile)
		if err != nil {
			return nil, err
		}
		cfg.Strategies = append(cfg.Strategies, extra...)
	}

	return &cfg, nil
}

// LoadStrategies reads strategy definitions from a YAML file. The file holds
// either a bare list or a document with a top-level "strategies" key, so the
// relevant section of a full config file works unchanged.
func LoadStrategies(path string) ([]StrategyConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read strategies file %s", path)
	}

	var doc struct {
		Strategies []StrategyConfig `yaml:"strategies"`
	}
	if err := yaml.Unmarshal(raw, &doc); err == nil && len(doc.Strategies) > 0 {
		return doc.Strategies, nil
	}

	var list []StrategyConfig
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, eris.Wrapf(err, "config: parse strategies file %s", path)
	}
	return list, nil
}

// Chain returns the config for a chain id, or nil when unknown.
func (c *Config) Chain(chainID int64) *ChainConfig {
	for i := range c.Chains {
		if c.Chains[i].ChainID == chainID {
			return &c.Chains[i]
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
