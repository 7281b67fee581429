// ABOUTME: Configuration loading and parsing for topicmesh
// ABOUTME: YAML or TOML files with environment variable expansion, durations, defaults and validation

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config path.
const EnvConfigPath = "TOPICMESH_CONFIG"

// Transport kinds.
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportSQLite = "sqlite"
)

// Config represents the complete topicmesh configuration
type Config struct {
	Transport   TransportConfig   `yaml:"transport" toml:"transport"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Agents      AgentsConfig      `yaml:"agents" toml:"agents"`
	Connections ConnectionsConfig `yaml:"connections" toml:"connections"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
}

// TransportConfig selects the topic log implementation
type TransportConfig struct {
	Kind   string       `yaml:"kind" toml:"kind"`
	Redis  RedisConfig  `yaml:"redis" toml:"redis"`
	SQLite SQLiteConfig `yaml:"sqlite" toml:"sqlite"`
}

// RedisConfig holds Redis Streams connection settings
type RedisConfig struct {
	Addr      string `yaml:"addr" toml:"addr"`
	Password  string `yaml:"password" toml:"password"`
	DB        int    `yaml:"db" toml:"db"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`
}

// SQLiteConfig holds the path of a SQLite-backed topic log
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// DatabaseConfig holds the path for checkpoints, connection audit and event ledger
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
	// Checkpoints persists agent cursors so restarts resume where they left off.
	Checkpoints bool `yaml:"checkpoints" toml:"checkpoints"`
}

// AgentsConfig holds settings for the built-in agents
type AgentsConfig struct {
	PollInterval    time.Duration `yaml:"-" toml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval" toml:"poll_interval"`

	Risk      RiskConfig      `yaml:"risk" toml:"risk"`
	Rebalance RebalanceConfig `yaml:"rebalance" toml:"rebalance"`
	PriceFeed PriceFeedConfig `yaml:"price_feed" toml:"price_feed"`
}

// RiskConfig configures the risk assessment agent
type RiskConfig struct {
	Enabled         bool    `yaml:"enabled" toml:"enabled"`
	InputTopic      string  `yaml:"input_topic" toml:"input_topic"`
	OutputTopic     string  `yaml:"output_topic" toml:"output_topic"`
	HistorySize     int     `yaml:"history_size" toml:"history_size"`
	HighThreshold   float64 `yaml:"high_threshold" toml:"high_threshold"`
	MediumThreshold float64 `yaml:"medium_threshold" toml:"medium_threshold"`
}

// RebalanceConfig configures the rebalance agent
type RebalanceConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	InputTopic  string `yaml:"input_topic" toml:"input_topic"`
	OutputTopic string `yaml:"output_topic" toml:"output_topic"`
	Quorum      int    `yaml:"quorum" toml:"quorum"`
	// Balances seeds the in-memory portfolio the agent rebalances.
	Balances map[string]float64 `yaml:"balances" toml:"balances"`
}

// PriceFeedConfig configures the synthetic price feed
type PriceFeedConfig struct {
	Enabled     bool               `yaml:"enabled" toml:"enabled"`
	OutputTopic string             `yaml:"output_topic" toml:"output_topic"`
	Tokens      []string           `yaml:"tokens" toml:"tokens"`
	StartPrices map[string]float64 `yaml:"start_prices" toml:"start_prices"`
	Step        float64            `yaml:"step" toml:"step"`

	Interval    time.Duration `yaml:"-" toml:"-"`
	IntervalRaw string        `yaml:"interval" toml:"interval"`
}

// ConnectionsConfig configures the connection manager
type ConnectionsConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	AccountID     string `yaml:"account_id" toml:"account_id"`
	InboundTopic  string `yaml:"inbound_topic" toml:"inbound_topic"`
	OutboundTopic string `yaml:"outbound_topic" toml:"outbound_topic"`
	ControlTopic  string `yaml:"control_topic" toml:"control_topic"`

	PollInterval    time.Duration `yaml:"-" toml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval" toml:"poll_interval"`

	Approval ApprovalConfig `yaml:"approval" toml:"approval"`

	// RateLimit is requests per second per peer; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" toml:"rate_burst"`

	DedupeTTL    time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
	DedupeSize   int           `yaml:"dedupe_size" toml:"dedupe_size"`
}

// ApprovalConfig selects how inbound connection requests are approved
type ApprovalConfig struct {
	Mode       string `yaml:"mode" toml:"mode"`
	Expression string `yaml:"expression" toml:"expression"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig toggles the OpenTelemetry meter provider
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// Default returns a configuration for a single-process, in-memory mesh with
// every agent enabled and the connection manager off.
func Default() *Config {
	cfg := &Config{
		Transport: TransportConfig{Kind: TransportMemory},
		Agents: AgentsConfig{
			PollIntervalRaw: "5s",
			Risk: RiskConfig{
				Enabled:         true,
				InputTopic:      "prices",
				OutputTopic:     "risk-alerts",
				HistorySize:     24,
				HighThreshold:   0.10,
				MediumThreshold: 0.05,
			},
			Rebalance: RebalanceConfig{
				Enabled:     true,
				InputTopic:  "governance",
				OutputTopic: "rebalance-executions",
			},
			PriceFeed: PriceFeedConfig{
				Enabled:     true,
				OutputTopic: "prices",
				Tokens:      []string{"HBAR", "ETH", "BTC"},
				Step:        0.02,
				IntervalRaw: "10s",
			},
		},
		Connections: ConnectionsConfig{
			PollIntervalRaw: "5s",
			Approval:        ApprovalConfig{Mode: "auto"},
			DedupeTTLRaw:    "10m",
			DedupeSize:      10000,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
	// The raw defaults above always parse.
	_ = parseDurations(cfg)
	return cfg
}

// Resolve returns the config path to use and whether a file exists there.
// An explicit path wins, then TOPICMESH_CONFIG, then the XDG location.
func Resolve(path string) (string, bool) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		dir := os.Getenv("XDG_CONFIG_HOME")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", false
			}
			dir = filepath.Join(home, ".config")
		}
		path = filepath.Join(dir, "topicmesh", "config.yaml")
	}
	_, err := os.Stat(path)
	return path, err == nil
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills zero values a file may have blanked out.
func (c *Config) ApplyDefaults() {
	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportMemory
	}
	if c.Transport.Redis.KeyPrefix == "" {
		c.Transport.Redis.KeyPrefix = "topicmesh"
	}
	if c.Agents.PollInterval <= 0 {
		c.Agents.PollInterval = 5 * time.Second
	}
	if c.Agents.PriceFeed.Interval <= 0 {
		c.Agents.PriceFeed.Interval = c.Agents.PollInterval
	}
	if c.Agents.Risk.HistorySize <= 0 {
		c.Agents.Risk.HistorySize = 24
	}
	if c.Agents.PriceFeed.Step <= 0 {
		c.Agents.PriceFeed.Step = 0.02
	}
	if c.Connections.PollInterval <= 0 {
		c.Connections.PollInterval = c.Agents.PollInterval
	}
	if c.Connections.Approval.Mode == "" {
		c.Connections.Approval.Mode = "auto"
	}
	if c.Connections.OutboundTopic == "" && c.Connections.AccountID != "" {
		c.Connections.OutboundTopic = c.Connections.AccountID + "-outbound"
	}
	if c.Connections.RateLimit > 0 && c.Connections.RateBurst <= 0 {
		c.Connections.RateBurst = 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// DatabasePath returns the SQLite file holding checkpoints, connection audit
// and the event ledger, or "" when none is configured.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	if c.Transport.Kind == TransportSQLite {
		return c.Transport.SQLite.Path
	}
	return ""
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportMemory:
	case TransportRedis:
		if c.Transport.Redis.Addr == "" {
			return fmt.Errorf("transport.redis.addr is required for the redis transport")
		}
	case TransportSQLite:
		if c.Transport.SQLite.Path == "" {
			return fmt.Errorf("transport.sqlite.path is required for the sqlite transport")
		}
	default:
		return fmt.Errorf("transport.kind %q must be one of memory, redis, sqlite", c.Transport.Kind)
	}

	risk := c.Agents.Risk
	if risk.Enabled {
		if risk.InputTopic == "" || risk.OutputTopic == "" {
			return fmt.Errorf("agents.risk requires input_topic and output_topic")
		}
		if risk.MediumThreshold <= 0 || risk.HighThreshold < risk.MediumThreshold {
			return fmt.Errorf("agents.risk thresholds must satisfy 0 < medium_threshold <= high_threshold")
		}
	}
	reb := c.Agents.Rebalance
	if reb.Enabled {
		if reb.InputTopic == "" || reb.OutputTopic == "" {
			return fmt.Errorf("agents.rebalance requires input_topic and output_topic")
		}
		if reb.Quorum < 0 {
			return fmt.Errorf("agents.rebalance.quorum must not be negative")
		}
	}
	feed := c.Agents.PriceFeed
	if feed.Enabled {
		if feed.OutputTopic == "" {
			return fmt.Errorf("agents.price_feed.output_topic is required")
		}
		if len(feed.Tokens) == 0 {
			return fmt.Errorf("agents.price_feed.tokens must not be empty")
		}
	}

	conn := c.Connections
	if conn.Enabled {
		if conn.AccountID == "" {
			return fmt.Errorf("connections.account_id is required when connections are enabled")
		}
		if conn.InboundTopic == "" {
			return fmt.Errorf("connections.inbound_topic is required when connections are enabled")
		}
	}
	switch conn.Approval.Mode {
	case "auto", "manual":
	case "expression":
		if strings.TrimSpace(conn.Approval.Expression) == "" {
			return fmt.Errorf("connections.approval.expression is required in expression mode")
		}
	default:
		return fmt.Errorf("connections.approval.mode %q must be one of auto, manual, expression", conn.Approval.Mode)
	}
	if conn.RateLimit < 0 {
		return fmt.Errorf("connections.rate_limit must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"agents.poll_interval", cfg.Agents.PollIntervalRaw, &cfg.Agents.PollInterval},
		{"agents.price_feed.interval", cfg.Agents.PriceFeed.IntervalRaw, &cfg.Agents.PriceFeed.Interval},
		{"connections.poll_interval", cfg.Connections.PollIntervalRaw, &cfg.Connections.PollInterval},
		{"connections.dedupe_ttl", cfg.Connections.DedupeTTLRaw, &cfg.Connections.DedupeTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
