package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/prediction"
	"github.com/Houngansi/SuspenseCore-sub009/internal/replication"
	"github.com/Houngansi/SuspenseCore-sub009/internal/rules"
	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
	"github.com/Houngansi/SuspenseCore-sub009/internal/transaction"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "SUSPENSE_"

// Config is the complete server configuration.
type Config struct {
	Server      ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	Security    SecurityConfig     `yaml:"security" envPrefix:"SECURITY_"`
	Replication replication.Config `yaml:"replication" envPrefix:"REPLICATION_"`
	Rules       RulesConfig        `yaml:"rules" envPrefix:"RULES_"`
	Prediction  PredictionConfig   `yaml:"prediction" envPrefix:"PREDICTION_"`
	Transaction TransactionConfig  `yaml:"transaction" envPrefix:"TRANSACTION_"`
	Store       StoreConfig        `yaml:"store" envPrefix:"STORE_"`
}

// ServerConfig controls the listener and tick loop.
type ServerConfig struct {
	Addr               string  `yaml:"addr" env:"ADDR"`
	TickRate           float64 `yaml:"tick_rate" env:"TICK_RATE"`
	MaxOpsPerTick      int     `yaml:"max_ops_per_tick" env:"MAX_OPS_PER_TICK"`
	MaxQueued          int     `yaml:"max_queued" env:"MAX_QUEUED"`
	MaxQueuedPerPlayer int     `yaml:"max_queued_per_player" env:"MAX_QUEUED_PER_PLAYER"`
	Loadout            string  `yaml:"loadout" env:"LOADOUT"`
}

// SecurityConfig mirrors security.Config plus key material.
type SecurityConfig struct {
	MaxOpsPerSecond        int           `yaml:"max_ops_per_second" env:"MAX_OPS_PER_SECOND"`
	MaxOpsPerMinute        int           `yaml:"max_ops_per_minute" env:"MAX_OPS_PER_MINUTE"`
	MaxOpsPerMinutePerIP   int           `yaml:"max_ops_per_minute_per_ip" env:"MAX_OPS_PER_MINUTE_PER_IP"`
	NonceCapacity          int           `yaml:"nonce_capacity" env:"NONCE_CAPACITY"`
	NonceTTL               time.Duration `yaml:"nonce_ttl" env:"NONCE_TTL"`
	SuspiciousThreshold    int           `yaml:"suspicious_threshold" env:"SUSPICIOUS_THRESHOLD"`
	BanDuration            time.Duration `yaml:"ban_duration" env:"BAN_DURATION"`
	MaxViolationsBeforeBan int           `yaml:"max_violations_before_ban" env:"MAX_VIOLATIONS_BEFORE_BAN"`
	ViolationWindow        time.Duration `yaml:"violation_window" env:"VIOLATION_WINDOW"`
	EnableHMAC             bool          `yaml:"enable_hmac" env:"ENABLE_HMAC"`
	CleanupInterval        time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	IdleTimeout            time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	RotationInterval       int           `yaml:"rotation_interval" env:"ROTATION_INTERVAL"`

	// Key is the hex-encoded HMAC key. SUSPENSE_HMAC_KEY takes precedence
	// over it, and it takes precedence over KeyFile.
	Key     string `yaml:"key" env:"KEY"`
	KeyFile string `yaml:"key_file" env:"KEY_FILE"`
}

// Service returns the security.Config subset.
func (c SecurityConfig) Service() security.Config {
	return security.Config{
		MaxOpsPerSecond:        c.MaxOpsPerSecond,
		MaxOpsPerMinute:        c.MaxOpsPerMinute,
		MaxOpsPerMinutePerIP:   c.MaxOpsPerMinutePerIP,
		NonceCapacity:          c.NonceCapacity,
		NonceTTL:               c.NonceTTL,
		SuspiciousThreshold:    c.SuspiciousThreshold,
		BanDuration:            c.BanDuration,
		MaxViolationsBeforeBan: c.MaxViolationsBeforeBan,
		ViolationWindow:        c.ViolationWindow,
		EnableHMAC:             c.EnableHMAC,
		CleanupInterval:        c.CleanupInterval,
		IdleTimeout:            c.IdleTimeout,
	}
}

// RulesConfig tunes the rules pipeline.
type RulesConfig struct {
	Weight        rules.WeightConfig `yaml:"weight"`
	ExcludedSlots []string           `yaml:"excluded_slots" env:"EXCLUDED_SLOTS" envSeparator:","`
}

// Excluded returns the excluded slot tags as a set.
func (c RulesConfig) Excluded() equipment.TagSet {
	return equipment.NewTagSet(c.ExcludedSlots...)
}

// PredictionConfig tunes client prediction in simulations.
type PredictionConfig struct {
	MaxActive     int           `yaml:"max_active" env:"MAX_ACTIVE"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Adaptive      bool          `yaml:"adaptive" env:"ADAPTIVE"`
	MinConfidence float64       `yaml:"min_confidence" env:"MIN_CONFIDENCE"`
}

// TransactionConfig tunes per-player transaction processors.
type TransactionConfig struct {
	MaxDepth     int           `yaml:"max_depth" env:"MAX_DEPTH"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	HistoryLimit int           `yaml:"history_limit" env:"HISTORY_LIMIT"`
}

// StoreConfig locates the journal. An empty path disables journaling.
type StoreConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// Default returns the compiled defaults.
func Default() Config {
	sec := security.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:               ":8080",
			TickRate:           30,
			MaxOpsPerTick:      64,
			MaxQueued:          4096,
			MaxQueuedPerPlayer: 32,
		},
		Security: SecurityConfig{
			MaxOpsPerSecond:        sec.MaxOpsPerSecond,
			MaxOpsPerMinute:        sec.MaxOpsPerMinute,
			MaxOpsPerMinutePerIP:   sec.MaxOpsPerMinutePerIP,
			NonceCapacity:          sec.NonceCapacity,
			NonceTTL:               sec.NonceTTL,
			SuspiciousThreshold:    sec.SuspiciousThreshold,
			BanDuration:            sec.BanDuration,
			MaxViolationsBeforeBan: sec.MaxViolationsBeforeBan,
			ViolationWindow:        sec.ViolationWindow,
			EnableHMAC:             sec.EnableHMAC,
			CleanupInterval:        sec.CleanupInterval,
			IdleTimeout:            sec.IdleTimeout,
			RotationInterval:       security.DefaultRotationInterval,
		},
		Replication: replication.DefaultConfig(),
		Rules: RulesConfig{
			Weight: rules.DefaultWeightConfig(),
		},
		Prediction: PredictionConfig{
			MaxActive:     prediction.DefaultMaxActive,
			Timeout:       prediction.DefaultTimeout,
			Adaptive:      true,
			MinConfidence: prediction.DefaultMinConfidence,
		},
		Transaction: TransactionConfig{
			MaxDepth:     transaction.DefaultMaxDepth,
			Timeout:      transaction.DefaultTimeout,
			HistoryLimit: transaction.DefaultHistoryLimit,
		},
		Store: StoreConfig{Path: "suspense.db"},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML overlays r onto cfg. Unknown fields are errors; an empty
// document leaves cfg unchanged.
func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// ParseEnv overlays SUSPENSE_* environment variables onto target.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports every out-of-range setting.
func (c Config) Validate() error {
	var errs []error
	if c.Server.TickRate <= 0 || c.Server.TickRate > 120 {
		errs = append(errs, fmt.Errorf("server tick_rate %.1f outside (0, 120]", c.Server.TickRate))
	}
	if c.Server.MaxOpsPerTick < 1 {
		errs = append(errs, fmt.Errorf("server max_ops_per_tick must be positive, got %d", c.Server.MaxOpsPerTick))
	}
	if c.Server.MaxQueued < 1 || c.Server.MaxQueuedPerPlayer < 1 {
		errs = append(errs, fmt.Errorf("server max_queued and max_queued_per_player must be positive, got %d and %d",
			c.Server.MaxQueued, c.Server.MaxQueuedPerPlayer))
	}
	if c.Security.NonceCapacity <= 0 {
		errs = append(errs, fmt.Errorf("security nonce_capacity must be positive, got %d", c.Security.NonceCapacity))
	}
	if c.Security.NonceTTL <= 0 {
		errs = append(errs, fmt.Errorf("security nonce_ttl must be positive, got %s", c.Security.NonceTTL))
	}
	if c.Security.RotationInterval < 1 {
		errs = append(errs, fmt.Errorf("security rotation_interval must be positive, got %d", c.Security.RotationInterval))
	}
	if err := c.Replication.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Replication.CompressionThreshold < 0 {
		errs = append(errs, fmt.Errorf("replication compression_threshold must not be negative, got %d", c.Replication.CompressionThreshold))
	}
	if c.Prediction.MinConfidence < 0 || c.Prediction.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("prediction min_confidence %.2f outside [0, 1]", c.Prediction.MinConfidence))
	}
	if c.Transaction.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("transaction max_depth must be positive, got %d", c.Transaction.MaxDepth))
	}
	return errors.Join(errs...)
}

// TickInterval returns the server tick period.
func (c ServerConfig) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.TickRate)
}
