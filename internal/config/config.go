// Package config defines all configuration for the market-data trust and
// decision engine. Config is assembled from two YAML files — base.yaml and
// an experiment.yaml overlay — deep-merged in that order, with select
// fields overridable via MDTE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly onto the merged
// base.yaml + experiment.yaml structure.
type Config struct {
	Mode     string         `mapstructure:"mode"`
	Exchange string         `mapstructure:"exchange"`
	Symbol   string         `mapstructure:"symbol"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Align    AlignConfig    `mapstructure:"time_alignment"`
	Sanitize SanitizeConfig `mapstructure:"sanitization"`
	Trust    TrustConfig    `mapstructure:"data_trust"`
	Hyp      HypConfig      `mapstructure:"hypothesis"`
	Adapters AdaptersConfig `mapstructure:"adapters"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PathsConfig holds every on-disk location the engine reads from or
// writes to.
type PathsConfig struct {
	DataRoot   string `mapstructure:"data_root"`
	OutputRoot string `mapstructure:"output_root"`
	LogRoot    string `mapstructure:"log_root"`
}

// EngineConfig tunes the orchestrator's tick loop and stall detection.
type EngineConfig struct {
	TickInterval    time.Duration            `mapstructure:"tick_interval"`
	StallThresholds map[string]time.Duration `mapstructure:"stall_thresholds"`
	DepthLimit      int                      `mapstructure:"depth_limit"`
}

// AlignConfig tunes the time aligner's watermark and buffer bounds.
type AlignConfig struct {
	AllowedLateness time.Duration `mapstructure:"allowed_lateness"`
	MaxBuffer       time.Duration `mapstructure:"max_buffer"`
}

// SanitizeConfig tunes the sanitizer's field-repair defaults.
type SanitizeConfig struct {
	DefaultExchange string `mapstructure:"default_exchange"`
	DefaultSymbol   string `mapstructure:"default_symbol"`
}

// TrustConfig tunes the rolling-window rate thresholds and per-check bps
// bounds used by the data trust policy.
type TrustConfig struct {
	WindowEvents            int     `mapstructure:"window_events"`
	QuarantineUntrustedRate float64 `mapstructure:"quarantine_untrusted_rate"`
	LateDegradedRate        float64 `mapstructure:"late_degraded_rate"`
	LateUntrustedRate       float64 `mapstructure:"late_untrusted_rate"`
	ForcedDegradedRate      float64 `mapstructure:"forced_degraded_rate"`
	ForcedUntrustedRate     float64 `mapstructure:"forced_untrusted_rate"`
	BufferLenDegraded       int     `mapstructure:"buffer_len_degraded"`
	BufferLenUntrusted      int     `mapstructure:"buffer_len_untrusted"`
	SpreadExplodeBps        float64 `mapstructure:"spread_explode_bps"`
	FatFingerDegradedBps    float64 `mapstructure:"fat_finger_degraded_bps"`
	FatFingerUntrustedBps   float64 `mapstructure:"fat_finger_untrusted_bps"`
	TradeJumpDegradedBps    float64 `mapstructure:"trade_jump_degraded_bps"`
}

// HypConfig tunes the cross-source consensus policy.
type HypConfig struct {
	WeakPriceDivergeBps    float64       `mapstructure:"weak_price_diverge_bps"`
	InvalidPriceDivergeBps float64       `mapstructure:"invalid_price_diverge_bps"`
	StableMinDuration      time.Duration `mapstructure:"stable_min_duration"`
}

// AdaptersConfig selects and tunes the historical (CSV) and live
// (exchange WebSocket) event sources.
type AdaptersConfig struct {
	CSV CSVAdapterConfig `mapstructure:"csv"`
	WS  WSAdapterConfig  `mapstructure:"ws"`
}

// CSVAdapterConfig tunes the historical replay adapter.
type CSVAdapterConfig struct {
	ReplaySpeed    float64       `mapstructure:"replay_speed"`
	MaxReplaySleep time.Duration `mapstructure:"max_replay_sleep"`
}

// WSAdapterConfig tunes the live Binance-futures WebSocket adapter.
type WSAdapterConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	RestBaseURL         string        `mapstructure:"rest_base_url"`
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay   time.Duration `mapstructure:"max_reconnect_delay"`
	OpenInterestPoll    time.Duration `mapstructure:"open_interest_poll"`
	SnapshotDepthLimit  int           `mapstructure:"snapshot_depth_limit"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads base.yaml then deep-merges experiment.yaml (if present) from
// cfgDir on top of it, sets mode, and applies MDTE_* env overrides.
// Mirrors the base+experiment merge of the Python config loader this
// package is ported from.
func Load(mode, cfgDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(cfgDir, "base.yaml"))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read base config: %w", err)
	}

	experimentPath := filepath.Join(cfgDir, "experiment.yaml")
	if _, err := os.Stat(experimentPath); err == nil {
		v.SetConfigFile(experimentPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge experiment config: %w", err)
		}
	}

	v.SetEnvPrefix("MDTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Mode = mode

	if root := os.Getenv("MDTE_DATA_ROOT"); root != "" {
		cfg.Paths.DataRoot = root
	}
	if root := os.Getenv("MDTE_OUTPUT_ROOT"); root != "" {
		cfg.Paths.OutputRoot = root
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Mode != "historical" && c.Mode != "realtime" {
		return fmt.Errorf("mode must be one of: historical, realtime, got %q", c.Mode)
	}
	if c.Exchange == "" {
		return fmt.Errorf("exchange is required")
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.Paths.DataRoot == "" && c.Mode == "historical" {
		return fmt.Errorf("paths.data_root is required in historical mode")
	}
	if c.Paths.OutputRoot == "" {
		return fmt.Errorf("paths.output_root is required")
	}
	if c.Engine.DepthLimit <= 0 {
		return fmt.Errorf("engine.depth_limit must be > 0")
	}
	if c.Align.AllowedLateness <= 0 {
		return fmt.Errorf("time_alignment.allowed_lateness must be > 0")
	}
	if c.Align.MaxBuffer <= c.Align.AllowedLateness {
		return fmt.Errorf("time_alignment.max_buffer must exceed allowed_lateness")
	}
	if c.Trust.WindowEvents <= 0 {
		return fmt.Errorf("data_trust.window_events must be > 0")
	}
	if c.Hyp.InvalidPriceDivergeBps <= c.Hyp.WeakPriceDivergeBps {
		return fmt.Errorf("hypothesis.invalid_price_diverge_bps must exceed weak_price_diverge_bps")
	}
	if c.Mode == "realtime" {
		if c.Adapters.WS.BaseURL == "" {
			return fmt.Errorf("adapters.ws.base_url is required in realtime mode")
		}
	}
	return nil
}
