// Package config loads and validates the orchestrator configuration from
// scribe.yaml plus environment expansion. One *Config is constructed in main
// and passed down; nothing in this package is a singleton.
package config

import (
	"time"

	"github.com/aidekit/scribe/pkg/tier"
)

// Config is the complete orchestration configuration.
type Config struct {
	// Models maps each tier to a concrete provider model id.
	Models TierModels `yaml:"models"`

	// Prices carries per-MTok rates for cost accounting, per tier model.
	Prices TierPrices `yaml:"prices"`

	// HistoryWindowTurns bounds the conversation tail loaded per turn.
	HistoryWindowTurns int `yaml:"history_window_turns"`

	// TierTimeoutsMS is the per-tier wall-clock budget for one pass.
	TierTimeoutsMS TierTimeouts `yaml:"tier_timeouts_ms"`

	// BatchFlushTimeoutMS force-flushes a batch left open this long.
	BatchFlushTimeoutMS int `yaml:"batch_flush_timeout_ms"`

	// ParseFailureStreakLimit aborts a pass after this many consecutive
	// malformed lines.
	ParseFailureStreakLimit int `yaml:"parse_failure_streak_limit"`

	// MaxTokens caps completion length per pass.
	MaxTokens int `yaml:"max_tokens"`

	// UseMockLLM swaps the provider for the replay client.
	UseMockLLM bool `yaml:"use_mock_llm"`

	// ReplayProfile is the initial pacing profile in mock mode.
	ReplayProfile string `yaml:"replay_profile"`

	// PromptVersion is the byte tag at the top of the system prompt.
	// Changing it invalidates every cached prefix.
	PromptVersion string `yaml:"prompt_version"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// JWTSecret verifies session tokens (HS256). Empty disables auth
	// (dev mode).
	JWTSecret string `yaml:"jwt_secret"`

	// AllowedOrigins is the CORS allow-list for the REST surface.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Retention controls the telemetry sweeper. Only effective with the
	// Postgres sink; the in-memory sink lives and dies with the process.
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig bounds how long telemetry rows are kept and how often the
// sweeper checks.
type RetentionConfig struct {
	TelemetryRetentionDays int `yaml:"telemetry_retention_days"`
	SweepIntervalMinutes   int `yaml:"sweep_interval_minutes"`
}

// Window returns the retention window as a duration.
func (r RetentionConfig) Window() time.Duration {
	return time.Duration(r.TelemetryRetentionDays) * 24 * time.Hour
}

// Interval returns the sweep cadence as a duration.
func (r RetentionConfig) Interval() time.Duration {
	return time.Duration(r.SweepIntervalMinutes) * time.Minute
}

// TierModels names the provider model per tier.
type TierModels struct {
	Fast       string `yaml:"fast"`
	Structural string `yaml:"structural"`
	Analyst    string `yaml:"analyst"`
}

// TierTimeouts is the per-pass wall clock in milliseconds.
type TierTimeouts struct {
	Fast       int `yaml:"fast"`
	Structural int `yaml:"structural"`
	Analyst    int `yaml:"analyst"`
}

// Price is a per-MTok rate card for one model.
type Price struct {
	InPerMTok         float64 `yaml:"in_per_mtok"`
	OutPerMTok        float64 `yaml:"out_per_mtok"`
	CacheReadPerMTok  float64 `yaml:"cache_read_per_mtok"`
	CacheWritePerMTok float64 `yaml:"cache_write_per_mtok"`
}

// TierPrices carries a rate card per tier model.
type TierPrices struct {
	Fast       Price `yaml:"fast"`
	Structural Price `yaml:"structural"`
	Analyst    Price `yaml:"analyst"`
}

// ModelFor returns the model id for a tier.
func (c *Config) ModelFor(t tier.Tier) string {
	switch t {
	case tier.Structural:
		return c.Models.Structural
	case tier.Analyst:
		return c.Models.Analyst
	default:
		return c.Models.Fast
	}
}

// PriceFor returns the rate card for a tier.
func (c *Config) PriceFor(t tier.Tier) Price {
	switch t {
	case tier.Structural:
		return c.Prices.Structural
	case tier.Analyst:
		return c.Prices.Analyst
	default:
		return c.Prices.Fast
	}
}

// TimeoutFor returns the wall-clock budget for one pass of a tier.
func (c *Config) TimeoutFor(t tier.Tier) time.Duration {
	ms := c.TierTimeoutsMS.Fast
	switch t {
	case tier.Structural:
		ms = c.TierTimeoutsMS.Structural
	case tier.Analyst:
		ms = c.TierTimeoutsMS.Analyst
	}
	return time.Duration(ms) * time.Millisecond
}

// BatchFlushTimeout returns the safety flush window for open batches.
func (c *Config) BatchFlushTimeout() time.Duration {
	return time.Duration(c.BatchFlushTimeoutMS) * time.Millisecond
}
