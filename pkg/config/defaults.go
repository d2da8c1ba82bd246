package config

// DefaultConfig returns the built-in configuration. scribe.yaml values merge
// over it; every field here must be safe for local development.
func DefaultConfig() *Config {
	return &Config{
		Models: TierModels{
			Fast:       "claude-haiku-4-5",
			Structural: "claude-sonnet-4-5",
			Analyst:    "claude-sonnet-4-5",
		},
		Prices: TierPrices{
			Fast:       Price{InPerMTok: 1, OutPerMTok: 5, CacheReadPerMTok: 0.1, CacheWritePerMTok: 1.25},
			Structural: Price{InPerMTok: 3, OutPerMTok: 15, CacheReadPerMTok: 0.3, CacheWritePerMTok: 3.75},
			Analyst:    Price{InPerMTok: 3, OutPerMTok: 15, CacheReadPerMTok: 0.3, CacheWritePerMTok: 3.75},
		},
		HistoryWindowTurns: 9,
		TierTimeoutsMS: TierTimeouts{
			Fast:       30_000,
			Structural: 60_000,
			Analyst:    90_000,
		},
		BatchFlushTimeoutMS:     30_000,
		ParseFailureStreakLimit: 3,
		MaxTokens:               8192,
		UseMockLLM:              false,
		ReplayProfile:           "instant",
		PromptVersion:           "v1",
		LogLevel:                "info",
		Retention: RetentionConfig{
			TelemetryRetentionDays: 30,
			SweepIntervalMinutes:   60,
		},
	}
}
