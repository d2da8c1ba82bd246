package config

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/aidekit/scribe/pkg/llm"
)

// Validate checks the configuration for values that would misbehave at
// runtime rather than fail loudly.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.HistoryWindowTurns, validation.Min(0), validation.Max(50)),
		validation.Field(&c.BatchFlushTimeoutMS, validation.Required, validation.Min(100)),
		validation.Field(&c.ParseFailureStreakLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxTokens, validation.Required, validation.Min(1)),
		validation.Field(&c.PromptVersion, validation.Required),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.ReplayProfile, validation.By(validReplayProfile)),
	); err != nil {
		return err
	}

	if err := validation.ValidateStruct(&c.Models,
		validation.Field(&c.Models.Fast, validation.Required),
		validation.Field(&c.Models.Structural, validation.Required),
		validation.Field(&c.Models.Analyst, validation.Required),
	); err != nil {
		return err
	}

	if err := validation.ValidateStruct(&c.TierTimeoutsMS,
		validation.Field(&c.TierTimeoutsMS.Fast, validation.Required, validation.Min(1000)),
		validation.Field(&c.TierTimeoutsMS.Structural, validation.Required, validation.Min(1000)),
		validation.Field(&c.TierTimeoutsMS.Analyst, validation.Required, validation.Min(1000)),
	); err != nil {
		return err
	}

	if err := validation.ValidateStruct(&c.Retention,
		validation.Field(&c.Retention.TelemetryRetentionDays, validation.Required, validation.Min(1)),
		validation.Field(&c.Retention.SweepIntervalMinutes, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}

	for _, p := range []struct {
		name  string
		price Price
	}{
		{"fast", c.Prices.Fast},
		{"structural", c.Prices.Structural},
		{"analyst", c.Prices.Analyst},
	} {
		if err := validatePrice(p.name, p.price); err != nil {
			return err
		}
	}
	return nil
}

func validatePrice(name string, p Price) error {
	return validation.Errors{
		name + ".in_per_mtok":          validation.Validate(p.InPerMTok, validation.Min(0.0)),
		name + ".out_per_mtok":         validation.Validate(p.OutPerMTok, validation.Min(0.0)),
		name + ".cache_read_per_mtok":  validation.Validate(p.CacheReadPerMTok, validation.Min(0.0)),
		name + ".cache_write_per_mtok": validation.Validate(p.CacheWritePerMTok, validation.Min(0.0)),
	}.Filter()
}

func validReplayProfile(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, ok := llm.ParseProfile(s); !ok {
		return validation.NewError("validation_replay_profile", "must be one of instant, fast, structural, slow")
	}
	return nil
}
