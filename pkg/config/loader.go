package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// configFile is the single YAML file this service reads.
const configFile = "scribe.yaml"

// Initialize loads, merges, validates, and returns ready-to-use
// configuration. This is the primary entry point.
//
// Steps performed:
//  1. Read scribe.yaml from configDir (optional; defaults apply without it)
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"model_fast", cfg.Models.Fast,
		"model_structural", cfg.Models.Structural,
		"model_analyst", cfg.Models.Analyst,
		"use_mock_llm", cfg.UseMockLLM,
		"prompt_version", cfg.PromptVersion)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(configDir, configFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No scribe.yaml found, using built-in defaults", "path", path)
			return cfg, nil
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes original data through on template errors, letting the
	// YAML parser produce the clearer failure.
	data = ExpandEnv(data)

	var user Config
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	// Non-zero user values override defaults.
	if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	return cfg, nil
}
