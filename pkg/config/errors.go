package config

import "errors"

var (
	// ErrConfigNotFound is returned when a required config file is missing.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML is returned when a config file fails to parse.
	ErrInvalidYAML = errors.New("invalid YAML syntax")
)
