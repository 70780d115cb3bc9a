package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds the environment variable overrides.
type Env struct {
	Config   string `env:"STAGEVAULT_CONFIG"`
	Stage    string `env:"STAGEVAULT_STAGE"`
	Debug    bool   `env:"STAGEVAULT_DEBUG"`
	CacheKey string `env:"STAGEVAULT_CACHE_KEY"`
}

// ParseEnv reads the overrides from the process environment.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return e, nil
}

// ParseEnvFrom reads the overrides from vars instead of the process
// environment.
func ParseEnvFrom(vars map[string]string) (Env, error) {
	var e Env
	if err := env.ParseWithOptions(&e, env.Options{Environment: vars}); err != nil {
		return Env{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return e, nil
}
