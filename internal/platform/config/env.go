// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every environment key read by this module.
const EnvPrefix = "TOMCAT_SESSIONS_"

// ParseEnv loads configuration from environment variables.
//
// Struct tags name keys without EnvPrefix, so `env:"DB_PATH"` reads
// TOMCAT_SESSIONS_DB_PATH.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Key returns the fully prefixed environment key for name.
func Key(name string) string {
	return EnvPrefix + name
}
