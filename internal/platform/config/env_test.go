package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port        int           `env:"TEST_PORT" envDefault:"123"`
	MaxInactive time.Duration `env:"TEST_MAX_INACTIVE" envDefault:"60s"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
	if cfg.MaxInactive != time.Minute {
		t.Fatalf("expected default max inactive 1m, got %v", cfg.MaxInactive)
	}
}

func TestParseEnvReadsPrefixedKeys(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TOMCAT_SESSIONS_TEST_PORT", "9000")
	t.Setenv("TEST_PORT", "1")

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("expected prefixed port 9000, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv(Key("TEST_PORT"), "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestKey(t *testing.T) {
	if got := Key("DB_PATH"); got != "TOMCAT_SESSIONS_DB_PATH" {
		t.Fatalf("Key = %q", got)
	}
}
