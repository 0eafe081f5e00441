package config

import (
	"os"
	"testing"
	"time"
)

func TestFromEnvironmentAppliesDefaults(t *testing.T) {
	cfg, err := FromEnvironment(nil)
	if err != nil {
		t.Fatalf("FromEnvironment: %v", err)
	}
	if cfg.CacheMaxSize != defaultCacheMaxSize {
		t.Fatalf("CacheMaxSize = %d, want %d", cfg.CacheMaxSize, defaultCacheMaxSize)
	}
	if cfg.RetryMaxAttempts != defaultRetryMaxAttempts {
		t.Fatalf("RetryMaxAttempts = %d, want %d", cfg.RetryMaxAttempts, defaultRetryMaxAttempts)
	}
	if cfg.CacheMaxAge() != 30*24*time.Hour {
		t.Fatalf("CacheMaxAge() = %v, want 30 days", cfg.CacheMaxAge())
	}
}

func TestFromEnvironmentReadsBuilderPrefixedVars(t *testing.T) {
	t.Setenv("BUILDER_CACHE_MAX_ENTRIES", "42")
	t.Setenv("BUILDER_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("BUILDER_LOG_LEVEL", "debug")

	cfg, err := FromEnvironment(nil)
	if err != nil {
		t.Fatalf("FromEnvironment: %v", err)
	}
	if cfg.CacheMaxEntries != 42 {
		t.Fatalf("CacheMaxEntries = %d, want 42", cfg.CacheMaxEntries)
	}
	if cfg.RetryMaxAttempts != 7 {
		t.Fatalf("RetryMaxAttempts = %d, want 7", cfg.RetryMaxAttempts)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestMain(m *testing.M) {
	// Ensure no stray .builder.yaml in the working directory influences
	// these tests when run alongside other packages: run them from an empty
	// temporary directory.
	dir, err := os.MkdirTemp("", "builder-config-test")
	if err != nil {
		panic(err)
	}
	if err := os.Chdir(dir); err != nil {
		panic(err)
	}
	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}
