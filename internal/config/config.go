// Package config centralizes the engine's environment-driven configuration:
// one Config struct filled for every subsystem by a single FromEnvironment
// factory, built on
// viper bound to BUILDER_-prefixed environment variables and an optional
// .builder.yaml/.builder.toml file, with viper's normal flag > env > file >
// default precedence.
package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every subsystem's environment-derived settings for one
// process invocation.
type Config struct {
	CacheMaxSize     int64
	CacheMaxEntries  int
	CacheMaxAgeDays  int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	CheckpointPath   string
	CheckpointMaxAge time.Duration

	CoordinatorAddr        string
	WorkerHeartbeatTimeout time.Duration

	LogLevel      string
	LogFormat     string
	TraceExporter string
}

const (
	defaultCacheMaxSize     = 1 << 30 // 1 GiB
	defaultCacheMaxEntries  = 10000
	defaultCacheMaxAgeDays  = 30
	defaultRetryMaxAttempts = 3
	defaultRetryBaseDelay   = 100 * time.Millisecond
	defaultCheckpointPath   = ".builder-cache/checkpoint.bin"
	defaultCheckpointMaxAge = 24 * time.Hour
	defaultHeartbeatTimeout = 15 * time.Second
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultTraceExporter    = "console"
)

// newViper builds a viper instance bound to the BUILDER_ environment prefix, an
// optional .builder.yaml/.builder.toml config file, and (if non-nil) a flag
// set the caller has already registered flags on — this is what gives viper
// its flag > env > file > default precedence.
func newViper(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("BUILDER")
	v.AutomaticEnv()

	v.SetConfigName(".builder")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")
	// A missing config file is not an error: environment and defaults still
	// apply.
	_ = v.ReadInConfig()

	if flags != nil {
		_ = v.BindPFlags(flags)
	}

	v.SetDefault("cache_max_size", defaultCacheMaxSize)
	v.SetDefault("cache_max_entries", defaultCacheMaxEntries)
	v.SetDefault("cache_max_age_days", defaultCacheMaxAgeDays)
	v.SetDefault("retry_max_attempts", defaultRetryMaxAttempts)
	v.SetDefault("retry_base_delay", defaultRetryBaseDelay)
	v.SetDefault("checkpoint_path", defaultCheckpointPath)
	v.SetDefault("checkpoint_max_age", defaultCheckpointMaxAge)
	v.SetDefault("worker_heartbeat_timeout", defaultHeartbeatTimeout)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_format", defaultLogFormat)
	v.SetDefault("trace_exporter", defaultTraceExporter)
	return v
}

// FromEnvironment reads every subsystem's settings from the environment (and
// an optional config file), applying the engine's documented defaults for
// anything unset. flags may be nil; when non-nil, flags already parsed by
// the CLI layer take precedence over the environment per viper's binding
// rules.
func FromEnvironment(flags *pflag.FlagSet) (*Config, error) {
	v := newViper(flags)
	cfg := &Config{
		CacheMaxSize:           v.GetInt64("cache_max_size"),
		CacheMaxEntries:        v.GetInt("cache_max_entries"),
		CacheMaxAgeDays:        v.GetInt("cache_max_age_days"),
		RetryMaxAttempts:       v.GetInt("retry_max_attempts"),
		RetryBaseDelay:         v.GetDuration("retry_base_delay"),
		CheckpointPath:         v.GetString("checkpoint_path"),
		CheckpointMaxAge:       v.GetDuration("checkpoint_max_age"),
		CoordinatorAddr:        v.GetString("coordinator_addr"),
		WorkerHeartbeatTimeout: v.GetDuration("worker_heartbeat_timeout"),
		LogLevel:               v.GetString("log_level"),
		LogFormat:              v.GetString("log_format"),
		TraceExporter:          v.GetString("trace_exporter"),
	}
	return cfg, nil
}

// CacheMaxAge converts CacheMaxAgeDays to a time.Duration for callers that
// need it in that form (the target cache's eviction policy).
func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.CacheMaxAgeDays) * 24 * time.Hour
}
