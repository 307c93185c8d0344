// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(...) initializer to build a Config with defaults.
// - Tunable business constants live here only when the rules leave them open
//   (volatile-zone bounds, estimate fallbacks); bracket tables never do.
// - External errors must be wrapped via this package's error helpers.
package config

import "runtime"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// RulePackPath points to an external YAML rule pack. Empty means the
	// embedded default pack.
	RulePackPath string `koanf:"rule_pack_path"`

	// FatorRThreshold is the labor-ratio category switch point.
	FatorRThreshold float64 `koanf:"fator_r_threshold"`

	// VolatileZoneLow and VolatileZoneHigh bound the ratio range flagged as
	// volatile. The published bounds are asymmetric around the threshold;
	// they are configurable rather than load-bearing.
	VolatileZoneLow  float64 `koanf:"volatile_zone_low"`
	VolatileZoneHigh float64 `koanf:"volatile_zone_high"`

	// EstimateCombinedShare is the documented conservative fallback used by
	// detectors when the provider's share table is unavailable. Findings
	// derived from it are marked as estimates.
	EstimateCombinedShare float64 `koanf:"estimate_combined_share"`

	// MinimumWage12 is the 12-month legal minimum-wage proxy used as the
	// owner-compensation floor.
	MinimumWage12 float64 `koanf:"minimum_wage_12"`

	// LocationBaseURL is the locality reference-data endpoint. Empty
	// disables remote lookups and always falls back.
	LocationBaseURL string `koanf:"location_base_url"`

	// LocationTimeoutMS bounds a single locality lookup.
	LocationTimeoutMS int `koanf:"location_timeout_ms"`

	// DefaultLocalRate is the unconfirmed fallback service-tax rate.
	DefaultLocalRate float64 `koanf:"default_local_rate"`

	// NotifyQueueSize bounds the outbound notification queue.
	NotifyQueueSize int `koanf:"notify_queue_size"`

	// NotifyWorkerCount sets the number of notification dispatchers.
	NotifyWorkerCount int `koanf:"notify_worker_count"`

	// SessionShardCount configures the session store sharding.
	SessionShardCount int `koanf:"session_shard_count"`

	// Sentry error tracking. Empty DSN disables it.
	SentryDSN         string `koanf:"sentry_dsn"`
	SentryEnvironment string `koanf:"sentry_environment"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":9080",
		RulePackPath:          "",
		FatorRThreshold:       0.28,
		VolatileZoneLow:       0.25,
		VolatileZoneHigh:      0.31,
		EstimateCombinedShare: 0.155,
		MinimumWage12:         16_944, // 12 x 1,412
		LocationBaseURL:       "",
		LocationTimeoutMS:     1_500,
		DefaultLocalRate:      0.05,
		NotifyQueueSize:       10_000,
		NotifyWorkerCount:     runtime.NumCPU(),
		SessionShardCount:     8,
		SentryDSN:             "",
		SentryEnvironment:     "development",
	}
}
