// Package config holds the static seed list and the tunable intervals and
// thresholds the rest of the engine is wired against (C9). These are
// compile-time/config-file values, not command-line flags, per the
// ingestion engine's design: only a handful of deployment knobs read from
// the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults mirror the intervals and thresholds named in the spec.
const (
	DefaultIngestInterval         = 240 * time.Second
	DefaultCreditsInterval        = 7200 * time.Second
	DefaultCleanupCheckInterval   = 3600 * time.Second
	DefaultHealthCheckPort        = 3001
	DefaultRPCTimeout             = 2500 * time.Millisecond
	DefaultCreditsTimeout         = 10 * time.Second
	DefaultProbeBatchSize         = 50
	DefaultMaxConcurrentSeeds     = 8
	DefaultBackoffResetAge        = 24 * time.Hour
	DefaultPostProbeCooldown      = 60 * time.Second
	DefaultCircuitBreakerFailures = 5
	DefaultCircuitBreakerCooldown = 5 * time.Minute
	DefaultHeartbeatInterval      = 10 * time.Minute
	DefaultStaleSuccessAlert      = 30 * time.Minute
	DefaultSeedValidationTimeout  = 5 * time.Second
	DefaultSeedValidationSample   = 3
	DefaultCleanupTimeout         = 5 * time.Minute
	DefaultSnapshotPageSize       = 500
	DefaultSnapshotMaxPages       = 100_000
	DefaultSeedFreshnessWindow    = 10 * time.Minute
	DefaultCreditsMinInterval     = 2 * time.Hour

	ProbePort = 6000
)

// CleanupTableSpec describes one table the cleanup engine (C5) watches.
type CleanupTableSpec struct {
	Table      string
	TimeColumn string
	Threshold  int
	Trigger    float64 // fraction of Threshold that triggers cleanup
	Target     float64 // fraction of Threshold cleanup reduces the table to
}

// Config is the full set of tunables the ingestion engine is wired against.
type Config struct {
	DatabaseURL     string
	HealthCheckPort int

	Seeds []string

	IngestInterval       time.Duration
	CreditsInterval      time.Duration
	CleanupCheckInterval time.Duration

	RPCTimeout     time.Duration
	CreditsTimeout time.Duration
	CreditsURL     string

	ProbeBatchSize     int
	MaxConcurrentSeeds int
	BackoffResetAge    time.Duration
	PostProbeCooldown  time.Duration

	CircuitBreakerFailures int
	CircuitBreakerCooldown time.Duration
	HeartbeatInterval      time.Duration
	StaleSuccessAlert      time.Duration

	SeedValidationTimeout time.Duration
	SeedValidationSample  int
	CleanupTimeout        time.Duration

	SnapshotPageSize    int
	SnapshotMaxPages    int
	SeedFreshnessWindow time.Duration

	CreditsMinInterval time.Duration

	CleanupTables []CleanupTableSpec

	StorePoolSize int
}

// DefaultCleanupTables is the fixed table/threshold/target matrix from §4.5.
func DefaultCleanupTables() []CleanupTableSpec {
	return []CleanupTableSpec{
		{Table: "PnodeGossipObservation", TimeColumn: "observedAt", Threshold: 1_000_000, Trigger: 0.9, Target: 0.7},
		{Table: "PnodeStatsSample", TimeColumn: "timestamp", Threshold: 500_000, Trigger: 0.9, Target: 0.7},
		{Table: "IngestionRun", TimeColumn: "startedAt", Threshold: 10_000, Trigger: 0.9, Target: 0.7},
	}
}

// DefaultSeeds is the static list of well-known seed base URLs. Deployments
// override this with their own list; this default exists so a fresh
// checkout has something to validate against in development.
func DefaultSeeds() []string {
	return []string{
		"https://seed1.xandeum.network",
		"https://seed2.xandeum.network",
		"https://seed3.xandeum.network",
	}
}

// Load builds a Config from process environment variables, falling back to
// the documented defaults for everything the spec doesn't call out as
// environment-driven.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL:     dbURL,
		HealthCheckPort: intEnv("HEALTH_CHECK_PORT", DefaultHealthCheckPort),

		Seeds: DefaultSeeds(),

		IngestInterval:       durationEnv("INGEST_INTERVAL", DefaultIngestInterval),
		CreditsInterval:      durationEnv("CREDITS_INTERVAL", DefaultCreditsInterval),
		CleanupCheckInterval: durationEnv("CLEANUP_CHECK_INTERVAL", DefaultCleanupCheckInterval),

		RPCTimeout:     DefaultRPCTimeout,
		CreditsTimeout: DefaultCreditsTimeout,
		CreditsURL:     "https://podcredits.xandeum.network/api/pods-credits",

		ProbeBatchSize:     DefaultProbeBatchSize,
		MaxConcurrentSeeds: DefaultMaxConcurrentSeeds,
		BackoffResetAge:    DefaultBackoffResetAge,
		PostProbeCooldown:  DefaultPostProbeCooldown,

		CircuitBreakerFailures: DefaultCircuitBreakerFailures,
		CircuitBreakerCooldown: DefaultCircuitBreakerCooldown,
		HeartbeatInterval:      DefaultHeartbeatInterval,
		StaleSuccessAlert:      DefaultStaleSuccessAlert,

		SeedValidationTimeout: DefaultSeedValidationTimeout,
		SeedValidationSample:  DefaultSeedValidationSample,
		CleanupTimeout:        DefaultCleanupTimeout,

		SnapshotPageSize:    DefaultSnapshotPageSize,
		SnapshotMaxPages:    DefaultSnapshotMaxPages,
		SeedFreshnessWindow: DefaultSeedFreshnessWindow,

		CreditsMinInterval: DefaultCreditsMinInterval,

		CleanupTables: DefaultCleanupTables(),
		StorePoolSize: 5,
	}
	return cfg, nil
}

func intEnv(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durationEnv(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(secs) * time.Second
}
