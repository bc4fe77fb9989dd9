// Package config loads process-level configuration from the environment.
// Unlike the teacher's YAML-driven agent/chain configuration, this control
// plane is configured entirely through env vars (and a single YAML seed file
// for the action registry) — there is no per-deployment agent topology to
// describe.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnforcementMode controls whether policy denials actually block calls.
type EnforcementMode string

const (
	// EnforcementShadow logs what would have been blocked but allows everything.
	EnforcementShadow EnforcementMode = "shadow"
	// EnforcementEnforce blocks according to policy decisions.
	EnforcementEnforce EnforcementMode = "enforce"
)

// Config is the full process configuration, assembled once at startup.
type Config struct {
	HTTPPort string
	GinMode  string

	EnforcementMode EnforcementMode
	KillSwitch      bool

	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration

	DefaultRunQuotaPerHour int
	DefaultEgressPerHour   int

	DelegationMaxDepth int

	ActionRegistryPath string

	TrustWeightsVersion string

	QuarantineBlockedThreshold int

	ProbationEntryThreshold int
	ProbationExitStreak     int
	SunsetProbationStreak   int

	RunWorkerEmbedded    bool
	RunWorkerPollMS      int
	RunWorkerBatchLimit  int
	RunWorkerWorkspaceID string

	AuthRequireSession             bool
	AuthAllowLegacyWorkspaceHeader bool

	OTLPEndpoint string
}

// Load reads Config from the environment, applying the same documented
// defaults as the rest of the process's getEnv-with-default convention.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),
		GinMode:  getEnvOrDefault("GIN_MODE", "release"),

		EnforcementMode: EnforcementMode(getEnvOrDefault("ENFORCEMENT_MODE", string(EnforcementShadow))),
		KillSwitch:      getEnvBool("KILL_SWITCH", false),

		DefaultRunQuotaPerHour: getEnvInt("DEFAULT_RUN_QUOTA_PER_HOUR", 100),
		DefaultEgressPerHour:   getEnvInt("DEFAULT_EGRESS_QUOTA_PER_HOUR", 500),

		DelegationMaxDepth: getEnvInt("DELEGATION_MAX_DEPTH", 3),

		ActionRegistryPath: getEnvOrDefault("ACTION_REGISTRY_PATH", "config/action_registry.yaml"),

		TrustWeightsVersion: getEnvOrDefault("TRUST_WEIGHTS_VERSION", "v1"),

		QuarantineBlockedThreshold: getEnvInt("QUARANTINE_BLOCKED_THRESHOLD", 5),

		ProbationEntryThreshold: getEnvInt("PROBATION_ENTRY_THRESHOLD", 3),
		ProbationExitStreak:     getEnvInt("PROBATION_EXIT_STREAK", 5),
		SunsetProbationStreak:   getEnvInt("SUNSET_PROBATION_STREAK", 3),

		RunWorkerEmbedded:    getEnvBool("RUN_WORKER_EMBEDDED", false),
		RunWorkerPollMS:      getEnvInt("RUN_WORKER_POLL_MS", 2000),
		RunWorkerBatchLimit:  getEnvInt("RUN_WORKER_BATCH_LIMIT", 1),
		RunWorkerWorkspaceID: getEnvOrDefault("RUN_WORKER_WORKSPACE_ID", ""),

		AuthRequireSession:             getEnvBool("AUTH_REQUIRE_SESSION", false),
		AuthAllowLegacyWorkspaceHeader: getEnvBool("AUTH_ALLOW_LEGACY_WORKSPACE_HEADER", true),

		OTLPEndpoint: getEnvOrDefault("OTLP_EXPORTER_ENDPOINT", ""),
	}

	leaseTTL, err := time.ParseDuration(getEnvOrDefault("LEASE_TTL", "2m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid LEASE_TTL: %w", err)
	}
	cfg.LeaseTTL = leaseTTL

	heartbeat, err := time.ParseDuration(getEnvOrDefault("HEARTBEAT_INTERVAL", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid HEARTBEAT_INTERVAL: %w", err)
	}
	cfg.HeartbeatInterval = heartbeat

	if cfg.EnforcementMode != EnforcementShadow && cfg.EnforcementMode != EnforcementEnforce {
		return Config{}, fmt.Errorf("invalid ENFORCEMENT_MODE %q: must be %q or %q",
			cfg.EnforcementMode, EnforcementShadow, EnforcementEnforce)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if val == "" {
		return defaultVal
	}
	return val == "1" || val == "true" || val == "yes"
}
