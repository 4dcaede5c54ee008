// Package config loads the env-driven configuration surface spec §6 names,
// mirroring tarsy's pkg/config: a single Load that reads the process
// environment once into a typed record, leaving every component (sqlstore,
// the Graph Executor's checkpointer, the Policy Engine, the CORS layer) to
// consume plain Go values instead of re-parsing os.Getenv itself.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/siteforge-ai/core/features/policy/basic"
	"github.com/siteforge-ai/core/features/sqlstore"
	"github.com/siteforge-ai/core/runtime/httpapi"
	"github.com/siteforge-ai/core/runtime/policy"
)

// CheckpointBackend selects the Graph Executor's pluggable checkpointer.
type CheckpointBackend string

const (
	CheckpointMemory   CheckpointBackend = "memory"
	CheckpointSQLite   CheckpointBackend = "sqlite"
	CheckpointPostgres CheckpointBackend = "postgres"
	CheckpointOff      CheckpointBackend = "off"
)

// Config is the fully-resolved environment, handed to cmd/server's wiring
// code. Zero value is never used directly; call Load.
type Config struct {
	DatabaseURL string

	HTTP httpapi.Config

	CheckpointBackend CheckpointBackend
	CheckpointURL     string

	Policy        policy.Mode
	PolicyOptions basic.Options

	AestheticScoringEnabled bool
	VerifyGateEnabled       bool
	StyleExtractorEnabled   bool
}

// Load reads the recognized env vars and applies the defaults spec §5/§6
// document. A blank DATABASE_URL is left for the caller to reject, since an
// in-process test harness may supply sqlstore.Config directly instead.
func Load() Config {
	cfg := Config{
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		CheckpointBackend:       checkpointBackend(os.Getenv("LANGGRAPH_CHECKPOINTER")),
		CheckpointURL:           os.Getenv("LANGGRAPH_CHECKPOINT_URL"),
		AestheticScoringEnabled: boolEnv("AESTHETIC_SCORING_ENABLED", true),
		VerifyGateEnabled:       boolEnv("VERIFY_GATE_ENABLED", true),
		StyleExtractorEnabled:   boolEnv("STYLE_EXTRACTOR_ENABLED", true),
	}

	cfg.HTTP = httpapi.DefaultConfig()
	cfg.HTTP.RunAPIEnabled = boolEnv("RUN_API_ENABLED", true)
	cfg.HTTP.CORSAllowedOrigins = splitCSV(os.Getenv("CORS_ALLOW_ORIGINS"))
	cfg.HTTP.CORSAllowCredentials = boolEnv("CORS_ALLOW_CREDENTIALS", false)
	if wildcard := contains(cfg.HTTP.CORSAllowedOrigins, "*"); wildcard && cfg.HTTP.CORSAllowCredentials {
		cfg.HTTP.CORSAllowCredentials = false
	}

	cfg.Policy = policyMode(boolEnv("TOOL_POLICY_ENABLED", true), os.Getenv("TOOL_POLICY_MODE"))
	cfg.PolicyOptions = basic.Options{
		Mode:                   cfg.Policy,
		AllowedCommandPrefixes: splitCSV(os.Getenv("TOOL_POLICY_ALLOWED_CMD_PREFIXES")),
		LargeOutputBytes:       intEnv("TOOL_POLICY_LARGE_OUTPUT_BYTES", basic.DefaultLargeOutputBytes),
	}

	return cfg
}

// OpenDatabase resolves DatabaseURL into a sqlstore.Config, applying the
// pool-sizing defaults sqlstore.Open already falls back to when zero.
func (c Config) OpenDatabase() sqlstore.Config {
	return sqlstore.Config{URL: c.DatabaseURL}
}

func checkpointBackend(v string) CheckpointBackend {
	switch CheckpointBackend(strings.ToLower(strings.TrimSpace(v))) {
	case CheckpointSQLite:
		return CheckpointSQLite
	case CheckpointPostgres:
		return CheckpointPostgres
	case CheckpointOff:
		return CheckpointOff
	default:
		return CheckpointMemory
	}
}

func policyMode(enabled bool, mode string) policy.Mode {
	if !enabled {
		return policy.ModeOff
	}
	switch policy.Mode(strings.ToLower(strings.TrimSpace(mode))) {
	case policy.ModeOff:
		return policy.ModeOff
	case policy.ModeLogOnly:
		return policy.ModeLogOnly
	default:
		return policy.ModeEnforce
	}
}

func boolEnv(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func intEnv(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
