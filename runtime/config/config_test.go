package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siteforge-ai/core/runtime/policy"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	require.True(t, cfg.HTTP.RunAPIEnabled)
	require.Equal(t, CheckpointMemory, cfg.CheckpointBackend)
	require.Equal(t, policy.ModeEnforce, cfg.Policy)
	require.True(t, cfg.AestheticScoringEnabled)
	require.True(t, cfg.VerifyGateEnabled)
	require.True(t, cfg.StyleExtractorEnabled)
}

func TestLoad_ChecksCheckpointBackendCaseInsensitively(t *testing.T) {
	t.Setenv("LANGGRAPH_CHECKPOINTER", "SQLite")
	require.Equal(t, CheckpointSQLite, Load().CheckpointBackend)
}

func TestLoad_UnknownCheckpointBackendFallsBackToMemory(t *testing.T) {
	t.Setenv("LANGGRAPH_CHECKPOINTER", "garbage")
	require.Equal(t, CheckpointMemory, Load().CheckpointBackend)
}

func TestLoad_ToolPolicyDisabledOverridesMode(t *testing.T) {
	t.Setenv("TOOL_POLICY_ENABLED", "false")
	t.Setenv("TOOL_POLICY_MODE", "enforce")
	require.Equal(t, policy.ModeOff, Load().Policy)
}

func TestLoad_WildcardCORSOriginForcesCredentialsOff(t *testing.T) {
	t.Setenv("CORS_ALLOW_ORIGINS", "*")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "true")

	cfg := Load()
	require.Equal(t, []string{"*"}, cfg.HTTP.CORSAllowedOrigins)
	require.False(t, cfg.HTTP.CORSAllowCredentials)
}

func TestLoad_NonWildcardOriginsKeepCredentials(t *testing.T) {
	t.Setenv("CORS_ALLOW_ORIGINS", "https://example.com, https://app.example.com")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "true")

	cfg := Load()
	require.Equal(t, []string{"https://example.com", "https://app.example.com"}, cfg.HTTP.CORSAllowedOrigins)
	require.True(t, cfg.HTTP.CORSAllowCredentials)
}

func TestLoad_CommandPrefixesOverrideDefault(t *testing.T) {
	t.Setenv("TOOL_POLICY_ALLOWED_CMD_PREFIXES", "go,make")
	cfg := Load()
	require.Equal(t, []string{"go", "make"}, cfg.PolicyOptions.AllowedCommandPrefixes)
}
