package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SOLANA_RPC_URL", "DATABASE_URL", "PORT", "WS_PORT",
		"DATABASE_AUTOMIGRATE", "CHAIN_MAX_CONCURRENCY", "REDIS_URL", "CORS_ORIGINS",
	} {
		os.Unsetenv(k)
	}
}

func TestMustLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv("DATABASE_URL", "user:pass@tcp(localhost:3306)/analysis")
	defer clearEnv(t)

	cfg := MustLoad()
	require.Equal(t, 3000, cfg.Port)
	require.Equal(t, 8080, cfg.WSPort)
	require.True(t, cfg.DatabaseAutomigrate)
	require.Equal(t, 16, cfg.ChainMaxConcurrency)
	require.Equal(t, []string{"*"}, cfg.CORSOrigins)
	require.Empty(t, cfg.RedisURL)
}

func TestMustLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv("DATABASE_URL", "user:pass@tcp(localhost:3306)/analysis")
	os.Setenv("PORT", "4000")
	os.Setenv("WS_PORT", "9090")
	os.Setenv("DATABASE_AUTOMIGRATE", "false")
	os.Setenv("CHAIN_MAX_CONCURRENCY", "32")
	os.Setenv("REDIS_URL", "redis://localhost:6379/0")
	os.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	defer clearEnv(t)

	cfg := MustLoad()
	require.Equal(t, 4000, cfg.Port)
	require.Equal(t, 9090, cfg.WSPort)
	require.False(t, cfg.DatabaseAutomigrate)
	require.Equal(t, 32, cfg.ChainMaxConcurrency)
	require.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestSplitCSVFallsBackToWildcard(t *testing.T) {
	require.Equal(t, []string{"*"}, splitCSV("   "))
	require.Equal(t, []string{"*"}, splitCSV(",,"))
}
