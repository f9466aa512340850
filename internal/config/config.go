// Package config loads the process configuration from the environment.
// Unlike the wider bigzoro stack this service has no YAML file: every knob
// is a single env var, so MustLoad fails fast at startup instead of limping
// along with half a config the way a YAML default merge would.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config is the full set of knobs the service reads from the environment.
type Config struct {
	SolanaRPCURL string
	DatabaseURL  string

	Port   int
	WSPort int

	DatabaseAutomigrate bool
	ChainMaxConcurrency int
	RedisURL            string // empty disables the distributed tokenmeta tier
	CORSOrigins         []string
}

// MustLoad reads and validates the environment, exiting the process via
// log.Fatal if a required variable is missing or a value fails to parse.
// Optional variables fall back to setDefaults.
func MustLoad() *Config {
	cfg := &Config{}
	setDefaults(cfg)

	cfg.SolanaRPCURL = strings.TrimSpace(os.Getenv("SOLANA_RPC_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v, ok := os.LookupEnv("PORT"); ok {
		cfg.Port = mustAtoi("PORT", v)
	}
	if v, ok := os.LookupEnv("WS_PORT"); ok {
		cfg.WSPort = mustAtoi("WS_PORT", v)
	}
	if v, ok := os.LookupEnv("DATABASE_AUTOMIGRATE"); ok {
		cfg.DatabaseAutomigrate = mustAtob("DATABASE_AUTOMIGRATE", v)
	}
	if v, ok := os.LookupEnv("CHAIN_MAX_CONCURRENCY"); ok {
		cfg.ChainMaxConcurrency = mustAtoi("CHAIN_MAX_CONCURRENCY", v)
	}
	if v, ok := os.LookupEnv("REDIS_URL"); ok {
		cfg.RedisURL = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		cfg.CORSOrigins = splitCSV(v)
	}

	validate(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	cfg.Port = 3000
	cfg.WSPort = 8080
	cfg.DatabaseAutomigrate = true
	cfg.ChainMaxConcurrency = 16
	cfg.CORSOrigins = []string{"*"}
}

// validate enforces the two required variables, then rejects a PORT, WS_PORT
// or CHAIN_MAX_CONCURRENCY that is not a positive integer. Both kinds of
// failure are fatal.
func validate(cfg *Config) {
	var missing []string
	if cfg.SolanaRPCURL == "" {
		missing = append(missing, "SOLANA_RPC_URL")
	}
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		log.Fatalf("[config] missing required environment variable(s): %s", strings.Join(missing, ", "))
	}
	if cfg.Port <= 0 {
		log.Fatalf("[config] PORT must be a positive integer, got %d", cfg.Port)
	}
	if cfg.WSPort <= 0 {
		log.Fatalf("[config] WS_PORT must be a positive integer, got %d", cfg.WSPort)
	}
	if cfg.ChainMaxConcurrency <= 0 {
		log.Fatalf("[config] CHAIN_MAX_CONCURRENCY must be a positive integer, got %d", cfg.ChainMaxConcurrency)
	}
}

func mustAtoi(name, v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Fatalf("[config] %s must be an integer, got %q", name, v)
	}
	return n
}

func mustAtob(name, v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Fatalf("[config] %s must be a boolean, got %q", name, v)
	}
	return b
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
