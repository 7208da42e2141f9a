package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string
	TallyEnv string

	// Commit log backend: bbolt file when LedgerDBPath is set, postgres
	// when PostgresDSN is set, in-memory otherwise.
	LedgerDBPath string
	PostgresDSN  string

	AdminAPIKey string

	LedgerKeyID             string
	LedgerPrivateKeyBase64  string
	LedgerPrivateKeySeedHex string
	KeyBackend              string
	KeyRotationDays         int

	VaultAddr  string
	VaultToken string

	AttestIntervalSeconds int
	AttestBatch           int

	WitnessURLs       []string
	WitnessTimeoutSec int

	PolicyBundlePath string
	PolicyBundleID   string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                addr,
		TallyEnv:                os.Getenv("TALLY_ENV"),
		LedgerDBPath:            os.Getenv("LEDGER_DB_PATH"),
		PostgresDSN:             os.Getenv("POSTGRES_DSN"),
		AdminAPIKey:             os.Getenv("ADMIN_API_KEY"),
		LedgerKeyID:             envDefault("LEDGER_KEY_ID", "ledger-key-1"),
		LedgerPrivateKeyBase64:  os.Getenv("LEDGER_PRIVATE_KEY_BASE64"),
		LedgerPrivateKeySeedHex: os.Getenv("LEDGER_PRIVATE_KEY_SEED_HEX"),
		KeyBackend:              envDefault("KEY_BACKEND", "soft"),
		KeyRotationDays:         envIntDefault("KEY_ROTATION_DAYS", 90),
		VaultAddr:               os.Getenv("VAULT_ADDR"),
		VaultToken:              os.Getenv("VAULT_TOKEN"),
		AttestIntervalSeconds:   envIntDefault("ATTEST_INTERVAL_SECONDS", 5),
		AttestBatch:             envIntDefault("ATTEST_BATCH", 0),
		WitnessURLs:             envList("WITNESS_URLS"),
		WitnessTimeoutSec:       envIntDefault("WITNESS_TIMEOUT_SECONDS", 2),
		PolicyBundlePath:        os.Getenv("POLICY_BUNDLE_PATH"),
		PolicyBundleID:          envDefault("POLICY_BUNDLE_ID", "admission"),
		RateLimitRequests:       envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:  envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:     envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:        envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) AttestInterval() time.Duration {
	if c.AttestIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.AttestIntervalSeconds) * time.Second
}

func (c Config) WitnessTimeout() time.Duration {
	if c.WitnessTimeoutSec <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.WitnessTimeoutSec) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func (c Config) KeyRotationInterval() time.Duration {
	if c.KeyRotationDays <= 0 {
		return 0
	}
	return time.Duration(c.KeyRotationDays) * 24 * time.Hour
}
