package searchbase

import (
	"net"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisOptions returns the go-redis options for this configuration.
//
// RESP2 is forced: go-redis only parses FT.SEARCH replies reliably in RESP2,
// and nothing else in the store depends on RESP3 types.
func (c Config) RedisOptions() *redis.Options {
	opts := &redis.Options{
		Addr:     c.Addr(),
		Password: c.Password,
		DB:       c.DB,
		Protocol: 2,
	}
	if c.DialTimeout > 0 {
		opts.DialTimeout = c.DialTimeout
	}
	return opts
}

// ConfigFromEnv returns DefaultConfig overridden by environment variables.
//
// Environment variables read:
//   - SEARCHBASE_HOST, SEARCHBASE_PORT (or REDIS_ADDR as host:port)
//   - SEARCHBASE_PASSWORD (or REDIS_PASSWORD)
//   - SEARCHBASE_DB (or REDIS_DB)
//   - SEARCHBASE_INDEX_BACKEND ("redisearch" or "sets")
//   - SEARCHBASE_INDEX_PREFIX
//   - SEARCHBASE_VERSION_POLICY ("last-writer-wins" or "compare-and-swap")
//
// Malformed numeric values and unrecognised version policies keep their
// defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		if host, port, err := net.SplitHostPort(addr); err == nil {
			cfg.Host = host
			cfg.Port = atoiOr(port, cfg.Port)
		}
	}
	if host := os.Getenv("SEARCHBASE_HOST"); host != "" {
		cfg.Host = host
	}
	cfg.Port = getEnvAsInt("SEARCHBASE_PORT", cfg.Port)

	cfg.Password = os.Getenv("REDIS_PASSWORD")
	if pw := os.Getenv("SEARCHBASE_PASSWORD"); pw != "" {
		cfg.Password = pw
	}

	cfg.DB = getEnvAsInt("REDIS_DB", cfg.DB)
	cfg.DB = getEnvAsInt("SEARCHBASE_DB", cfg.DB)

	if backend := os.Getenv("SEARCHBASE_INDEX_BACKEND"); backend != "" {
		cfg.IndexBackend = backend
	}
	cfg.IndexKeyPrefix = os.Getenv("SEARCHBASE_INDEX_PREFIX")

	if policy, err := ParseVersionPolicy(os.Getenv("SEARCHBASE_VERSION_POLICY")); err == nil {
		cfg.VersionPolicy = policy
	}

	return cfg
}

// getEnvAsInt reads an integer environment variable with a default fallback.
func getEnvAsInt(key string, defaultVal int) int {
	return atoiOr(os.Getenv(key), defaultVal)
}

func atoiOr(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	value, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return value
}
