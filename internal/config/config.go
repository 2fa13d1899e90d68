// Package config loads and validates all runtime configuration for the
// proxy.
//
// Configuration is read from environment variables (preferred for
// containers) or from a config.yaml file in the working directory.
// Environment variables take precedence over the YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/rpcproxy/internal/rpcproxy"
)

// Config is the top-level configuration container, covering the core's
// recognized config (cacheTtlMs, latencyTimeoutMs, requestTimeoutMs,
// cacheKey, disableCache, logLevel) plus the glue the HTTP front-end and
// cache backend need. There is no inline whitelist option: the whitelist
// always comes from the file at WhitelistPath.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level: debug, info, warn, error, none.
	// Default: warn.
	LogLevel string

	// WhitelistPath is the path to the whitelist JSON file, loaded once at
	// startup.
	WhitelistPath string

	// CacheTTL is the freshness window for a chain's cache entry.
	// Default: 1h (cacheTtlMs default 3,600,000).
	CacheTTL time.Duration

	// LatencyTimeout is the shared per-call deadline for the prober's two
	// probe calls. Default: 5s.
	LatencyTimeout time.Duration

	// RequestTimeout is the per-attempt deadline for a dispatched call.
	// Default: 10s.
	RequestTimeout time.Duration

	// CacheKey is the KV key the whole CacheRoot is stored under.
	// Default: "permit2RpcManagerCache".
	CacheKey string

	// DisableCache turns every cache read into a miss and every write into
	// a no-op. Also set true by DISABLE_RPC_CACHE ∈ {"true","1"}.
	DisableCache bool

	// ExcludeChains lists chain IDs that always re-probe, ignoring TTL.
	ExcludeChains []rpcproxy.ChainId

	// ExcludeChainPatterns is a list of regexes matched against a chain
	// ID's decimal string; matching chains always re-probe.
	ExcludeChainPatterns []string

	// Redis holds the connection URL for the Redis-backed cache.
	// Required only when CacheMode is "redis".
	Redis RedisConfig

	// CacheMode selects the cache backend: "redis" or "memory".
	// Default: "memory".
	CacheMode string

	// CORSOrigins is the list of allowed CORS origins.
	CORSOrigins []string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL string
}

// Load reads configuration from environment variables and (optionally)
// from config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "warn")
	v.SetDefault("WHITELIST_PATH", "whitelist.json")
	v.SetDefault("CACHE_TTL_MS", 3_600_000)
	v.SetDefault("LATENCY_TIMEOUT_MS", 5_000)
	v.SetDefault("REQUEST_TIMEOUT_MS", 10_000)
	v.SetDefault("CACHE_KEY", "permit2RpcManagerCache")
	v.SetDefault("DISABLE_RPC_CACHE", false)
	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	disableCache := v.GetBool("DISABLE_RPC_CACHE")
	if !disableCache {
		raw := strings.ToLower(strings.TrimSpace(v.GetString("DISABLE_RPC_CACHE")))
		disableCache = raw == "true" || raw == "1"
	}

	cfg := &Config{
		Port:                 v.GetInt("PORT"),
		LogLevel:             strings.ToLower(v.GetString("LOG_LEVEL")),
		WhitelistPath:        v.GetString("WHITELIST_PATH"),
		CacheTTL:             time.Duration(v.GetInt64("CACHE_TTL_MS")) * time.Millisecond,
		LatencyTimeout:       time.Duration(v.GetInt64("LATENCY_TIMEOUT_MS")) * time.Millisecond,
		RequestTimeout:       time.Duration(v.GetInt64("REQUEST_TIMEOUT_MS")) * time.Millisecond,
		CacheKey:             v.GetString("CACHE_KEY"),
		DisableCache:         disableCache,
		ExcludeChains:        parseChainIDs(v.GetStringSlice("CACHE_EXCLUDE_CHAINS")),
		ExcludeChainPatterns: v.GetStringSlice("CACHE_EXCLUDE_CHAIN_PATTERNS"),
		Redis:                RedisConfig{URL: v.GetString("REDIS_URL")},
		CacheMode:            strings.ToLower(v.GetString("CACHE_MODE")),
		CORSOrigins:          v.GetStringSlice("CORS_ORIGINS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseChainIDs(raw []string) []rpcproxy.ChainId {
	out := make([]rpcproxy.ChainId, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.CacheMode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}

	switch c.CacheMode {
	case "redis", "memory":
	default:
		return fmt.Errorf("config: invalid CACHE_MODE %q; must be one of: redis, memory", c.CacheMode)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "none":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error, none",
			c.LogLevel,
		)
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: CACHE_TTL_MS must be a positive duration")
	}
	if c.LatencyTimeout <= 0 {
		return fmt.Errorf("config: LATENCY_TIMEOUT_MS must be a positive duration")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: REQUEST_TIMEOUT_MS must be a positive duration")
	}
	if c.CacheKey == "" {
		return fmt.Errorf("config: CACHE_KEY must not be empty")
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
