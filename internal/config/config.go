package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Update / Scheduler
	UpdateInterval   time.Duration
	DriftThreshold   time.Duration
	DomainMinSpacing time.Duration

	// Fetch
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int
	UserAgent          string
	SSRFProtection     bool

	// Resolve
	ResolveMaxDepth int
	ResolveCacheTTL time.Duration
	RedisURL        string

	// Category
	CategoryRulesFile string

	// Cleanup
	RetentionDays int
	CleanupSchedule string

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.UpdateInterval = getEnvDuration("UPDATE_INTERVAL", 10*time.Minute)
	cfg.DriftThreshold = getEnvDuration("DRIFT_THRESHOLD", 30*time.Second)
	cfg.DomainMinSpacing = getEnvDuration("DOMAIN_MIN_SPACING", time.Second)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 8)
	cfg.UserAgent = getEnvString("USER_AGENT", "Feedsync/1.0 (+feed discovery)")
	cfg.SSRFProtection = getEnvBool("SSRF_PROTECTION", true)
	cfg.ResolveMaxDepth = getEnvInt("RESOLVE_MAX_DEPTH", 2)
	cfg.ResolveCacheTTL = getEnvDuration("RESOLVE_CACHE_TTL", time.Hour)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.CategoryRulesFile = getEnvString("CATEGORY_RULES_FILE", "")
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 180)
	cfg.CleanupSchedule = getEnvString("CLEANUP_SCHEDULE", "@daily")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は起動時に検出すべき設定値の誤りを確認する。
func (c *Config) validate() error {
	var invalid []string

	if c.UpdateInterval <= 0 {
		invalid = append(invalid, "UPDATE_INTERVAL")
	}
	if c.DriftThreshold <= 0 {
		invalid = append(invalid, "DRIFT_THRESHOLD")
	}
	if c.DomainMinSpacing < 0 {
		invalid = append(invalid, "DOMAIN_MIN_SPACING")
	}
	if c.FetchTimeout <= 0 {
		invalid = append(invalid, "FETCH_TIMEOUT")
	}
	if c.FetchMaxSize <= 0 {
		invalid = append(invalid, "FETCH_MAX_SIZE")
	}
	if c.FetchMaxConcurrent <= 0 {
		invalid = append(invalid, "FETCH_MAX_CONCURRENT")
	}
	if c.ResolveMaxDepth <= 0 {
		invalid = append(invalid, "RESOLVE_MAX_DEPTH")
	}
	if c.RetentionDays <= 0 {
		invalid = append(invalid, "RETENTION_DAYS")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration values: %v", invalid)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
