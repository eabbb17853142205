// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir   string // base directory for snapshots and the index database
	LogLevel  string
	LogPretty bool
	Port      int

	Proxy    ProxyConfig
	Fetch    FetchConfig
	Pipeline PipelineConfig
	Schedule ScheduleConfig
	Backup   BackupConfig

	CalendarPath string // optional market-closure list, one date per line
	StrategyFile string // optional YAML strategy parameter override
	Preset       string // conservative | balanced | aggressive
}

// ProxyConfig configures the egress credential source.
type ProxyConfig struct {
	EndpointURL   string // credential-issuing HTTP endpoint; empty = direct
	StaticAddress string // fixed proxy address, used when EndpointURL is empty
}

// FetchConfig tunes the upstream client and orchestrator.
type FetchConfig struct {
	Concurrency       int
	SeriesConcurrency int
	Attempts          int
	PageSize          int
	TimeoutSeconds    int
	RatePerSecond     float64
}

// PipelineConfig tunes pipeline behavior.
type PipelineConfig struct {
	TopN      int
	Blocklist []string
}

// ScheduleConfig configures the cron-driven scans.
type ScheduleConfig struct {
	Enabled      bool
	AfternoonRun string // cron spec with seconds
	BackupRun    string
}

// BackupConfig configures snapshot archival to S3-compatible storage.
type BackupConfig struct {
	Enabled   bool
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

// defaultBlocklist excludes risk-flagged names and non-tradable code
// prefixes (delisting, new listings, Beijing exchange, STAR market, NEEQ).
var defaultBlocklist = []string{
	"*ST", "ST", "退市", "N", "L", "C", "U", "bj", "BJ",
	"688", "83", "87", "88", "89", "90", "91", "92",
	"93", "94", "95", "96", "97", "98", "99",
}

// Load reads configuration from environment variables. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("TAILSCAN_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		Port:      getEnvAsInt("PORT", 8030),
		Proxy: ProxyConfig{
			EndpointURL:   getEnv("PROXY_ENDPOINT_URL", ""),
			StaticAddress: getEnv("PROXY_STATIC_ADDRESS", ""),
		},
		Fetch: FetchConfig{
			Concurrency:       getEnvAsInt("FETCH_CONCURRENCY", 10),
			SeriesConcurrency: getEnvAsInt("FETCH_SERIES_CONCURRENCY", 25),
			Attempts:          getEnvAsInt("FETCH_ATTEMPTS", 3),
			PageSize:          getEnvAsInt("FETCH_PAGE_SIZE", 100),
			TimeoutSeconds:    getEnvAsInt("FETCH_TIMEOUT_SECONDS", 10),
			RatePerSecond:     getEnvAsFloat("FETCH_RATE_PER_SECOND", 5),
		},
		Pipeline: PipelineConfig{
			TopN:      getEnvAsInt("PIPELINE_TOP_N", 10),
			Blocklist: getEnvAsSlice("PIPELINE_BLOCKLIST", defaultBlocklist),
		},
		Schedule: ScheduleConfig{
			Enabled:      getEnvAsBool("SCHEDULE_ENABLED", true),
			AfternoonRun: getEnv("SCHEDULE_AFTERNOON_RUN", "0 35 14 * * MON-FRI"),
			BackupRun:    getEnv("SCHEDULE_BACKUP_RUN", "0 30 16 * * MON-FRI"),
		},
		Backup: BackupConfig{
			Enabled:   getEnvAsBool("BACKUP_ENABLED", false),
			Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
			Prefix:    getEnv("BACKUP_S3_PREFIX", "tailscan"),
		},
		CalendarPath: getEnv("CALENDAR_PATH", ""),
		StrategyFile: getEnv("STRATEGY_FILE", ""),
		Preset:       getEnv("STRATEGY_PRESET", "balanced"),
	}

	if cfg.Backup.Enabled && cfg.Backup.Bucket == "" {
		return nil, fmt.Errorf("BACKUP_ENABLED requires BACKUP_S3_BUCKET")
	}

	return cfg, nil
}

// SnapshotDir returns the directory holding snapshot payload files.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}

// IndexDBPath returns the snapshot index database path.
func (c *Config) IndexDBPath() string {
	return filepath.Join(c.DataDir, "index.db")
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
