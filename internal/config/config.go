package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OutputDir     string
	DBPath        string
	LedgerEnabled bool
	FormatsFile   string
	MetricsFile   string
	InboxDir      string

	HeaderScanRows int
	SignatureRows  int
	PriceTolerance float64
	Workers        int
	WatchInterval  time.Duration

	LogLevel  string
	LogFormat string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		OutputDir:     getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),
		DBPath:        getEnv("DB_PATH", filepath.Join(cwd, "data", "runs.db")),
		LedgerEnabled: getEnvBool("LEDGER_ENABLED", true),
		FormatsFile:   getEnv("FORMATS_FILE", ""),
		MetricsFile:   getEnv("METRICS_FILE", ""),
		InboxDir:      getEnv("INBOX_DIR", filepath.Join(cwd, "inbox")),

		HeaderScanRows: getEnvInt("HEADER_SCAN_ROWS", 5),
		SignatureRows:  getEnvInt("SIGNATURE_ROWS", 5),
		PriceTolerance: getEnvFloat("PRICE_TOLERANCE", 0.01),
		Workers:        getEnvInt("WORKERS", 4),
		WatchInterval:  time.Duration(getEnvInt("WATCH_INTERVAL_SEC", 30)) * time.Second,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("OUTPUT_DIR must not be empty")
	}
	if c.LedgerEnabled && strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("DB_PATH must not be empty when the ledger is enabled")
	}
	if c.HeaderScanRows < 0 {
		return fmt.Errorf("HEADER_SCAN_ROWS must be >= 0, got %d", c.HeaderScanRows)
	}
	if c.SignatureRows < 1 {
		return fmt.Errorf("SIGNATURE_ROWS must be >= 1, got %d", c.SignatureRows)
	}
	if c.PriceTolerance < 0 {
		return fmt.Errorf("PRICE_TOLERANCE must be >= 0, got %v", c.PriceTolerance)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be >= 1, got %d", c.Workers)
	}
	if c.WatchInterval < time.Second {
		return fmt.Errorf("WATCH_INTERVAL_SEC must be >= 1, got %v", c.WatchInterval)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
