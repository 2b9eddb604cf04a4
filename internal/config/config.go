package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB_USERNAME string
	DB_PASSWORD string
	DB_HOST     string
	DB_PORT     string
	DB_NAME     string
	DISABLE_TLS string

	// First-party session tokens
	JWT_SECRET string

	// Optional OIDC SSO (school Google Workspace etc.)
	OIDC_ISSUER        string
	OIDC_CLIENT_ID     string
	OIDC_CLIENT_SECRET string
	OIDC_CALLBACK_URL  string
	STATE_SECRET       string

	// Calendar service
	CALENDAR_BASE_URL      string
	CALENDAR_ID            string
	CALENDAR_RATE_PER_MIN  int
	CALENDAR_TOKEN_URL     string
	CALENDAR_CLIENT_ID     string
	CALENDAR_CLIENT_SECRET string

	// Spreadsheet-backed ledger
	LEDGER_BASE_URL       string
	LEDGER_SPREADSHEET_ID string
	LEDGER_SHEET          string
	LEDGER_RATE_PER_100S  int
	LEDGER_BATCH_ROWS     int
	LEDGER_TOKEN_URL      string
	LEDGER_CLIENT_ID      string
	LEDGER_CLIENT_SECRET  string

	// Sync cadence
	SYNC_INTERVAL        time.Duration
	SYNC_DEBOUNCE        time.Duration
	SYNC_BACKOFF_CEILING int

	// Redis for distributed adapter rate limits (optional)
	REDIS_ADDR     string
	REDIS_PASSWORD string

	// ClickHouse for the sync audit trail (optional)
	CLICKHOUSE_HOST     string
	CLICKHOUSE_PORT     int
	CLICKHOUSE_DATABASE string
	CLICKHOUSE_USERNAME string
	CLICKHOUSE_PASSWORD string
	CLICKHOUSE_USE_TLS  bool

	// Otel
	OTEL_EXPORTER_OTLP_ENDPOINT string

	API_PORT int
}

func ReadConfig() *Config {
	return &Config{
		DB_USERNAME: os.Getenv("DB_USERNAME"),
		DB_PASSWORD: os.Getenv("DB_PASSWORD"),
		DB_HOST:     os.Getenv("DB_HOST"),
		DB_PORT:     os.Getenv("DB_PORT"),
		DB_NAME:     os.Getenv("DB_NAME"),
		DISABLE_TLS: os.Getenv("DISABLE_TLS"),

		JWT_SECRET: os.Getenv("JWT_SECRET"),

		OIDC_ISSUER:        os.Getenv("OIDC_ISSUER"),
		OIDC_CLIENT_ID:     os.Getenv("OIDC_CLIENT_ID"),
		OIDC_CLIENT_SECRET: os.Getenv("OIDC_CLIENT_SECRET"),
		OIDC_CALLBACK_URL:  os.Getenv("OIDC_CALLBACK_URL"),
		STATE_SECRET:       os.Getenv("STATE_SECRET"),

		CALENDAR_BASE_URL:      os.Getenv("CALENDAR_BASE_URL"),
		CALENDAR_ID:            GetEnvOrDefault("CALENDAR_ID", "primary"),
		CALENDAR_RATE_PER_MIN:  getEnvInt("CALENDAR_RATE_PER_MIN", 60),
		CALENDAR_TOKEN_URL:     os.Getenv("CALENDAR_TOKEN_URL"),
		CALENDAR_CLIENT_ID:     os.Getenv("CALENDAR_CLIENT_ID"),
		CALENDAR_CLIENT_SECRET: os.Getenv("CALENDAR_CLIENT_SECRET"),

		LEDGER_BASE_URL:       os.Getenv("LEDGER_BASE_URL"),
		LEDGER_SPREADSHEET_ID: os.Getenv("LEDGER_SPREADSHEET_ID"),
		LEDGER_SHEET:          GetEnvOrDefault("LEDGER_SHEET", "Transactions"),
		LEDGER_RATE_PER_100S:  getEnvInt("LEDGER_RATE_PER_100S", 100),
		LEDGER_BATCH_ROWS:     getEnvInt("LEDGER_BATCH_ROWS", 500),
		LEDGER_TOKEN_URL:      os.Getenv("LEDGER_TOKEN_URL"),
		LEDGER_CLIENT_ID:      os.Getenv("LEDGER_CLIENT_ID"),
		LEDGER_CLIENT_SECRET:  os.Getenv("LEDGER_CLIENT_SECRET"),

		SYNC_INTERVAL:        getEnvDuration("SYNC_INTERVAL", 5*time.Minute),
		SYNC_DEBOUNCE:        getEnvDuration("SYNC_DEBOUNCE", 2*time.Second),
		SYNC_BACKOFF_CEILING: getEnvInt("SYNC_BACKOFF_CEILING", 8),

		REDIS_ADDR:     os.Getenv("REDIS_ADDR"),
		REDIS_PASSWORD: os.Getenv("REDIS_PASSWORD"),

		CLICKHOUSE_HOST:     os.Getenv("CLICKHOUSE_HOST"),
		CLICKHOUSE_PORT:     getEnvInt("CLICKHOUSE_PORT", 8123),
		CLICKHOUSE_DATABASE: GetEnvOrDefault("CLICKHOUSE_DATABASE", "orgsync"),
		CLICKHOUSE_USERNAME: GetEnvOrDefault("CLICKHOUSE_USERNAME", "default"),
		CLICKHOUSE_PASSWORD: os.Getenv("CLICKHOUSE_PASSWORD"),
		CLICKHOUSE_USE_TLS:  os.Getenv("CLICKHOUSE_USE_TLS") == "true",

		OTEL_EXPORTER_OTLP_ENDPOINT: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		API_PORT: getEnvInt("API_PORT", 6060),
	}
}

func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			return v
		}
	}
	return defaultValue
}
