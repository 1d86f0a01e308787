package config

import "time"

// LogStoreConfig holds configuration for the log store service.
type LogStoreConfig struct {
	Environment        string `validate:"required"`
	Addr               string `validate:"required"`
	LogLevel           string `validate:"omitempty,oneof=debug info warn warning error"`
	DatabaseURL        string `validate:"required"`
	JWTSecret          string
	RateLimitRefresh   time.Duration `validate:"gt=0"`
	RateLimitBurst     int           `validate:"gte=1"`
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int `validate:"gte=0"`
	ListLimit          int `validate:"gte=1"`
	ShutdownTimeout    time.Duration `validate:"gt=0"`
}

// LoadLogStoreConfig constructs a LogStoreConfig from environment variables.
func LoadLogStoreConfig() LogStoreConfig {
	return LogStoreConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("LOGSTORE_ADDR", ":8010"),
		LogLevel:           GetString("LOGSTORE_LOG_LEVEL", "info"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://peep:peep@db:5432/logs?sslmode=disable"),
		JWTSecret:          GetString("LOGSTORE_JWT_SECRET", ""),
		RateLimitRefresh:   GetDuration("LOGSTORE_RATE_LIMIT_REFRESH", 500*time.Millisecond),
		RateLimitBurst:     GetInt("LOGSTORE_RATE_LIMIT_BURST", 6),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		ListLimit:          GetInt("LOGSTORE_LIST_LIMIT", 500),
		ShutdownTimeout:    time.Duration(GetInt("LOGSTORE_SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}
