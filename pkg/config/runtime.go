package config

import "time"

// RuntimeConfig holds configuration for a deployment runtime process.
type RuntimeConfig struct {
	Environment          string        `validate:"oneof=local deployment"`
	ControlAddr          string        `validate:"required"`
	ControlToken         string
	DeploymentID         string        `validate:"omitempty,uuid"`
	LogLevel             string        `validate:"omitempty,oneof=debug info warn warning error"`
	LogStoreURL          string        `validate:"omitempty,url"`
	LogStoreToken        string
	LogBatchCapacity     int           `validate:"gte=1"`
	LogBatchInterval     time.Duration `validate:"gt=0"`
	LogRateLimitCooldown time.Duration `validate:"gte=0"`
	SecretsKey           string
	ProvisionerURL       string `validate:"omitempty,url"`
	ProvisionerToken     string
	LocalProvisioner     bool
	DockerHost           string
	PostgresImage        string `validate:"required"`
	PostgresPassword     string
	RedisImage           string `validate:"required"`
	StoragePath          string `validate:"required"`
	ShutdownTimeout      time.Duration `validate:"gt=0"`
}

// LoadRuntimeConfig constructs a RuntimeConfig from environment variables.
func LoadRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Environment:          GetString("RUNTIME_ENV", "local"),
		ControlAddr:          GetString("RUNTIME_CONTROL_ADDR", "127.0.0.1:6001"),
		ControlToken:         GetString("RUNTIME_CONTROL_TOKEN", ""),
		DeploymentID:         GetString("RUNTIME_DEPLOYMENT_ID", ""),
		LogLevel:             GetString("RUNTIME_LOG_LEVEL", "info"),
		LogStoreURL:          GetString("RUNTIME_LOGSTORE_URL", ""),
		LogStoreToken:        GetString("RUNTIME_LOGSTORE_TOKEN", ""),
		LogBatchCapacity:     GetInt("RUNTIME_LOG_BATCH_CAPACITY", 256),
		LogBatchInterval:     GetDuration("RUNTIME_LOG_BATCH_INTERVAL", time.Second),
		LogRateLimitCooldown: GetDuration("RUNTIME_LOG_RATE_LIMIT_COOLDOWN", 1500*time.Millisecond),
		SecretsKey:           GetString("RUNTIME_SECRETS_KEY", ""),
		ProvisionerURL:       GetString("RUNTIME_PROVISIONER_URL", ""),
		ProvisionerToken:     GetString("RUNTIME_PROVISIONER_TOKEN", ""),
		LocalProvisioner:     GetBool("RUNTIME_LOCAL_PROVISIONER", false),
		DockerHost:           GetString("DOCKER_HOST", ""),
		PostgresImage:        GetString("RUNTIME_POSTGRES_IMAGE", "postgres:16-alpine"),
		PostgresPassword:     GetString("RUNTIME_POSTGRES_PASSWORD", "postgres"),
		RedisImage:           GetString("RUNTIME_REDIS_IMAGE", "redis:7-alpine"),
		StoragePath:          GetString("RUNTIME_STORAGE_PATH", ".peep-storage"),
		ShutdownTimeout:      time.Duration(GetInt("RUNTIME_SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}
