package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-derived setting the service needs at
// startup. Load validates eagerly so a misconfigured deployment fails fast
// instead of surfacing as an obscure runtime error on first request.
type Config struct {
	AppName    string
	AppPort    string
	ListenAddr string

	MonitorPollingInterval time.Duration

	SSHHostname string
	SSHUsername string
	SSHKeyPath  string

	MongoDBURI string

	RabbitMQHost     string
	RabbitMQPort     string
	RabbitMQUsername string
	RabbitMQPassword string
	RabbitMQPath     string

	TaskRegistryPath string

	RateLimit int // requests per second per IP, 0 = disabled
	APIKeys   []string
}

// RabbitMQURL assembles the amqp091-go connection URL from the discrete
// RABBITMQ_{HOST,PORT,USERNAME,PASSWORD,PATH} variables.
func (c *Config) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/%s",
		c.RabbitMQUsername, c.RabbitMQPassword, c.RabbitMQHost, c.RabbitMQPort, c.RabbitMQPath)
}

// Load reads Config from the environment (APP_PORT, APP_NAME,
// MONITOR_POLLING_INTERVAL, SSH_*, MONGODB_URI, RABBITMQ_*) plus two
// additions the entrypoint needs: SLURMGATE_TASK_REGISTRY_PATH and
// SLURMGATE_SSH_KEY_PATH.
func Load() (*Config, error) {
	cfg := &Config{
		AppName:     getEnv("APP_NAME", "dt-slurm-proxy"),
		AppPort:     getEnv("APP_PORT", "5001"),
		SSHHostname: getEnv("SSH_HOSTNAME", "tools0.altiusinstitute.org"),
		SSHUsername: getEnv("SSH_USERNAME", "areynolds"),

		MongoDBURI: getEnv("MONGODB_URI", "mongodb://localhost:27017"),

		RabbitMQHost:     getEnv("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:     getEnv("RABBITMQ_PORT", "5672"),
		RabbitMQUsername: getEnv("RABBITMQ_USERNAME", "guest"),
		RabbitMQPassword: getEnv("RABBITMQ_PASSWORD", "guest"),
		RabbitMQPath:     getEnv("RABBITMQ_PATH", "/"),

		TaskRegistryPath: getEnv("SLURMGATE_TASK_REGISTRY_PATH", ""),
	}
	cfg.ListenAddr = ":" + cfg.AppPort

	cfg.SSHKeyPath = getEnv("SLURMGATE_SSH_KEY_PATH", "")
	if cfg.SSHKeyPath == "" {
		return nil, errors.New("SLURMGATE_SSH_KEY_PATH must not be empty")
	}

	pollingMinutes, err := getEnvInt("MONITOR_POLLING_INTERVAL", 1)
	if err != nil {
		return nil, fmt.Errorf("MONITOR_POLLING_INTERVAL: %w", err)
	}
	if pollingMinutes < 1 {
		return nil, errors.New("MONITOR_POLLING_INTERVAL must be >= 1")
	}
	cfg.MonitorPollingInterval = time.Duration(pollingMinutes) * time.Minute

	rawKeys := getEnv("SLURMGATE_API_KEYS", "")
	if rawKeys == "" {
		return nil, errors.New("SLURMGATE_API_KEYS must not be empty")
	}
	for _, k := range strings.Split(rawKeys, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			cfg.APIKeys = append(cfg.APIKeys, k)
		}
	}
	if len(cfg.APIKeys) == 0 {
		return nil, errors.New("SLURMGATE_API_KEYS contains no valid keys")
	}

	cfg.RateLimit, err = getEnvInt("SLURMGATE_RATE_LIMIT", 0)
	if err != nil {
		return nil, fmt.Errorf("SLURMGATE_RATE_LIMIT: %w", err)
	}
	if cfg.RateLimit < 0 {
		return nil, errors.New("SLURMGATE_RATE_LIMIT must be >= 0")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}
