// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/roster/roster/internal/broker"
)

// Broker backends.
const (
	BrokerRedis  = broker.BackendRedis
	BrokerAMQP   = broker.BackendAMQP
	BrokerMemory = broker.BackendMemory
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Job broker: "redis" or "amqp" (durable, multi-process) or "memory" (single process)
	JobBroker string `env:"JOB_BROKER" envDefault:"redis"`

	// Redis, required when JobBroker is redis
	RedisURL string `env:"REDIS_URL"`

	// RabbitMQ, required when JobBroker is amqp
	AMQPURL      string `env:"AMQP_URL"`
	AMQPPrefetch int    `env:"AMQP_PREFETCH" envDefault:"16"`

	// Optional PostgreSQL job run log
	DatabaseURL string `env:"DATABASE_URL"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Job stream
	JobStream         string        `env:"JOB_STREAM" envDefault:"user-jobs"`
	JobGroup          string        `env:"JOB_GROUP" envDefault:"user-worker-group"`
	JobPublishTimeout time.Duration `env:"JOB_PUBLISH_TIMEOUT" envDefault:"2s"`
	JobMaxRetries     int           `env:"JOB_MAX_RETRIES" envDefault:"3"`
	JobRetryBackoff   time.Duration `env:"JOB_RETRY_BACKOFF" envDefault:"500ms"`
	// A job running longer than JOB_CLAIM_IDLE can be reclaimed and run again
	// by another consumer. The owning worker never reclaims its own in-flight jobs.
	JobClaimIdle       time.Duration `env:"JOB_CLAIM_IDLE" envDefault:"5m"`
	JobClaimInterval   time.Duration `env:"JOB_CLAIM_INTERVAL" envDefault:"10s"`
	QueueDepthInterval time.Duration `env:"QUEUE_DEPTH_INTERVAL" envDefault:"5s"`

	// Worker
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	WorkerBlockTimeout time.Duration `env:"WORKER_BLOCK_TIMEOUT" envDefault:"5s"`

	// Bulk create pool size
	BulkConcurrency int `env:"BULK_CONCURRENCY" envDefault:"8"`

	// CSV files. Job paths from HTTP are resolved under DataDir.
	DataDir    string `env:"DATA_DIR" envDefault:"."`
	ExportPath string `env:"EXPORT_PATH" envDefault:"data.csv"`
	ImportPath string `env:"IMPORT_PATH" envDefault:"users_export.csv"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// UsesRedis reports whether jobs travel over Redis Streams.
func (c *Config) UsesRedis() bool {
	return c.JobBroker == BrokerRedis
}

// InProcessJobs reports whether jobs can only be consumed inside the API process.
func (c *Config) InProcessJobs() bool {
	return c.JobBroker == BrokerMemory
}

// BrokerOptions addresses the configured job broker.
func (c *Config) BrokerOptions() broker.Options {
	return broker.Options{
		Backend:  c.JobBroker,
		RedisURL: c.RedisURL,
		AMQPURL:  c.AMQPURL,
		Stream:   c.JobStream,
		Group:    c.JobGroup,
		Prefetch: c.AMQPPrefetch,
	}
}

// HasJobLog reports whether the PostgreSQL job run log is configured.
func (c *Config) HasJobLog() bool {
	return c.DatabaseURL != ""
}

// Validate checks cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.JobBroker {
	case BrokerRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when JOB_BROKER=redis"))
		}
	case BrokerAMQP:
		if c.AMQPURL == "" {
			errs = append(errs, errors.New("AMQP_URL is required when JOB_BROKER=amqp"))
		}
	case BrokerMemory:
	default:
		errs = append(errs, fmt.Errorf("JOB_BROKER must be %q, %q or %q, got %q", BrokerRedis, BrokerAMQP, BrokerMemory, c.JobBroker))
	}

	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT out of range: %d", c.AppPort))
	}
	if strings.TrimSpace(c.JobStream) == "" {
		errs = append(errs, errors.New("JOB_STREAM must not be empty"))
	}
	if strings.TrimSpace(c.JobGroup) == "" {
		errs = append(errs, errors.New("JOB_GROUP must not be empty"))
	}
	if c.JobPublishTimeout <= 0 {
		errs = append(errs, errors.New("JOB_PUBLISH_TIMEOUT must be positive"))
	}
	if c.JobMaxRetries < 1 {
		errs = append(errs, errors.New("JOB_MAX_RETRIES must be at least 1"))
	}
	for name, d := range map[string]time.Duration{
		"JOB_RETRY_BACKOFF":    c.JobRetryBackoff,
		"JOB_CLAIM_IDLE":       c.JobClaimIdle,
		"JOB_CLAIM_INTERVAL":   c.JobClaimInterval,
		"QUEUE_DEPTH_INTERVAL": c.QueueDepthInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.BulkConcurrency < 1 {
		errs = append(errs, errors.New("BULK_CONCURRENCY must be at least 1"))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("DATA_DIR must not be empty"))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
