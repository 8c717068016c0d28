package conveyor

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds configuration for the Kernel and its worker runtime.
type Config struct {
	// Queues is the list of queue names the worker runtime polls.
	Queues []string `env:"CONVEYOR_QUEUES" envSeparator:","`

	// PollInterval is how long the runtime sleeps after an empty poll.
	PollInterval time.Duration `env:"CONVEYOR_POLL_INTERVAL"`

	// TenantBurst is the maximum number of messages dequeued from one
	// tenant before moving to the next, bounding per-tenant starvation.
	TenantBurst int `env:"CONVEYOR_TENANT_BURST"`

	// MaxMessagesPerIteration caps total work per poll iteration.
	MaxMessagesPerIteration int `env:"CONVEYOR_MAX_PER_ITERATION"`

	// MaxRetries is the default retry budget for jobs that do not set
	// their own.
	MaxRetries int `env:"CONVEYOR_MAX_RETRIES"`

	// BackoffBase is the exponential backoff base delay.
	BackoffBase time.Duration `env:"CONVEYOR_BACKOFF_BASE"`

	// BackoffCap bounds the computed backoff delay.
	BackoffCap time.Duration `env:"CONVEYOR_BACKOFF_CAP"`

	// ResumeTokenTTL is how long an issued resume token stays valid,
	// measured from issuance.
	ResumeTokenTTL time.Duration `env:"CONVEYOR_RESUME_TOKEN_TTL"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `env:"CONVEYOR_SHUTDOWN_TIMEOUT"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Queues:                  []string{"default"},
		PollInterval:            1 * time.Second,
		TenantBurst:             5,
		MaxMessagesPerIteration: 50,
		MaxRetries:              3,
		BackoffBase:             500 * time.Millisecond,
		BackoffCap:              60 * time.Second,
		ResumeTokenTTL:          24 * time.Hour,
		ShutdownTimeout:         30 * time.Second,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by CONVEYOR_* environment
// variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
