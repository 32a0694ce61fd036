package storage

import (
	"log/slog"
	"time"

	"streamhub/internal/auth"
)

// Option configures any of the repository backends. Backend-specific fields
// are ignored by the others.
type Option func(*options)

type options struct {
	now                func() time.Time
	passwordIterations int
	logger             *slog.Logger

	maxConnections      int32
	minConnections      int32
	maxConnLifetime     time.Duration
	maxConnIdleTime     time.Duration
	healthCheckInterval time.Duration
	connectTimeout      time.Duration
	applicationName     string

	operationTimeout time.Duration
}

func newOptions(opts ...Option) options {
	cfg := options{
		now:                func() time.Time { return time.Now().UTC() },
		passwordIterations: auth.DefaultPasswordIterations,
		logger:             slog.Default(),
		operationTimeout:   10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = func() time.Time { return now().UTC() }
		}
	}
}

// WithPasswordIterations sets the PBKDF2 work factor for new accounts.
func WithPasswordIterations(iterations int) Option {
	return func(o *options) {
		if iterations > 0 {
			o.passwordIterations = iterations
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPoolLimits bounds the Postgres connection pool.
func WithPoolLimits(maxConns, minConns int32) Option {
	return func(o *options) {
		o.maxConnections = maxConns
		o.minConnections = minConns
	}
}

// WithConnLifetimes tunes Postgres connection recycling.
func WithConnLifetimes(maxLifetime, maxIdle, healthCheck time.Duration) Option {
	return func(o *options) {
		o.maxConnLifetime = maxLifetime
		o.maxConnIdleTime = maxIdle
		o.healthCheckInterval = healthCheck
	}
}

// WithConnectTimeout bounds establishing new database connections.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = timeout
	}
}

// WithApplicationName tags Postgres sessions for pg_stat_activity.
func WithApplicationName(name string) Option {
	return func(o *options) {
		o.applicationName = name
	}
}

// WithOperationTimeout bounds each Mongo operation.
func WithOperationTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.operationTimeout = timeout
		}
	}
}
