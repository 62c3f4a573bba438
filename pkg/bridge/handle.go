package bridge

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	bberrors "github.com/vnykmshr/blockbridge/pkg/common/errors"
	"github.com/vnykmshr/blockbridge/pkg/common/logging"
	"github.com/vnykmshr/blockbridge/pkg/common/validation"
	"github.com/vnykmshr/blockbridge/pkg/metrics"
	"github.com/vnykmshr/blockbridge/pkg/scheduling/dispatch"
	"github.com/vnykmshr/blockbridge/pkg/scheduling/workerpool"
)

// EnvPrefix prefixes every variable read by LoadConfigFromEnv.
const EnvPrefix = "BLOCKBRIDGE_"

// ErrHandleClosed is returned by Close once every reference has been
// dropped.
var ErrHandleClosed = fmt.Errorf("bridge handle is closed: %w", bberrors.ErrClosed)

// Config configures the worker pool behind a Handle.
type Config struct {
	// Name labels logs and metrics.
	Name string

	// Workers is the number of worker goroutines. Zero means
	// 5 * GOMAXPROCS.
	Workers int

	// QueueSize bounds the dispatch queue. Zero means unbounded.
	QueueSize int

	// Backpressure applies when a bounded queue is full. Block parks the
	// submission on a helper goroutine; FailFast resolves the call with
	// KindResourceAcquisitionFailed.
	Backpressure dispatch.Strategy

	// DefaultTimeout applies to every call without WithTimeout. Zero means
	// no timeout.
	DefaultTimeout time.Duration

	// ShutdownTimeout bounds Close when its context has no deadline.
	ShutdownTimeout time.Duration

	// LockOSThread pins each worker to its own OS thread.
	LockOSThread bool

	// Logger receives bridge and pool logs. Nil uses a Warn-level default.
	Logger *logrus.Logger

	// Metrics controls Prometheus export.
	Metrics metrics.Config
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Name:            "blockbridge",
		Workers:         0,
		QueueSize:       0,
		Backpressure:    dispatch.Block,
		ShutdownTimeout: 30 * time.Second,
		Metrics:         metrics.Config{Enabled: false},
	}
}

// envConfig holds the subset of Config that can come from the environment.
type envConfig struct {
	Name            string            `env:"NAME" envDefault:"blockbridge"`
	Workers         int               `env:"WORKERS" envDefault:"0"`
	QueueSize       int               `env:"QUEUE_SIZE" envDefault:"0"`
	Backpressure    dispatch.Strategy `env:"BACKPRESSURE" envDefault:"block"`
	DefaultTimeout  time.Duration     `env:"DEFAULT_TIMEOUT" envDefault:"0s"`
	ShutdownTimeout time.Duration     `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	LockOSThread    bool              `env:"LOCK_OS_THREAD" envDefault:"false"`
	LogLevel        string            `env:"LOG_LEVEL" envDefault:"warn"`
	MetricsEnabled  bool              `env:"METRICS_ENABLED" envDefault:"false"`
}

// LoadConfigFromEnv reads BLOCKBRIDGE_* variables on top of the defaults.
// BLOCKBRIDGE_LOG_LEVEL sets the level of a fresh logger.
func LoadConfigFromEnv() (Config, error) {
	ec, err := env.ParseAsWithOptions[envConfig](env.Options{Prefix: EnvPrefix})
	if err != nil {
		return Config{}, fmt.Errorf("bridge: load config: %w", err)
	}

	level, err := logging.ParseLevel("bridge", ec.LogLevel)
	if err != nil {
		return Config{}, err
	}
	logger := logrus.New()
	logger.SetLevel(level)

	config := Config{
		Name:            ec.Name,
		Workers:         ec.Workers,
		QueueSize:       ec.QueueSize,
		Backpressure:    ec.Backpressure,
		DefaultTimeout:  ec.DefaultTimeout,
		ShutdownTimeout: ec.ShutdownTimeout,
		LockOSThread:    ec.LockOSThread,
		Logger:          logger,
		Metrics:         metrics.Config{Enabled: ec.MetricsEnabled},
	}
	return config, config.Validate()
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validation.ValidateNonNegative("bridge", "workers", c.Workers); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("bridge", "queue_size", c.QueueSize); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration("bridge", "default_timeout", c.DefaultTimeout); err != nil {
		return err
	}
	return validation.ValidateNonNegativeDuration("bridge", "shutdown_timeout", c.ShutdownTimeout)
}

// DefaultWorkers is the pool size used when Config.Workers is zero.
func DefaultWorkers() int {
	return 5 * runtime.GOMAXPROCS(0)
}

// Handle is a shared, reference-counted handle on a worker pool. Every call
// site receives it explicitly; the pool shuts down when the last reference
// is closed. Its configuration is fixed at construction.
type Handle struct {
	config   Config
	logger   *logrus.Entry
	pool     workerpool.Pool
	registry *metrics.Registry

	refs   atomic.Int64
	closed atomic.Bool
}

// NewHandle starts a worker pool and returns a handle holding one
// reference.
func NewHandle(config Config) (*Handle, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = DefaultConfig().Name
	}
	if config.Workers == 0 {
		config.Workers = DefaultWorkers()
	}
	config.Logger = logging.OrDefault(config.Logger)

	registry, err := metrics.Resolve(config.Metrics)
	if err != nil {
		return nil, fmt.Errorf("bridge: register metrics for pool %q: %w", config.Name, err)
	}

	base, err := workerpool.NewWithConfig(workerpool.Config{
		Name:         config.Name,
		WorkerCount:  config.Workers,
		QueueSize:    config.QueueSize,
		Backpressure: config.Backpressure,
		LockOSThread: config.LockOSThread,
		Logger:       config.Logger,
	})
	if err != nil {
		return nil, err
	}

	h := &Handle{
		config:   config,
		logger:   config.Logger.WithField("pool", config.Name),
		pool:     workerpool.NewWithMetrics(base, registry),
		registry: registry,
	}
	h.refs.Store(1)

	h.logger.WithFields(logrus.Fields{
		"workers":      config.Workers,
		"queue_size":   config.QueueSize,
		"backpressure": config.Backpressure.String(),
	}).Info("bridge started")

	return h, nil
}

// Retain adds a reference and returns h.
func (h *Handle) Retain() *Handle {
	h.refs.Add(1)
	return h
}

// Close drops one reference. Dropping the last one shuts the pool down:
// queued calls still run unless ctx (or ShutdownTimeout, when ctx has no
// deadline) expires first, in which case they resolve with
// KindResourceAcquisitionFailed.
func (h *Handle) Close(ctx context.Context) error {
	n := h.refs.Add(-1)
	switch {
	case n > 0:
		return nil
	case n < 0:
		h.refs.Add(1)
		return ErrHandleClosed
	}

	h.closed.Store(true)

	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && h.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.ShutdownTimeout)
		defer cancel()
	}

	h.logger.Info("bridge shutting down")
	if err := h.pool.Shutdown(ctx); err != nil {
		h.logger.WithError(err).Warn("bridge shutdown incomplete")
		return err
	}
	return nil
}

// Closed reports whether the last reference has been dropped.
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

// Refs returns the current reference count.
func (h *Handle) Refs() int64 {
	return h.refs.Load()
}

// Pool returns the worker pool.
func (h *Handle) Pool() workerpool.Pool {
	return h.pool
}

// Logger returns the handle's logger.
func (h *Handle) Logger() *logrus.Logger {
	return h.config.Logger
}

// Config returns the effective configuration.
func (h *Handle) Config() Config {
	return h.config
}

// Registry returns the metrics registry, nil when metrics are disabled.
func (h *Handle) Registry() *metrics.Registry {
	return h.registry
}

// Stats returns a snapshot of the worker pool counters.
func (h *Handle) Stats() workerpool.Stats {
	return h.pool.Stats()
}
