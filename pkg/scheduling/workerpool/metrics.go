package workerpool

import (
	"context"
	"errors"
	"time"

	"github.com/vnykmshr/blockbridge/pkg/metrics"
	"github.com/vnykmshr/blockbridge/pkg/scheduling/dispatch"
)

// MetricsPool wraps a worker Pool with Prometheus metrics collection.
type MetricsPool struct {
	Pool
	name     string
	registry *metrics.Registry
}

// NewWithMetrics wraps pool so that every submitted task is observed in
// registry. A nil registry returns pool unchanged.
func NewWithMetrics(pool Pool, registry *metrics.Registry) Pool {
	if registry == nil {
		return pool
	}
	mp := &MetricsPool{
		Pool:     pool,
		name:     pool.Name(),
		registry: registry,
	}
	mp.updateMetrics()
	return mp
}

// NewWithConfigAndMetrics creates a new worker pool with custom config and metrics.
func NewWithConfigAndMetrics(config Config, metricsConfig metrics.Config) (Pool, error) {
	registry, err := metrics.Resolve(metricsConfig)
	if err != nil {
		return nil, err
	}
	basePool, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	return NewWithMetrics(basePool, registry), nil
}

// Registry returns the registry the pool reports to.
func (mp *MetricsPool) Registry() *metrics.Registry {
	return mp.registry
}

// updateMetrics updates the current state metrics.
func (mp *MetricsPool) updateMetrics() {
	mp.registry.WorkerPoolSize.WithLabelValues(mp.name).Set(float64(mp.Pool.Size()))
	mp.registry.WorkerPoolActive.WithLabelValues(mp.name).Set(float64(mp.Pool.ActiveWorkers()))
	mp.registry.WorkerPoolQueued.WithLabelValues(mp.name).Set(float64(mp.Pool.QueueSize()))
}

// Refresh re-reads the pool gauges. The stats reporter calls it periodically.
func (mp *MetricsPool) Refresh() {
	mp.updateMetrics()
}

// Submit adds a task to the pool for execution.
func (mp *MetricsPool) Submit(ctx context.Context, task Task) error {
	return mp.record(mp.Pool.Submit(ctx, mp.wrap(task)))
}

// TrySubmit adds a task without waiting for queue space.
func (mp *MetricsPool) TrySubmit(task Task) error {
	return mp.record(mp.Pool.TrySubmit(mp.wrap(task)))
}

// Offer adds a task without waiting; a full queue is not recorded as a
// rejection.
func (mp *MetricsPool) Offer(task Task) error {
	err := mp.Pool.Offer(mp.wrap(task))
	if errors.Is(err, dispatch.ErrQueueFull) {
		return err
	}
	return mp.record(err)
}

func (mp *MetricsPool) wrap(task Task) Task {
	if task == nil {
		return nil
	}
	return &metricsTask{
		original:   task,
		pool:       mp,
		submitTime: time.Now(),
	}
}

func (mp *MetricsPool) record(err error) error {
	switch {
	case err == nil:
		mp.registry.TasksSubmitted.WithLabelValues(mp.name).Inc()
	case errors.Is(err, ErrPoolClosed), errors.Is(err, dispatch.ErrQueueFull):
		mp.registry.TasksRejected.WithLabelValues(mp.name).Inc()
	}
	mp.updateMetrics()
	return err
}

// metricsTask wraps a Task to collect execution metrics. It forwards
// Complete so the wrapped task still receives its Result.
type metricsTask struct {
	original   Task
	pool       *MetricsPool
	submitTime time.Time
}

// Execute observes the queue wait and runs the original task.
func (mt *metricsTask) Execute(ctx context.Context) error {
	mt.pool.registry.TaskQueueWait.WithLabelValues(mt.pool.name).Observe(time.Since(mt.submitTime).Seconds())
	mt.pool.registry.WorkerPoolActive.WithLabelValues(mt.pool.name).Set(float64(mt.pool.Pool.ActiveWorkers()))
	return mt.original.Execute(ctx)
}

// Complete records the outcome and hands the result to the original task.
func (mt *metricsTask) Complete(result Result) {
	reg := mt.pool.registry
	if !result.Aborted {
		reg.TaskDuration.WithLabelValues(mt.pool.name).Observe(result.Duration.Seconds())
	}
	reg.TasksCompleted.WithLabelValues(mt.pool.name, outcome(result)).Inc()
	mt.pool.updateMetrics()

	if c, ok := mt.original.(Completer); ok {
		result.Task = mt.original
		c.Complete(result)
	}
}

func outcome(result Result) string {
	switch {
	case result.Aborted:
		return "aborted"
	case result.Panicked:
		return "panic"
	case result.Error != nil:
		return "error"
	default:
		return "ok"
	}
}
