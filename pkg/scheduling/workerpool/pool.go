package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	bberrors "github.com/vnykmshr/blockbridge/pkg/common/errors"
	"github.com/vnykmshr/blockbridge/pkg/common/logging"
	"github.com/vnykmshr/blockbridge/pkg/common/validation"
	"github.com/vnykmshr/blockbridge/pkg/scheduling/dispatch"
)

// ErrPoolClosed is returned by Submit after Shutdown, and delivered to
// queued tasks that a forced shutdown never ran.
var ErrPoolClosed = fmt.Errorf("worker pool is shut down: %w", bberrors.ErrClosed)

// Task represents a unit of work that can be executed by a worker.
type Task interface {
	// Execute runs the task with the given context.
	// It should respect context cancellation and return any error encountered.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Completer is implemented by tasks that want their outcome handed back.
// Complete is called exactly once per accepted task: after Execute returns
// or panics, or with ErrPoolClosed if the task is aborted before it runs.
type Completer interface {
	Complete(result Result)
}

// Result represents the result of a task execution.
type Result struct {
	// Task is the original task that was executed
	Task Task

	// Error is the task's error, a *PanicError, or ErrPoolClosed when aborted.
	Error error

	// Duration is how long the task took to execute
	Duration time.Duration

	// WorkerID identifies which worker executed the task, -1 when aborted.
	WorkerID int

	// Panicked is true when Execute panicked.
	Panicked bool

	// Aborted is true when the task was dropped from the queue by a forced
	// shutdown without running.
	Aborted bool
}

// PanicError carries the value recovered from a panicking task.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Pool represents a worker pool that can execute tasks concurrently.
type Pool interface {
	// Submit adds a task to the dispatch queue.
	// The context applies to the queuing operation, not the task execution itself.
	// On a full bounded queue Submit waits (Block) or returns an error
	// wrapping ErrCapacityExceeded (FailFast).
	Submit(ctx context.Context, task Task) error

	// TrySubmit adds a task without ever waiting.
	TrySubmit(task Task) error

	// Offer is TrySubmit for callers that fall back to Submit when the
	// queue is full: a full queue returns ErrQueueFull without counting a
	// rejection.
	Offer(task Task) error

	// Shutdown stops accepting tasks and waits for queued tasks to finish.
	// If ctx ends first, tasks still queued are aborted with ErrPoolClosed and
	// ctx.Err() is returned; tasks already running finish in the background.
	Shutdown(ctx context.Context) error

	// Done is closed once every worker has exited.
	Done() <-chan struct{}

	// Name returns the configured pool name.
	Name() string

	// Size returns the number of workers in the pool.
	Size() int

	// QueueSize returns the current number of queued tasks waiting for execution.
	QueueSize() int

	// QueueCapacity returns the dispatch queue capacity, 0 when unbounded.
	QueueCapacity() int

	// ActiveWorkers returns the number of workers currently executing tasks.
	ActiveWorkers() int

	// TotalSubmitted returns the total number of tasks submitted to the pool.
	TotalSubmitted() int64

	// TotalCompleted returns the total number of tasks completed by the pool.
	TotalCompleted() int64

	// TotalPanicked returns the number of tasks whose Execute panicked.
	TotalPanicked() int64

	// Stats returns a snapshot of the pool counters.
	Stats() Stats
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Workers       int
	Active        int
	Queued        int
	QueueCapacity int
	Submitted     int64
	Rejected      int64
	Completed     int64
	Failed        int64
	Panicked      int64
	Aborted       int64
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// Name labels logs and metrics.
	Name string

	// WorkerCount is the number of workers in the pool.
	// Must be greater than 0.
	WorkerCount int

	// QueueSize is the maximum number of tasks that can be queued.
	// Zero means unbounded.
	QueueSize int

	// Backpressure is applied when a bounded queue is full.
	Backpressure dispatch.Strategy

	// TaskTimeout bounds each task's execution context. Zero means no timeout.
	TaskTimeout time.Duration

	// LockOSThread pins every worker goroutine to its own OS thread.
	LockOSThread bool

	// Logger receives pool lifecycle and panic logs. Nil uses a Warn-level default.
	Logger *logrus.Logger

	// PanicHandler is called when a task panics during execution.
	PanicHandler func(task Task, recovered interface{})

	// OnWorkerStart is called when a worker starts.
	OnWorkerStart func(workerID int)

	// OnWorkerStop is called when a worker stops.
	OnWorkerStop func(workerID int)

	// OnTaskStart is called before a task begins execution.
	OnTaskStart func(workerID int, task Task)

	// OnTaskComplete is called after a task completes (success, failure, panic or abort).
	OnTaskComplete func(workerID int, result Result)
}

// DefaultConfig returns a 4-worker pool with an unbounded blocking queue.
func DefaultConfig() Config {
	return Config{
		Name:         "default",
		WorkerCount:  4,
		QueueSize:    0,
		Backpressure: dispatch.Block,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validation.ValidatePositive("workerpool", "worker_count", c.WorkerCount); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("workerpool", "queue_size", c.QueueSize); err != nil {
		return err
	}
	return validation.ValidateNonNegativeDuration("workerpool", "task_timeout", c.TaskTimeout)
}

// workerPool implements the Pool interface.
type workerPool struct {
	config Config
	logger *logrus.Entry

	// Core pool state
	workers      []worker
	queue        dispatch.Queue[Task]
	done         chan struct{}
	shutdownOnce sync.Once

	// State tracking
	activeWorkers  int64
	totalSubmitted int64
	totalRejected  int64
	totalCompleted int64
	totalFailed    int64
	totalPanicked  int64
	totalAborted   int64

	// Worker management
	workerWg sync.WaitGroup
}

// worker represents a single worker in the pool.
type worker struct {
	id   int
	pool *workerPool
}

// New creates a new worker pool with the specified number of workers and queue size.
func New(workerCount, queueSize int) (Pool, error) {
	config := DefaultConfig()
	config.WorkerCount = workerCount
	config.QueueSize = queueSize
	return NewWithConfig(config)
}

// NewWithConfig creates a new worker pool with the specified configuration.
func NewWithConfig(config Config) (Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = DefaultConfig().Name
	}

	queue, err := dispatch.NewWithConfig[Task](dispatch.Config{
		Capacity: config.QueueSize,
		Strategy: config.Backpressure,
	})
	if err != nil {
		return nil, err
	}

	pool := &workerPool{
		config: config,
		logger: logging.OrDefault(config.Logger).WithField("pool", config.Name),
		queue:  queue,
		done:   make(chan struct{}),
	}

	// Create and start workers
	pool.workers = make([]worker, config.WorkerCount)
	for i := 0; i < config.WorkerCount; i++ {
		pool.workers[i] = worker{id: i, pool: pool}
		pool.workerWg.Add(1)
		go pool.workers[i].run()
	}

	go func() {
		pool.workerWg.Wait()
		close(pool.done)
	}()

	pool.logger.WithFields(logrus.Fields{
		"workers":      config.WorkerCount,
		"queue_size":   config.QueueSize,
		"backpressure": config.Backpressure.String(),
	}).Debug("worker pool started")

	return pool, nil
}

// Name returns the configured pool name.
func (p *workerPool) Name() string {
	return p.config.Name
}

// Size returns the number of workers in the pool.
func (p *workerPool) Size() int {
	return p.config.WorkerCount
}

// QueueSize returns the current number of queued tasks waiting for execution.
func (p *workerPool) QueueSize() int {
	return p.queue.Len()
}

// QueueCapacity returns the dispatch queue capacity, 0 when unbounded.
func (p *workerPool) QueueCapacity() int {
	return p.queue.Cap()
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (p *workerPool) ActiveWorkers() int {
	return int(atomic.LoadInt64(&p.activeWorkers))
}

// TotalSubmitted returns the total number of tasks submitted to the pool.
func (p *workerPool) TotalSubmitted() int64 {
	return atomic.LoadInt64(&p.totalSubmitted)
}

// TotalCompleted returns the total number of tasks completed by the pool.
func (p *workerPool) TotalCompleted() int64 {
	return atomic.LoadInt64(&p.totalCompleted)
}

// TotalPanicked returns the number of tasks whose Execute panicked.
func (p *workerPool) TotalPanicked() int64 {
	return atomic.LoadInt64(&p.totalPanicked)
}

// Stats returns a snapshot of the pool counters.
func (p *workerPool) Stats() Stats {
	return Stats{
		Workers:       p.config.WorkerCount,
		Active:        p.ActiveWorkers(),
		Queued:        p.queue.Len(),
		QueueCapacity: p.queue.Cap(),
		Submitted:     atomic.LoadInt64(&p.totalSubmitted),
		Rejected:      atomic.LoadInt64(&p.totalRejected),
		Completed:     atomic.LoadInt64(&p.totalCompleted),
		Failed:        atomic.LoadInt64(&p.totalFailed),
		Panicked:      atomic.LoadInt64(&p.totalPanicked),
		Aborted:       atomic.LoadInt64(&p.totalAborted),
	}
}

// Done is closed once every worker has exited.
func (p *workerPool) Done() <-chan struct{} {
	return p.done
}
