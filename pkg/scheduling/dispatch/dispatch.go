package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	bberrors "github.com/vnykmshr/blockbridge/pkg/common/errors"
	"github.com/vnykmshr/blockbridge/pkg/common/validation"
)

// Strategy defines how a bounded queue handles producers when it is full.
type Strategy int

const (
	// Block makes the producer wait until space is available.
	Block Strategy = iota

	// FailFast returns ErrQueueFull immediately when the queue is full.
	FailFast
)

func (s Strategy) String() string {
	switch s {
	case Block:
		return "block"
	case FailFast:
		return "failfast"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts "block" or "failfast" into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "block":
		return Block, nil
	case "failfast", "fail-fast", "fail_fast":
		return FailFast, nil
	default:
		return Block, bberrors.NewValidationError("dispatch", "strategy", s, "unknown strategy").
			WithHint("use block or failfast")
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so a Strategy can be
// read from configuration.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrQueueFull is returned by FailFast sends and by TrySend on a full queue.
	ErrQueueFull = fmt.Errorf("dispatch queue is full: %w", bberrors.ErrCapacityExceeded)

	// ErrQueueClosed is returned when sending to, or receiving from an
	// empty, closed queue.
	ErrQueueClosed = fmt.Errorf("dispatch queue is closed: %w", bberrors.ErrClosed)
)

// Queue delivers values from any number of producers to any number of
// consumers. Every value accepted by Send or TrySend is handed out exactly
// once, by Receive, TryReceive or Drain.
type Queue[T any] interface {
	// Send enqueues value, applying the configured Strategy when full.
	Send(ctx context.Context, value T) error

	// TrySend enqueues value without waiting.
	TrySend(value T) error

	// Receive waits for the next value. After Close it keeps returning
	// queued values and then ErrQueueClosed.
	Receive(ctx context.Context) (T, error)

	// TryReceive returns the next value without waiting.
	TryReceive() (T, bool, error)

	// Drain removes and returns every queued value.
	Drain() []T

	// Close stops accepting new values. Queued values remain receivable.
	Close() error

	// IsClosed returns true if the queue is closed.
	IsClosed() bool

	// Len returns the number of queued values.
	Len() int

	// Cap returns the capacity, 0 for an unbounded queue.
	Cap() int

	// Stats returns queue statistics.
	Stats() Stats
}

// Stats holds statistics about queue activity.
type Stats struct {
	// SendCount is the number of values accepted.
	SendCount int64

	// ReceiveCount is the number of values handed to consumers.
	ReceiveCount int64

	// RejectedCount is the number of sends refused because the queue was full.
	RejectedCount int64

	// BlockedSends is the number of sends that had to wait for space.
	BlockedSends int64

	// DrainedCount is the number of values removed by Drain.
	DrainedCount int64

	// MaxDepth is the largest number of values queued at once.
	MaxDepth int

	// Utilization is Len/Cap for bounded queues, 0 otherwise.
	Utilization float64

	LastSendTime    time.Time
	LastReceiveTime time.Time
}

// Config holds configuration for a Queue.
type Config struct {
	// Capacity bounds the queue. Zero means unbounded.
	Capacity int

	// Strategy applies to bounded queues only.
	Strategy Strategy

	// InitialSize preallocates the ring buffer of an unbounded queue.
	InitialSize int

	// OnBlock is called each time a Block send has to wait.
	OnBlock func()

	// OnReject is called each time a send is refused with ErrQueueFull.
	OnReject func()
}

// DefaultConfig returns an unbounded, blocking configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:    0,
		Strategy:    Block,
		InitialSize: 64,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validation.ValidateNonNegative("dispatch", "capacity", c.Capacity); err != nil {
		return err
	}
	if c.Strategy != Block && c.Strategy != FailFast {
		return bberrors.NewValidationError("dispatch", "strategy", int(c.Strategy), "unknown strategy").
			WithHint("use Block or FailFast")
	}
	return nil
}

type queue[T any] struct {
	config Config

	mu     sync.Mutex
	buf    []T
	head   int
	count  int
	closed bool

	// Closed and replaced whenever the corresponding condition may have
	// changed, waking every waiter so it can re-check under mu.
	notEmpty chan struct{}
	notFull  chan struct{}

	stats Stats
}

// New creates a Queue with the given capacity (0 = unbounded) that blocks
// producers when full.
func New[T any](capacity int) (Queue[T], error) {
	config := DefaultConfig()
	config.Capacity = capacity
	return NewWithConfig[T](config)
}

// NewWithConfig creates a Queue with the specified configuration.
func NewWithConfig[T any](config Config) (Queue[T], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	size := config.Capacity
	if size == 0 {
		size = config.InitialSize
		if size <= 0 {
			size = DefaultConfig().InitialSize
		}
	}

	return &queue[T]{
		config:   config,
		buf:      make([]T, size),
		notEmpty: make(chan struct{}),
		notFull:  make(chan struct{}),
	}, nil
}

func (q *queue[T]) bounded() bool {
	return q.config.Capacity > 0
}

// Send implements Queue.Send.
func (q *queue[T]) Send(ctx context.Context, value T) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}

		if !q.bounded() || q.count < q.config.Capacity {
			q.pushLocked(value)
			q.mu.Unlock()
			return nil
		}

		if q.config.Strategy == FailFast {
			q.stats.RejectedCount++
			q.mu.Unlock()
			if q.config.OnReject != nil {
				q.config.OnReject()
			}
			return ErrQueueFull
		}

		q.stats.BlockedSends++
		wait := q.notFull
		q.mu.Unlock()

		if q.config.OnBlock != nil {
			q.config.OnBlock()
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TrySend implements Queue.TrySend.
func (q *queue[T]) TrySend(value T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.bounded() && q.count >= q.config.Capacity {
		q.stats.RejectedCount++
		q.mu.Unlock()
		if q.config.OnReject != nil {
			q.config.OnReject()
		}
		return ErrQueueFull
	}
	q.pushLocked(value)
	q.mu.Unlock()
	return nil
}

// Receive implements Queue.Receive.
func (q *queue[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.count > 0 {
			value := q.popLocked()
			q.mu.Unlock()
			return value, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrQueueClosed
		}
		wait := q.notEmpty
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryReceive implements Queue.TryReceive.
func (q *queue[T]) TryReceive() (T, bool, error) {
	var zero T

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		if q.closed {
			return zero, false, ErrQueueClosed
		}
		return zero, false, nil
	}
	return q.popLocked(), true, nil
}

// Drain implements Queue.Drain.
func (q *queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	out := make([]T, 0, q.count)
	var zero T
	for q.count > 0 {
		out = append(out, q.buf[q.head])
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.count--
	}
	q.head = 0
	q.stats.DrainedCount += int64(len(out))
	q.broadcast(&q.notFull)
	return out
}

// Close implements Queue.Close.
func (q *queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.broadcast(&q.notEmpty)
	q.broadcast(&q.notFull)
	return nil
}

// IsClosed implements Queue.IsClosed.
func (q *queue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len implements Queue.Len.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap implements Queue.Cap.
func (q *queue[T]) Cap() int {
	return q.config.Capacity
}

// Stats implements Queue.Stats.
func (q *queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := q.stats
	if q.bounded() {
		stats.Utilization = float64(q.count) / float64(q.config.Capacity)
	}
	return stats
}

// pushLocked appends value, growing the ring when unbounded (must hold lock).
func (q *queue[T]) pushLocked(value T) {
	if q.count == len(q.buf) {
		q.growLocked()
	}
	tail := (q.head + q.count) % len(q.buf)
	q.buf[tail] = value
	q.count++

	q.stats.SendCount++
	q.stats.LastSendTime = time.Now()
	if q.count > q.stats.MaxDepth {
		q.stats.MaxDepth = q.count
	}
	q.broadcast(&q.notEmpty)
}

// popLocked removes the head value (must hold lock, count > 0).
func (q *queue[T]) popLocked() T {
	var zero T
	value := q.buf[q.head]
	q.buf[q.head] = zero // Clear reference
	q.head = (q.head + 1) % len(q.buf)
	q.count--

	q.stats.ReceiveCount++
	q.stats.LastReceiveTime = time.Now()
	q.broadcast(&q.notFull)
	return value
}

// growLocked doubles the ring buffer, preserving order (must hold lock).
func (q *queue[T]) growLocked() {
	size := len(q.buf) * 2
	if size == 0 {
		size = 1
	}
	buf := make([]T, size)
	for i := 0; i < q.count; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}

// broadcast wakes every goroutine waiting on *ch (must hold lock).
func (q *queue[T]) broadcast(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}
