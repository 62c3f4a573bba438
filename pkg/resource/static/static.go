// Package static provides a resource.Pool over a fixed, in-memory set of
// resources. Callers that find every resource checked out wait in FIFO
// order, bounded by AcquireTimeout and their context.
package static

import (
	"context"
	"sync"
	"time"

	bberrors "github.com/vnykmshr/blockbridge/pkg/common/errors"
	"github.com/vnykmshr/blockbridge/pkg/common/validation"
	"github.com/vnykmshr/blockbridge/pkg/resource"
)

// Config holds configuration options for a static pool.
type Config[R any] struct {
	// AcquireTimeout bounds how long Checkout waits for a free resource.
	// Zero waits until the caller's context ends.
	AcquireTimeout time.Duration

	// NoWait makes Checkout fail with resource.ErrExhausted instead of waiting.
	NoWait bool

	// OnClose is called for each resource once the pool is closed and the
	// resource is idle.
	OnClose func(R)
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Size    int
	Idle    int
	InUse   int
	Waiting int
}

// Pool is a fixed-size resource pool.
type Pool[R any] struct {
	config Config[R]
	size   int

	mu      sync.Mutex
	idle    []R
	inUse   int
	waiters []*waiter[R]
	closed  bool
	closeCh chan struct{}
}

// waiter represents a goroutine waiting for a resource.
type waiter[R any] struct {
	ready chan R // buffered; receives the handed-over resource
}

// New creates a pool over resources with no acquisition timeout.
func New[R any](resources ...R) (*Pool[R], error) {
	return NewWithConfig(Config[R]{}, resources...)
}

// NewWithConfig creates a pool over resources.
func NewWithConfig[R any](config Config[R], resources ...R) (*Pool[R], error) {
	if len(resources) == 0 {
		return nil, bberrors.NewValidationError("static", "resources", 0, "at least one resource is required")
	}
	if err := validation.ValidateNonNegativeDuration("static", "acquire_timeout", config.AcquireTimeout); err != nil {
		return nil, err
	}

	idle := make([]R, len(resources))
	copy(idle, resources)

	return &Pool[R]{
		config:  config,
		size:    len(resources),
		idle:    idle,
		closeCh: make(chan struct{}),
	}, nil
}

// Checkout implements resource.Pool.
func (p *Pool[R]) Checkout(ctx context.Context) (*resource.Lease[R], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, resource.ErrPoolClosed
	}

	// Fast path: a resource is idle
	if n := len(p.idle); n > 0 {
		r := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		p.mu.Unlock()
		return p.lease(r), nil
	}

	if p.config.NoWait {
		p.mu.Unlock()
		return nil, resource.ErrExhausted
	}

	// Slow path: need to wait
	w := &waiter[R]{ready: make(chan R, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	var timeout <-chan time.Time
	if p.config.AcquireTimeout > 0 {
		timer := time.NewTimer(p.config.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-w.ready:
		return p.lease(r), nil
	case <-timeout:
		return p.abandon(w, resource.ErrAcquireTimeout)
	case <-ctx.Done():
		return p.abandon(w, ctx.Err())
	case <-p.closeCh:
		return p.abandon(w, resource.ErrPoolClosed)
	}
}

// abandon removes w from the wait list. If a resource was handed over in
// the meantime it is taken anyway rather than lost.
func (p *Pool[R]) abandon(w *waiter[R], cause error) (*resource.Lease[R], error) {
	p.mu.Lock()
	for i, other := range p.waiters {
		if other == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return nil, cause
		}
	}
	p.mu.Unlock()

	// No longer listed: release already handed us a resource.
	r := <-w.ready
	p.release(r)
	return nil, cause
}

func (p *Pool[R]) lease(r R) *resource.Lease[R] {
	return resource.NewLease(r, p.release)
}

// release hands r to the oldest waiter, or back to the idle set.
func (p *Pool[R]) release(r R) {
	p.mu.Lock()
	if len(p.waiters) > 0 && !p.closed {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		w.ready <- r
		return
	}

	p.inUse--
	closed := p.closed
	if !closed {
		p.idle = append(p.idle, r)
	}
	p.mu.Unlock()

	if closed && p.config.OnClose != nil {
		p.config.OnClose(r)
	}
}

// Close stops handing out resources. Waiters fail with
// resource.ErrPoolClosed; idle resources are passed to OnClose now and
// checked-out ones when they are released.
func (p *Pool[R]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	close(p.closeCh)
	p.mu.Unlock()

	if p.config.OnClose != nil {
		for _, r := range idle {
			p.config.OnClose(r)
		}
	}
	return nil
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool[R]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:    p.size,
		Idle:    len(p.idle),
		InUse:   p.inUse,
		Waiting: len(p.waiters),
	}
}

var _ resource.Pool[int] = (*Pool[int])(nil)
