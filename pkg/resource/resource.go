// Package resource defines the checkout/release contract between blocking
// calls and the pools that own their resources.
//
// A Pool hands out Leases. The holder of a Lease uses Value and calls
// Release exactly once when done; Release is idempotent so it can be
// deferred on every exit path.
package resource

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	bberrors "github.com/vnykmshr/blockbridge/pkg/common/errors"
)

var (
	// ErrPoolClosed is returned by Checkout on a closed pool.
	ErrPoolClosed = fmt.Errorf("resource pool is closed: %w", bberrors.ErrClosed)

	// ErrExhausted is returned when no resource is free and the pool does
	// not wait.
	ErrExhausted = fmt.Errorf("resource pool exhausted: %w", bberrors.ErrCapacityExceeded)

	// ErrAcquireTimeout is returned when the pool's own acquisition timeout
	// elapses before a resource frees up.
	ErrAcquireTimeout = fmt.Errorf("resource checkout timed out: %w", bberrors.ErrTimeout)
)

// Pool checks out resources of type R. Checkout may block the calling
// goroutine up to the pool's acquisition timeout or until ctx ends.
type Pool[R any] interface {
	Checkout(ctx context.Context) (*Lease[R], error)
}

// PoolFunc adapts a function to the Pool interface.
type PoolFunc[R any] func(ctx context.Context) (*Lease[R], error)

// Checkout calls f(ctx).
func (f PoolFunc[R]) Checkout(ctx context.Context) (*Lease[R], error) {
	return f(ctx)
}

// Lease is a checked-out resource.
type Lease[R any] struct {
	value    R
	release  func(R)
	once     sync.Once
	released atomic.Bool
}

// NewLease returns a lease over value. release is called once, by the first
// call to Release; it may be nil.
func NewLease[R any](value R, release func(R)) *Lease[R] {
	return &Lease[R]{value: value, release: release}
}

// Value returns the leased resource.
func (l *Lease[R]) Value() R {
	return l.value
}

// Release hands the resource back to its pool. Only the first call has an
// effect.
func (l *Lease[R]) Release() {
	l.once.Do(func() {
		l.released.Store(true)
		if l.release != nil {
			l.release(l.value)
		}
	})
}

// Released reports whether Release has been called.
func (l *Lease[R]) Released() bool {
	return l.released.Load()
}

// Unpooled returns a Pool that hands out the same value every time and does
// nothing on release. Useful for resources that are safe for concurrent use,
// such as *sql.DB.
func Unpooled[R any](value R) Pool[R] {
	return PoolFunc[R](func(ctx context.Context) (*Lease[R], error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewLease(value, nil), nil
	})
}
