package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/vnykmshr/blockbridge/pkg/loop"
)

// slot is a single-write, single-read handoff cell. Writing twice is a
// programming error and panics.
type slot[T any] struct {
	done    chan struct{}
	written atomic.Bool
	value   T
	err     error
}

func newSlot[T any]() *slot[T] {
	return &slot[T]{done: make(chan struct{})}
}

func (s *slot[T]) write(value T, err error) {
	if !s.written.CompareAndSwap(false, true) {
		panic("bridge: completion slot written twice")
	}
	s.value = value
	s.err = err
	close(s.done)
}

// read waits for the write.
func (s *slot[T]) read() (T, error) {
	<-s.done
	return s.value, s.err
}

// Future is the pending result of an offloaded call. It resolves exactly
// once, with a value or an *Error, whichever of the worker, the per-call
// timeout or a cancellation gets there first.
type Future[T any] struct {
	id     string
	name   string
	slot   *slot[T]
	logger *logrus.Entry

	resolved atomic.Bool

	mu        sync.Mutex
	callbacks []func(T, error)

	// onCancel runs once when the Future is resolved by a cancellation.
	onCancel func()
}

func newFuture[T any](id, name string, logger *logrus.Entry) *Future[T] {
	return &Future[T]{
		id:     id,
		name:   name,
		slot:   newSlot[T](),
		logger: logger,
	}
}

// ID returns the call ID, unique per call.
func (f *Future[T]) ID() string {
	return f.id
}

// Name returns the call name set with WithName.
func (f *Future[T]) Name() string {
	return f.name
}

// Done is closed once the Future has resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.slot.done
}

// Result returns the resolution without waiting. ok is false while the
// Future is pending.
func (f *Future[T]) Result() (value T, ok bool, err error) {
	select {
	case <-f.slot.done:
		value, err = f.slot.read()
		return value, true, err
	default:
		return value, false, nil
	}
}

// Await waits for the resolution. If ctx ends first the call is cancelled
// and a KindCancelled *Error is returned.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.slot.done:
	case <-ctx.Done():
		f.cancel(ctx.Err())
	}
	return f.slot.read()
}

// Cancel abandons the call. A call not yet picked up by a worker is skipped
// and never checks out a resource; a running call finishes in the
// background and its result is discarded. No-op once resolved.
func (f *Future[T]) Cancel() {
	f.cancel(context.Canceled)
}

// Then runs fn on the loop goroutine once the Future resolves. It never
// blocks and never runs fn on a worker goroutine.
func (f *Future[T]) Then(l *loop.Loop, fn func(T, error)) {
	f.onResolve(func(value T, err error) {
		if perr := l.Post(func() { fn(value, err) }); perr != nil {
			f.logger.WithError(perr).Warn("continuation dropped, loop is stopped")
		}
	})
}

func (f *Future[T]) cancel(cause error) {
	var zero T
	if f.resolve(zero, newError(KindCancelled, f.name, cause)) && f.onCancel != nil {
		f.onCancel()
	}
}

// resolve writes the slot if no one else has. It reports whether this call
// won.
func (f *Future[T]) resolve(value T, err error) bool {
	if !f.resolved.CompareAndSwap(false, true) {
		return false
	}
	f.slot.write(value, err)

	f.mu.Lock()
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(value, err)
	}
	return true
}

// onResolve registers cb to run with the resolution, immediately if the
// Future has already resolved.
func (f *Future[T]) onResolve(cb func(T, error)) {
	f.mu.Lock()
	select {
	case <-f.slot.done:
		f.mu.Unlock()
		cb(f.slot.read())
		return
	default:
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}
