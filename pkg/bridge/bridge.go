// Package bridge offloads blocking, resource-bound calls onto a worker pool
// and hands the caller a Future instead of blocking it.
//
// A call borrows one resource from a resource.Pool for the duration of a
// closure. Checkout, execution and release all happen on a worker
// goroutine; the caller gets a *Future that resolves exactly once, with the
// closure's value or an *Error classified by Kind.
//
//	h, err := bridge.NewHandle(bridge.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer h.Close(context.Background())
//
//	f := bridge.RunBlocking(ctx, h, conns, func(ctx context.Context, c *sql.Conn) (int, error) {
//		var n int
//		err := c.QueryRowContext(ctx, "SELECT count(*) FROM users").Scan(&n)
//		return n, err
//	}, bridge.WithName("count_users"), bridge.WithTimeout(2*time.Second))
//
//	n, err := f.Await(ctx)
//
// Code running on a loop.Loop uses Then instead of Await, so the
// continuation is posted back to the loop goroutine.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	bbcontext "github.com/vnykmshr/blockbridge/pkg/common/context"
	bberrors "github.com/vnykmshr/blockbridge/pkg/common/errors"
	"github.com/vnykmshr/blockbridge/pkg/common/validation"
	"github.com/vnykmshr/blockbridge/pkg/resource"
	"github.com/vnykmshr/blockbridge/pkg/scheduling/dispatch"
	"github.com/vnykmshr/blockbridge/pkg/scheduling/workerpool"
)

const defaultCallName = "call"

// CallOption configures a single call.
type CallOption func(*callOptions)

type callOptions struct {
	name    string
	timeout time.Duration
}

// WithTimeout bounds how long the caller waits. When it elapses the Future
// resolves with KindCancelled wrapping errors.ErrTimeout; a call already
// running finishes in the background. Zero disables the handle's
// DefaultTimeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// WithName labels the call in logs, metrics and errors.
func WithName(name string) CallOption {
	return func(o *callOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// Call states. A call moves from pending to running when a worker picks it
// up, or from pending to cancelled when the caller gives up first.
const (
	statePending int32 = iota
	stateRunning
	stateCancelled
)

// call is the workerpool.Task carrying one offloaded closure.
type call[T, R any] struct {
	h      *Handle
	ctx    context.Context
	pool   resource.Pool[R]
	fn     func(ctx context.Context, res R) (T, error)
	future *Future[T]
	state  atomic.Int32

	submitted time.Time

	// Set by Execute, read by Complete on the same worker goroutine.
	value       T
	checkoutErr error
	skipped     bool
}

// RunBlocking runs fn against a resource checked out from pool, on a worker
// of h. It returns immediately; the Future resolves with fn's value or an
// *Error:
//
//   - KindResourceAcquisitionFailed when the checkout fails, the dispatch
//     queue is full under FailFast, or the handle is closed;
//   - KindOperationFailed carrying fn's error unchanged;
//   - KindWorkerPanicked carrying a *workerpool.PanicError;
//   - KindCancelled when ctx ends, the Future is cancelled or the call
//     times out before resolution.
//
// The lease is released on every path once fn returns or panics. fn
// receives a context that keeps ctx's values but not its cancellation.
func RunBlocking[T, R any](
	ctx context.Context,
	h *Handle,
	pool resource.Pool[R],
	fn func(ctx context.Context, res R) (T, error),
	opts ...CallOption,
) *Future[T] {
	ctx = bbcontext.OrBackground(ctx)

	o := callOptions{name: defaultCallName}
	if h != nil {
		o.timeout = h.config.DefaultTimeout
	}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	var logger *logrus.Entry
	if h != nil {
		logger = h.logger.WithFields(logrus.Fields{"call_id": id, "call": o.name})
	} else {
		logger = logrus.NewEntry(logrus.StandardLogger()).WithFields(logrus.Fields{"call_id": id, "call": o.name})
	}
	f := newFuture[T](id, o.name, logger)

	var zero T
	if h == nil {
		f.resolve(zero, newError(KindResourceAcquisitionFailed, o.name,
			bberrors.NewValidationError("bridge", "handle", nil, "cannot be nil")))
		return f
	}
	if err := validation.ValidateNotNil("bridge", "pool", pool); err != nil {
		f.resolve(zero, newError(KindResourceAcquisitionFailed, o.name, err))
		return f
	}
	if fn == nil {
		f.resolve(zero, newError(KindOperationFailed, o.name,
			bberrors.NewValidationError("bridge", "fn", nil, "cannot be nil")))
		return f
	}

	if err := ctx.Err(); err != nil {
		f.resolve(zero, newError(KindCancelled, o.name, err))
		return f
	}

	c := &call[T, R]{
		h:         h,
		ctx:       context.WithoutCancel(ctx),
		pool:      pool,
		fn:        fn,
		future:    f,
		submitted: time.Now(),
	}
	f.onCancel = c.cancel

	h.callStarted()
	f.onResolve(func(_ T, err error) {
		h.callResolved(f.logger, o.name, c.submitted, err)
	})

	// Caller abandonment and the per-call timeout both cancel the Future.
	waitCtx, stopWaiting := context.WithCancel(context.Background())
	stopAfter := context.AfterFunc(ctx, func() { f.cancel(context.Cause(ctx)) })
	var timer *time.Timer
	if o.timeout > 0 {
		timeout := o.timeout
		timer = time.AfterFunc(timeout, func() {
			f.cancel(fmt.Errorf("%w after %v", bberrors.ErrTimeout, timeout))
		})
	}
	f.onResolve(func(T, error) {
		stopWaiting()
		stopAfter()
		if timer != nil {
			timer.Stop()
		}
	})

	h.submit(waitCtx, c, c.reject)
	return f
}

// Go runs fn on a worker of h without checking out a resource.
func Go[T any](ctx context.Context, h *Handle, fn func(ctx context.Context) (T, error), opts ...CallOption) *Future[T] {
	if fn == nil {
		return RunBlocking[T, struct{}](ctx, h, resource.Unpooled(struct{}{}), nil, opts...)
	}
	return RunBlocking(ctx, h, resource.Unpooled(struct{}{}), func(ctx context.Context, _ struct{}) (T, error) {
		return fn(ctx)
	}, opts...)
}

// cancel marks a pending call so that the worker skips it.
func (c *call[T, R]) cancel() {
	c.state.CompareAndSwap(statePending, stateCancelled)
}

// reject resolves a call the pool refused.
func (c *call[T, R]) reject(err error) {
	var zero T
	c.future.resolve(zero, newError(KindResourceAcquisitionFailed, c.future.name, err))
}

// Execute implements workerpool.Task.
func (c *call[T, R]) Execute(workerCtx context.Context) error {
	if !c.state.CompareAndSwap(statePending, stateRunning) {
		c.skipped = true
		return nil
	}

	ctx := c.ctx
	if deadline, ok := workerCtx.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	start := time.Now()
	lease, err := c.pool.Checkout(ctx)
	c.h.observeCheckout(time.Since(start))
	if err != nil {
		c.checkoutErr = err
		return err
	}
	defer lease.Release()

	value, err := c.fn(ctx, lease.Value())
	c.value = value
	return err
}

// Complete implements workerpool.Completer.
func (c *call[T, R]) Complete(result workerpool.Result) {
	var zero T
	name := c.future.name

	switch {
	case c.skipped:
		// Already resolved by the cancellation.
	case result.Aborted:
		c.future.resolve(zero, newError(KindResourceAcquisitionFailed, name, result.Error))
	case result.Panicked:
		c.future.resolve(zero, newError(KindWorkerPanicked, name, result.Error))
	case c.checkoutErr != nil:
		c.future.resolve(zero, newError(KindResourceAcquisitionFailed, name, c.checkoutErr))
	case result.Error != nil:
		c.future.resolve(zero, newError(KindOperationFailed, name, result.Error))
	default:
		c.future.resolve(c.value, nil)
	}
}

// submit enqueues task without ever blocking the caller. When a bounded
// Block queue is full the wait moves to a helper goroutine, which gives up
// once waitCtx ends.
func (h *Handle) submit(waitCtx context.Context, task interface {
	workerpool.Task
	workerpool.Completer
}, reject func(error)) {
	if h.closed.Load() {
		reject(workerpool.ErrPoolClosed)
		return
	}

	if h.config.Backpressure != dispatch.Block {
		if err := h.pool.TrySubmit(task); err != nil {
			reject(err)
		}
		return
	}

	err := h.pool.Offer(task)
	if err == nil {
		return
	}
	if !errors.Is(err, dispatch.ErrQueueFull) {
		reject(err)
		return
	}

	h.logger.Debug("dispatch queue full, waiting for space")
	go func() {
		if err := h.pool.Submit(waitCtx, task); err != nil {
			reject(err)
		}
	}()
}
