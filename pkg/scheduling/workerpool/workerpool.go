package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	bbcontext "github.com/vnykmshr/blockbridge/pkg/common/context"
	"github.com/vnykmshr/blockbridge/pkg/scheduling/dispatch"
)

// Submit adds a task to the pool for execution.
func (p *workerPool) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	ctx = bbcontext.OrBackground(ctx)

	// Check if context is already canceled before attempting to queue
	// This ensures deterministic behavior for pre-canceled contexts
	select {
	case <-ctx.Done():
		return fmt.Errorf("cannot submit task: context canceled: %w", ctx.Err())
	default:
	}

	return p.accepted(p.queue.Send(ctx, task))
}

// TrySubmit adds a task without waiting for queue space.
func (p *workerPool) TrySubmit(task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	return p.accepted(p.queue.TrySend(task))
}

// Offer adds a task without waiting. A full queue is not counted as a
// rejection.
func (p *workerPool) Offer(task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	err := p.queue.TrySend(task)
	if errors.Is(err, dispatch.ErrQueueFull) {
		return fmt.Errorf("cannot submit task: %w", err)
	}
	return p.accepted(err)
}

// accepted maps a queue send result onto the pool's errors and counters.
func (p *workerPool) accepted(err error) error {
	switch {
	case err == nil:
		atomic.AddInt64(&p.totalSubmitted, 1)
		return nil
	case errors.Is(err, dispatch.ErrQueueClosed):
		atomic.AddInt64(&p.totalRejected, 1)
		return ErrPoolClosed
	case errors.Is(err, dispatch.ErrQueueFull):
		atomic.AddInt64(&p.totalRejected, 1)
		return fmt.Errorf("cannot submit task: %w", err)
	default:
		return fmt.Errorf("cannot submit task: %w", err)
	}
}

// Shutdown initiates a graceful shutdown of the pool.
func (p *workerPool) Shutdown(ctx context.Context) error {
	ctx = bbcontext.OrBackground(ctx)

	p.shutdownOnce.Do(func() {
		p.logger.WithField("queued", p.queue.Len()).Debug("worker pool shutting down")
		// Workers keep receiving until the closed queue is empty.
		_ = p.queue.Close()
	})

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	}

	aborted := p.queue.Drain()
	for _, task := range aborted {
		p.abort(task)
	}
	if len(aborted) > 0 {
		p.logger.WithField("aborted", len(aborted)).Warn("worker pool shutdown deadline reached, queued tasks aborted")
	}
	return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
}

// abort hands ErrPoolClosed to a task that never ran.
func (p *workerPool) abort(task Task) {
	atomic.AddInt64(&p.totalAborted, 1)
	result := Result{
		Task:     task,
		Error:    ErrPoolClosed,
		WorkerID: -1,
		Aborted:  true,
	}
	p.deliver(-1, task, result)
}

// deliver passes the result to the task and the completion hook. A panicking
// Complete must not take the worker down with it.
func (p *workerPool) deliver(workerID int, task Task, result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"worker_id": workerID,
				"panic":     r,
				"stack":     string(debug.Stack()),
			}).Error("task completion panicked")
		}
	}()

	if c, ok := task.(Completer); ok {
		c.Complete(result)
	}
	if p.config.OnTaskComplete != nil {
		p.config.OnTaskComplete(workerID, result)
	}
}

// run is the main loop for a worker.
func (w *worker) run() {
	defer w.pool.workerWg.Done()

	if w.pool.config.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	if w.pool.config.OnWorkerStart != nil {
		w.pool.config.OnWorkerStart(w.id)
	}
	if w.pool.config.OnWorkerStop != nil {
		defer w.pool.config.OnWorkerStop(w.id)
	}

	for {
		task, err := w.pool.queue.Receive(context.Background())
		if err != nil {
			// Task queue closed and empty, shutdown
			return
		}
		w.executeTask(task)
	}
}

// executeTask executes a single task and delivers its result.
func (w *worker) executeTask(task Task) {
	p := w.pool
	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	if p.config.OnTaskStart != nil {
		p.config.OnTaskStart(w.id, task)
	}

	start := time.Now()
	panicked, err := w.safeExecute(task)

	result := Result{
		Task:     task,
		Error:    err,
		Duration: time.Since(start),
		WorkerID: w.id,
		Panicked: panicked,
	}

	atomic.AddInt64(&p.totalCompleted, 1)
	if err != nil {
		atomic.AddInt64(&p.totalFailed, 1)
	}

	p.deliver(w.id, task, result)
}

// safeExecute runs the task, converting a panic into a *PanicError.
func (w *worker) safeExecute(task Task) (panicked bool, err error) {
	p := w.pool

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = &PanicError{Value: r, Stack: stack}
			panicked = true
			atomic.AddInt64(&p.totalPanicked, 1)

			p.logger.WithFields(logrus.Fields{
				"worker_id": w.id,
				"panic":     r,
				"stack":     string(stack),
			}).Error("task panicked")

			if p.config.PanicHandler != nil {
				w.callPanicHandler(task, r)
			}
		}
	}()

	ctx, cancel := bbcontext.WithOptionalTimeout(context.Background(), p.config.TaskTimeout)
	defer cancel()

	return false, task.Execute(ctx)
}

func (w *worker) callPanicHandler(task Task, recovered interface{}) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.WithField("panic", r).Error("panic handler panicked")
		}
	}()
	w.pool.config.PanicHandler(task, recovered)
}
