/*
Package workerpool runs blocking tasks on a fixed set of worker goroutines.

A pool is created once with a fixed size and fed through a dispatch queue.
Every worker loops: take the next task, run it, hand the outcome back. One
task panicking never takes a worker down; the panic is recovered at the task
boundary and reported as a *PanicError.

Basic usage:

	pool, err := workerpool.New(4, 100) // 4 workers, queue size 100
	if err != nil {
		return err
	}
	defer pool.Shutdown(context.Background())

	task := workerpool.TaskFunc(func(ctx context.Context) error {
		// Do blocking work
		return nil
	})

	if err := pool.Submit(ctx, task); err != nil {
		log.Printf("Failed to submit: %v", err)
	}

Results:

A task that wants its outcome implements Completer. Complete is called
exactly once per accepted task, on the worker goroutine:

	type query struct{ done chan workerpool.Result }

	func (q *query) Execute(ctx context.Context) error { return run(ctx) }
	func (q *query) Complete(r workerpool.Result)    { q.done <- r }

Result.Panicked and Result.Aborted distinguish a recovered panic and a task
dropped by a forced shutdown from an ordinary error.

Queue Configurations:

	// Bounded queue, producers wait for space
	pool, _ := workerpool.New(4, 100)

	// Bounded queue, full queue rejected with errors.ErrCapacityExceeded
	pool, _ := workerpool.NewWithConfig(workerpool.Config{
		WorkerCount:  4,
		QueueSize:    100,
		Backpressure: dispatch.FailFast,
	})

	// Unbounded queue
	pool, _ := workerpool.New(4, 0)

Tasks are never dropped silently: a send is either accepted, and then
delivered to exactly one worker or aborted through Complete, or refused with
an error.

Shutdown:

Shutdown stops accepting tasks and lets the workers drain the queue. If the
context ends first, the tasks still queued are aborted with ErrPoolClosed and
the context error is returned. Tasks already running finish in the
background; Done is closed once the last worker has exited.

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}

Metrics:

NewWithMetrics wraps a pool so that submissions, queue wait, task duration
and outcomes are exported through a metrics.Registry.

Thread Safety:

All pool operations are safe for concurrent use from multiple goroutines.
*/
package workerpool
