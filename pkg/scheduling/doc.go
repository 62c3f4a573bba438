/*
Package scheduling groups the execution primitives underneath the bridge.

  - dispatch: multi-producer multi-consumer queue, bounded or unbounded,
    with Block or FailFast backpressure
  - workerpool: fixed set of worker goroutines fed by a dispatch queue
  - reporter: cron-scheduled stats reports for worker and resource pools

Worker Pool:

	pool, err := workerpool.NewWithConfig(workerpool.Config{
		Name:         "reports",
		WorkerCount:  4,
		QueueSize:    100,
		Backpressure: dispatch.FailFast,
	})
	if err != nil {
		return err
	}
	defer pool.Shutdown(ctx)

	err = pool.Submit(ctx, workerpool.TaskFunc(func(ctx context.Context) error {
		return render(ctx)
	}))

Tasks that implement workerpool.Completer receive their Result, including
recovered panics and aborts caused by a shutdown deadline.

Reporter:

	r, _ := reporter.New(reporter.Config{Schedule: "@every 30s"})
	r.Watch(pool)
	r.Start()
	defer r.Stop()

All scheduling components are safe for concurrent use and take a context on
operations that can block.
*/
package scheduling
