package benchmark

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/blockbridge/pkg/common/logging"
	"github.com/vnykmshr/blockbridge/pkg/scheduling/workerpool"
)

func newPool(b *testing.B, workers, queue int) workerpool.Pool {
	b.Helper()
	pool, err := workerpool.NewWithConfig(workerpool.Config{
		Name:        "bench",
		WorkerCount: workers,
		QueueSize:   queue,
		Logger:      logging.Discard(),
	})
	if err != nil {
		b.Fatalf("failed to create pool: %v", err)
	}
	return pool
}

// counted signals completion through a WaitGroup.
type counted struct {
	work time.Duration
	wg   *sync.WaitGroup
}

func (c counted) Execute(context.Context) error {
	if c.work > 0 {
		time.Sleep(c.work)
	}
	return nil
}

func (c counted) Complete(workerpool.Result) { c.wg.Done() }

// BenchmarkWorkerPoolSubmit measures task submission performance.
func BenchmarkWorkerPoolSubmit(b *testing.B) {
	for _, workers := range []int{2, 4, 8} {
		b.Run(fmt.Sprintf("%dworkers", workers), func(b *testing.B) {
			pool := newPool(b, workers, 1000)
			defer pool.Shutdown(context.Background())

			task := workerpool.TaskFunc(func(context.Context) error { return nil })
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = pool.Submit(ctx, task)
			}
		})
	}
}

// BenchmarkWorkerPoolThroughput measures end-to-end task execution.
func BenchmarkWorkerPoolThroughput(b *testing.B) {
	for _, work := range []time.Duration{0, time.Microsecond, 10 * time.Microsecond} {
		label := "NoWork"
		if work > 0 {
			label = work.String()
		}
		b.Run(label, func(b *testing.B) {
			pool := newPool(b, 4, 100)
			defer pool.Shutdown(context.Background())

			var wg sync.WaitGroup
			wg.Add(b.N)
			task := counted{work: work, wg: &wg}
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = pool.Submit(ctx, task)
			}
			wg.Wait()
		})
	}
}

// BenchmarkWorkerPoolContention measures submission from many goroutines.
func BenchmarkWorkerPoolContention(b *testing.B) {
	pool := newPool(b, 8, 500)
	defer pool.Shutdown(context.Background())

	var done int64
	task := workerpool.TaskFunc(func(context.Context) error {
		atomic.AddInt64(&done, 1)
		return nil
	})
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = pool.Submit(ctx, task)
		}
	})
}

// BenchmarkWorkerPoolScaling measures performance with different pool sizes.
func BenchmarkWorkerPoolScaling(b *testing.B) {
	scales := []struct {
		workers int
		queue   int
	}{
		{1, 100},
		{4, 100},
		{8, 100},
		{4, 10},
		{4, 0},
	}

	for _, scale := range scales {
		b.Run(fmt.Sprintf("%dworkers_q%d", scale.workers, scale.queue), func(b *testing.B) {
			pool := newPool(b, scale.workers, scale.queue)
			defer pool.Shutdown(context.Background())

			var wg sync.WaitGroup
			wg.Add(b.N)
			task := counted{wg: &wg}
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = pool.Submit(ctx, task)
			}
			wg.Wait()
		})
	}
}

// BenchmarkWorkerPoolShutdown measures graceful shutdown performance.
func BenchmarkWorkerPoolShutdown(b *testing.B) {
	task := workerpool.TaskFunc(func(context.Context) error { return nil })
	ctx := context.Background()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		pool := newPool(b, 4, 100)
		for j := 0; j < 10; j++ {
			_ = pool.Submit(ctx, task)
		}
		_ = pool.Shutdown(ctx)
	}
}
