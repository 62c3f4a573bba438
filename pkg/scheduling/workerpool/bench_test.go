package workerpool

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/vnykmshr/blockbridge/pkg/common/logging"
)

type benchTask struct {
	wg *sync.WaitGroup
	fn func()
}

func (t *benchTask) Execute(ctx context.Context) error {
	if t.fn != nil {
		t.fn()
	}
	return nil
}

func (t *benchTask) Complete(Result) { t.wg.Done() }

func benchPool(b *testing.B, workers, queue int) Pool {
	b.Helper()
	pool, err := NewWithConfig(Config{WorkerCount: workers, QueueSize: queue, Logger: logging.Discard()})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = pool.Shutdown(context.Background()) })
	return pool
}

// BenchmarkTaskExecution measures the overhead of task submission and execution
func BenchmarkTaskExecution(b *testing.B) {
	pool := benchPool(b, 4, 1000)

	var wg sync.WaitGroup
	wg.Add(b.N)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := pool.Submit(context.Background(), &benchTask{wg: &wg}); err != nil {
				b.Error(err)
				wg.Done()
			}
		}
	})
	wg.Wait()
}

// BenchmarkTaskExecutionWithWork measures performance with actual work
func BenchmarkTaskExecutionWithWork(b *testing.B) {
	pool := benchPool(b, 4, 1000)

	var wg sync.WaitGroup
	wg.Add(b.N)
	work := func() {
		sum := 0
		for i := 0; i < 1000; i++ {
			sum += i
		}
		_ = sum
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := pool.Submit(context.Background(), &benchTask{wg: &wg, fn: work}); err != nil {
				b.Error(err)
				wg.Done()
			}
		}
	})
	wg.Wait()
}

// BenchmarkWorkerCounts compares throughput across pool sizes
func BenchmarkWorkerCounts(b *testing.B) {
	for _, workers := range []int{1, 2, 4, 8, 16} {
		b.Run(fmt.Sprintf("workers-%d", workers), func(b *testing.B) {
			pool := benchPool(b, workers, 0)

			var wg sync.WaitGroup
			wg.Add(b.N)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := pool.Submit(context.Background(), &benchTask{wg: &wg}); err != nil {
					b.Fatal(err)
				}
			}
			wg.Wait()
		})
	}
}
