package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/blockbridge/internal/testutil"
	bberrors "github.com/vnykmshr/blockbridge/pkg/common/errors"
	"github.com/vnykmshr/blockbridge/pkg/common/logging"
	"github.com/vnykmshr/blockbridge/pkg/metrics"
	"github.com/vnykmshr/blockbridge/pkg/resource"
	"github.com/vnykmshr/blockbridge/pkg/resource/static"
	"github.com/vnykmshr/blockbridge/pkg/scheduling/dispatch"
	"github.com/vnykmshr/blockbridge/pkg/scheduling/workerpool"
)

func newTestHandle(t *testing.T, mutate func(*Config)) *Handle {
	t.Helper()
	config := DefaultConfig()
	config.Workers = 4
	config.Logger = logging.Discard()
	if mutate != nil {
		mutate(&config)
	}
	h, err := NewHandle(config)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() {
		if !h.Closed() {
			_ = h.Close(context.Background())
		}
	})
	return h
}

func newConnPool(t *testing.T, n int) (*static.Pool[*testutil.FakeConn], []*testutil.FakeConn) {
	t.Helper()
	conns := testutil.NewFakeConns(n)
	pool, err := static.New(conns...)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool, conns
}

// countingPool counts checkouts made through it.
func countingPool[R any](inner resource.Pool[R], n *int64) resource.Pool[R] {
	return resource.PoolFunc[R](func(ctx context.Context) (*resource.Lease[R], error) {
		atomic.AddInt64(n, 1)
		return inner.Checkout(ctx)
	})
}

// gate blocks worker-side closures until opened.
type gate struct {
	started chan struct{}
	open    chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{started: make(chan struct{}, 16), open: make(chan struct{})}
}

func (g *gate) wait() {
	g.started <- struct{}{}
	<-g.open
}

func (g *gate) release() {
	g.once.Do(func() { close(g.open) })
}

func await[T any](t *testing.T, f *Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	value, err := f.Await(ctx)
	if IsCancelled(err) && ctx.Err() != nil {
		t.Fatalf("call %s did not resolve in time", f.Name())
	}
	return value, err
}

func TestRunBlockingSuccess(t *testing.T) {
	h := newTestHandle(t, nil)
	pool, conns := newConnPool(t, 1)

	f := RunBlocking(context.Background(), h, pool, func(ctx context.Context, c *testutil.FakeConn) (string, error) {
		c.Exec("SELECT 1")
		return fmt.Sprintf("conn-%d", c.ID), nil
	}, WithName("select_one"))

	value, err := await(t, f)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, value, "conn-0")
	testutil.AssertEqual(t, f.Name(), "select_one")
	testutil.AssertEqual(t, len(conns[0].Statements()), 1)
	testutil.AssertEventually(t, func() bool { return pool.Stats().Idle == 1 })
}

func TestRunBlockingOperationFailed(t *testing.T) {
	h := newTestHandle(t, nil)
	pool, _ := newConnPool(t, 1)
	errNoRows := errors.New("no rows in result set")

	f := RunBlocking(context.Background(), h, pool, func(context.Context, *testutil.FakeConn) (int, error) {
		return 0, errNoRows
	})

	_, err := await(t, f)
	testutil.AssertEqual(t, KindOf(err), KindOperationFailed)
	testutil.AssertErrorIs(t, err, ErrOperationFailed)
	testutil.AssertErrorIs(t, err, errNoRows)
	testutil.AssertEventually(t, func() bool { return pool.Stats().InUse == 0 })
}

func TestRunBlockingPanicKeepsWorker(t *testing.T) {
	h := newTestHandle(t, func(c *Config) { c.Workers = 1 })
	pool, _ := newConnPool(t, 1)

	f := RunBlocking(context.Background(), h, pool, func(context.Context, *testutil.FakeConn) (int, error) {
		panic("corrupt row")
	})

	_, err := await(t, f)
	testutil.AssertEqual(t, KindOf(err), KindWorkerPanicked)
	perr, ok := PanicValue(err)
	if !ok {
		t.Fatalf("expected a panic value in %v", err)
	}
	testutil.AssertEqual(t, perr.Value.(string), "corrupt row")
	testutil.AssertEventually(t, func() bool { return pool.Stats().Idle == 1 })

	// The only worker must still be alive.
	next := RunBlocking(context.Background(), h, pool, func(context.Context, *testutil.FakeConn) (int, error) {
		return 7, nil
	})
	value, err := await(t, next)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, value, 7)
	testutil.AssertEqual(t, h.Pool().TotalPanicked(), int64(1))
}

func TestRunBlockingManyCalls(t *testing.T) {
	h := newTestHandle(t, nil)
	pool, _ := newConnPool(t, 2)

	const k = 50
	futures := make([]*Future[int], k)
	for i := 0; i < k; i++ {
		i := i
		futures[i] = RunBlocking(context.Background(), h, pool, func(context.Context, *testutil.FakeConn) (int, error) {
			return i * i, nil
		})
	}

	seen := make(map[string]bool, k)
	for i, f := range futures {
		value, err := await(t, f)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, value, i*i)
		if seen[f.ID()] {
			t.Fatalf("duplicate call id %s", f.ID())
		}
		seen[f.ID()] = true
	}
	testutil.AssertEventually(t, func() bool { return pool.Stats().Idle == 2 })
}

func TestRunBlockingSerializesOnResource(t *testing.T) {
	h := newTestHandle(t, func(c *Config) { c.Workers = 2 })
	pool, _ := newConnPool(t, 1)
	var rec testutil.Recorder

	start := time.Now()
	a := RunBlocking(context.Background(), h, pool, func(context.Context, *testutil.FakeConn) (string, error) {
		rec.Record("a start")
		time.Sleep(100 * time.Millisecond)
		rec.Record("a end")
		return "a", nil
	})
	testutil.AssertEventually(t, func() bool { return pool.Stats().InUse == 1 })

	b := RunBlocking(context.Background(), h, pool, func(context.Context, *testutil.FakeConn) (string, error) {
		rec.Record("b start")
		return "b", nil
	})

	_, err := await(t, a)
	testutil.AssertNoError(t, err)
	_, err = await(t, b)
	testutil.AssertNoError(t, err)

	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("both calls finished in %v, expected the second to wait for the resource", elapsed)
	}
	aEnd, _ := rec.Find("a end")
	bStart, _ := rec.Find("b start")
	if bStart.At.Before(aEnd.At) {
		t.Fatalf("b started before a released the resource: %v", rec.Names())
	}
}

func TestRunBlockingCheckoutFailure(t *testing.T) {
	h := newTestHandle(t, nil)
	failing := resource.PoolFunc[*testutil.FakeConn](func(context.Context) (*resource.Lease[*testutil.FakeConn], error) {
		return nil, resource.ErrAcquireTimeout
	})

	var ran atomic.Bool
	f := RunBlocking(context.Background(), h, failing, func(context.Context, *testutil.FakeConn) (int, error) {
		ran.Store(true)
		return 1, nil
	})

	_, err := await(t, f)
	testutil.AssertEqual(t, KindOf(err), KindResourceAcquisitionFailed)
	testutil.AssertErrorIs(t, err, resource.ErrAcquireTimeout)
	testutil.AssertErrorIs(t, err, bberrors.ErrTimeout)
	if ran.Load() {
		t.Fatal("closure ran without a resource")
	}
}

func TestCancelBeforePickupSkipsCheckout(t *testing.T) {
	h := newTestHandle(t, func(c *Config) { c.Workers = 1 })
	inner, _ := newConnPool(t, 1)
	var checkouts int64
	pool := countingPool[*testutil.FakeConn](inner, &checkouts)
	g := newGate()
	defer g.release()

	first := RunBlocking(context.Background(), h, pool, func(context.Context, *testutil.FakeConn) (int, error) {
		g.wait()
		return 1, nil
	})
	testutil.Receive(t, g.started, time.Second)

	var ran atomic.Bool
	second := RunBlocking(context.Background(), h, pool, func(context.Context, *testutil.FakeConn) (int, error) {
		ran.Store(true)
		return 2, nil
	})
	second.Cancel()

	_, err := await(t, second)
	testutil.AssertEqual(t, KindOf(err), KindCancelled)
	testutil.AssertErrorIs(t, err, context.Canceled)

	g.release()
	value, err := await(t, first)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, value, 1)

	testutil.AssertNoError(t, h.Close(context.Background()))
	if ran.Load() {
		t.Fatal("cancelled call ran")
	}
	testutil.AssertEqual(t, atomic.LoadInt64(&checkouts), int64(1))
	testutil.AssertEqual(t, inner.Stats().Idle, 1)
}

func TestCancelWhileRunningDiscardsResult(t *testing.T) {
	h := newTestHandle(t, func(c *Config) { c.Workers = 1 })
	pool, _ := newConnPool(t, 1)
	g := newGate()
	defer g.release()

	f := RunBlocking(context.Background(), h, pool, func(context.Context, *testutil.FakeConn) (int, error) {
		g.wait()
		return 42, nil
	})
	testutil.Receive(t, g.started, time.Second)

	f.Cancel()
	value, err := await(t, f)
	testutil.AssertEqual(t, KindOf(err), KindCancelled)
	testutil.AssertEqual(t, value, 0)

	g.release()
	testutil.AssertEventually(t, func() bool { return pool.Stats().Idle == 1 })

	value, ok, err := f.Result()
	if !ok {
		t.Fatal("future should stay resolved")
	}
	testutil.AssertEqual(t, KindOf(err), KindCancelled)
	testutil.AssertEqual(t, value, 0)
}

func TestCallerContextCancellation(t *testing.T) {
	h := newTestHandle(t, func(c *Config) { c.Workers = 1 })
	g := newGate()
	defer g.release()

	blocker := Go(context.Background(), h, func(context.Context) (struct{}, error) {
		g.wait()
		return struct{}{}, nil
	})
	testutil.Receive(t, g.started, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	f := Go(ctx, h, func(context.Context) (int, error) { return 1, nil })
	cancel()

	_, err := await(t, f)
	testutil.AssertEqual(t, KindOf(err), KindCancelled)
	testutil.AssertErrorIs(t, err, context.Canceled)

	g.release()
	_, err = await(t, blocker)
	testutil.AssertNoError(t, err)
}

func TestAlreadyCancelledContext(t *testing.T) {
	h := newTestHandle(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	f := Go(ctx, h, func(context.Context) (int, error) {
		ran.Store(true)
		return 1, nil
	})

	_, err := await(t, f)
	testutil.AssertEqual(t, KindOf(err), KindCancelled)
	testutil.AssertEqual(t, h.Pool().TotalSubmitted(), int64(0))
	if ran.Load() {
		t.Fatal("closure ran with a cancelled context")
	}
}

func TestClosureContextIsDetached(t *testing.T) {
	h := newTestHandle(t, nil)
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "tenant-9")

	f := Go(ctx, h, func(ctx context.Context) (string, error) {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return ctx.Value(key{}).(string), nil
	})

	value, err := await(t, f)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, value, "tenant-9")
}

func TestPerCallTimeout(t *testing.T) {
	h := newTestHandle(t, func(c *Config) { c.Workers = 1 })
	pool, _ := newConnPool(t, 1)
	g := newGate()
	defer g.release()

	f := RunBlocking(context.Background(), h, pool, func(context.Context, *testutil.FakeConn) (int, error) {
		g.wait()
		return 1, nil
	}, WithTimeout(20*time.Millisecond))

	_, err := await(t, f)
	testutil.AssertEqual(t, KindOf(err), KindCancelled)
	testutil.AssertErrorIs(t, err, bberrors.ErrTimeout)

	g.release()
	testutil.AssertEventually(t, func() bool { return pool.Stats().Idle == 1 })
}

func TestDefaultTimeout(t *testing.T) {
	h := newTestHandle(t, func(c *Config) {
		c.Workers = 1
		c.DefaultTimeout = 20 * time.Millisecond
	})
	g := newGate()
	defer g.release()

	f := Go(context.Background(), h, func(context.Context) (int, error) {
		g.wait()
		return 1, nil
	})
	_, err := await(t, f)
	testutil.AssertErrorIs(t, err, bberrors.ErrTimeout)

	g.release()
	unbounded := Go(context.Background(), h, func(context.Context) (int, error) {
		time.Sleep(40 * time.Millisecond)
		return 2, nil
	}, WithTimeout(0))
	value, err := await(t, unbounded)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, value, 2)
}

func TestBlockBackpressureQueuesOverflow(t *testing.T) {
	h := newTestHandle(t, func(c *Config) {
		c.Workers = 1
		c.QueueSize = 1
		c.Backpressure = dispatch.Block
	})
	g := newGate()
	defer g.release()

	futures := []*Future[int]{
		Go(context.Background(), h, func(context.Context) (int, error) {
			g.wait()
			return 0, nil
		}),
	}
	testutil.Receive(t, g.started, time.Second)

	for i := 1; i < 3; i++ {
		i := i
		submitted := time.Now()
		futures = append(futures, Go(context.Background(), h, func(context.Context) (int, error) {
			return i, nil
		}))
		if time.Since(submitted) > 100*time.Millisecond {
			t.Fatal("RunBlocking blocked the caller on a full queue")
		}
	}

	g.release()
	for i, f := range futures {
		value, err := await(t, f)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, value, i)
	}

	stats := h.Stats()
	testutil.AssertEqual(t, stats.Submitted, int64(3))
	testutil.AssertEqual(t, stats.Rejected, int64(0))
}

func TestFailFastBackpressure(t *testing.T) {
	h := newTestHandle(t, func(c *Config) {
		c.Workers = 1
		c.QueueSize = 1
		c.Backpressure = dispatch.FailFast
	})
	g := newGate()
	defer g.release()

	running := Go(context.Background(), h, func(context.Context) (int, error) {
		g.wait()
		return 0, nil
	})
	testutil.Receive(t, g.started, time.Second)
	queued := Go(context.Background(), h, func(context.Context) (int, error) { return 1, nil })
	rejected := Go(context.Background(), h, func(context.Context) (int, error) { return 2, nil })

	_, ok, err := rejected.Result()
	if !ok {
		t.Fatal("rejected call should resolve immediately")
	}
	testutil.AssertEqual(t, KindOf(err), KindResourceAcquisitionFailed)
	testutil.AssertErrorIs(t, err, bberrors.ErrCapacityExceeded)

	g.release()
	_, err = await(t, running)
	testutil.AssertNoError(t, err)
	_, err = await(t, queued)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, h.Stats().Rejected, int64(1))
}

func TestShutdownAbortsQueuedCalls(t *testing.T) {
	h := newTestHandle(t, func(c *Config) { c.Workers = 1 })
	g := newGate()
	defer g.release()

	running := Go(context.Background(), h, func(context.Context) (int, error) {
		g.wait()
		return 1, nil
	})
	testutil.Receive(t, g.started, time.Second)

	var ran atomic.Bool
	queued := Go(context.Background(), h, func(context.Context) (int, error) {
		ran.Store(true)
		return 2, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := h.Close(ctx)
	testutil.AssertErrorIs(t, err, context.DeadlineExceeded)

	_, err = await(t, queued)
	testutil.AssertEqual(t, KindOf(err), KindResourceAcquisitionFailed)
	testutil.AssertErrorIs(t, err, workerpool.ErrPoolClosed)

	g.release()
	value, err := await(t, running)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, value, 1)
	if ran.Load() {
		t.Fatal("aborted call ran")
	}
}

func TestRunBlockingAfterClose(t *testing.T) {
	h := newTestHandle(t, nil)
	testutil.AssertNoError(t, h.Close(context.Background()))

	f := Go(context.Background(), h, func(context.Context) (int, error) { return 1, nil })
	_, ok, err := f.Result()
	if !ok {
		t.Fatal("call on a closed handle should resolve immediately")
	}
	testutil.AssertEqual(t, KindOf(err), KindResourceAcquisitionFailed)
	testutil.AssertErrorIs(t, err, workerpool.ErrPoolClosed)
}

func TestRunBlockingInvalidArguments(t *testing.T) {
	h := newTestHandle(t, nil)
	pool, _ := newConnPool(t, 1)
	fn := func(context.Context, *testutil.FakeConn) (int, error) { return 1, nil }

	tests := []struct {
		name string
		f    *Future[int]
		kind Kind
	}{
		{"nil handle", RunBlocking(context.Background(), nil, pool, fn), KindResourceAcquisitionFailed},
		{"nil pool", RunBlocking[int, *testutil.FakeConn](context.Background(), h, nil, fn), KindResourceAcquisitionFailed},
		{"nil closure", RunBlocking[int, *testutil.FakeConn](context.Background(), h, pool, nil), KindOperationFailed},
		{"nil Go closure", Go[int](context.Background(), h, nil), KindOperationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := tt.f.Result()
			if !ok {
				t.Fatal("expected immediate resolution")
			}
			testutil.AssertEqual(t, KindOf(err), tt.kind)
			testutil.AssertErrorIs(t, err, bberrors.ErrInvalidConfiguration)
		})
	}
}

func TestRunBlockingMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newTestHandle(t, func(c *Config) {
		c.Name = "orders_db"
		c.Metrics = metrics.Config{Enabled: true, Registry: reg}
	})
	pool, _ := newConnPool(t, 1)
	r := h.Registry()

	ok := RunBlocking(context.Background(), h, pool, func(context.Context, *testutil.FakeConn) (int, error) {
		return 1, nil
	}, WithName("load_order"))
	failed := RunBlocking(context.Background(), h, pool, func(context.Context, *testutil.FakeConn) (int, error) {
		return 0, errors.New("constraint violation")
	}, WithName("insert_order"))

	_, _ = await(t, ok)
	_, _ = await(t, failed)

	testutil.AssertEventually(t, func() bool {
		return promtest.ToFloat64(r.CallsTotal.WithLabelValues("orders_db", "load_order", "ok")) == 1 &&
			promtest.ToFloat64(r.CallsTotal.WithLabelValues("orders_db", "insert_order", "operation_failed")) == 1 &&
			promtest.ToFloat64(r.CallsInFlight.WithLabelValues("orders_db")) == 0
	})
	testutil.AssertEventually(t, func() bool {
		return promtest.ToFloat64(r.TasksCompleted.WithLabelValues("orders_db", "ok")) == 1 &&
			promtest.ToFloat64(r.TasksCompleted.WithLabelValues("orders_db", "error")) == 1
	})
	testutil.AssertEqual(t, promtest.CollectAndCount(r.CheckoutDuration), 1)
}
