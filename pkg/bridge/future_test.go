package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vnykmshr/blockbridge/internal/testutil"
	"github.com/vnykmshr/blockbridge/pkg/common/logging"
	"github.com/vnykmshr/blockbridge/pkg/loop"
)

func newTestFuture[T any]() *Future[T] {
	return newFuture[T]("id-1", "test", logrus.NewEntry(logging.Discard()))
}

func TestSlotWrittenTwicePanics(t *testing.T) {
	s := newSlot[int]()
	s.write(1, nil)

	defer func() {
		if recover() == nil {
			t.Fatal("second write should panic")
		}
	}()
	s.write(2, nil)
}

func TestSlotRead(t *testing.T) {
	s := newSlot[string]()
	go s.write("ready", nil)

	value, err := s.read()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, value, "ready")
}

func TestFutureResolvesOnce(t *testing.T) {
	f := newTestFuture[int]()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if f.resolve(i, nil) {
					wins.Add(1)
				}
				return
			}
			f.Cancel()
		}(i)
	}
	wg.Wait()

	if _, ok, _ := f.Result(); !ok {
		t.Fatal("future should be resolved")
	}
	if wins.Load() > 1 {
		t.Fatalf("%d resolutions won", wins.Load())
	}
}

func TestFutureResultPending(t *testing.T) {
	f := newTestFuture[int]()
	if _, ok, _ := f.Result(); ok {
		t.Fatal("new future should be pending")
	}
	select {
	case <-f.Done():
		t.Fatal("Done closed before resolution")
	default:
	}
}

func TestFutureAwaitContext(t *testing.T) {
	f := newTestFuture[int]()
	var cancelled atomic.Bool
	f.onCancel = func() { cancelled.Store(true) }

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	testutil.AssertEqual(t, KindOf(err), KindCancelled)
	testutil.AssertErrorIs(t, err, context.DeadlineExceeded)
	if !cancelled.Load() {
		t.Fatal("onCancel not called")
	}

	// A late resolution loses.
	if f.resolve(5, nil) {
		t.Fatal("resolve after cancel should lose")
	}
}

func TestFutureCancelAfterResolveIsNoop(t *testing.T) {
	f := newTestFuture[int]()
	var cancelled atomic.Bool
	f.onCancel = func() { cancelled.Store(true) }

	f.resolve(3, nil)
	f.Cancel()

	value, _, err := f.Result()
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, value, 3)
	if cancelled.Load() {
		t.Fatal("onCancel called on a resolved future")
	}
}

func TestFutureThenRunsOnLoop(t *testing.T) {
	l := loop.NewWithConfig(loop.Config{Name: "test", Logger: logging.Discard()})
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(context.Background()) }()
	testutil.AssertEventually(t, l.Running)

	// Loop-owned state, touched only from loop callbacks.
	var got []int
	results := make(chan error, 2)

	before := newTestFuture[int]()
	before.Then(l, func(v int, err error) {
		got = append(got, v)
		results <- err
	})
	go before.resolve(1, nil)

	after := newTestFuture[int]()
	after.resolve(2, errors.New("boom"))
	after.Then(l, func(v int, err error) {
		got = append(got, v)
		results <- err
	})

	testutil.AssertNoError(t, testutil.Receive(t, results, time.Second))
	testutil.AssertError(t, testutil.Receive(t, results, time.Second))

	l.Stop()
	testutil.AssertNoError(t, testutil.Receive(t, errCh, time.Second))
	testutil.AssertEqual(t, len(got), 2)
	testutil.AssertEqual(t, l.Executed(), int64(2))
}

func TestFutureThenOnStoppedLoop(t *testing.T) {
	l := loop.New()
	l.Stop()

	f := newTestFuture[int]()
	var ran atomic.Bool
	f.Then(l, func(int, error) { ran.Store(true) })
	f.resolve(1, nil)

	if ran.Load() {
		t.Fatal("continuation ran on a stopped loop")
	}
}
