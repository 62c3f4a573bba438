// Package loop provides a single-goroutine cooperative executor.
//
// Callbacks posted to a Loop run one at a time, in posting order, on the
// goroutine that called Run. Post is safe from any goroutine and never
// blocks, so worker goroutines can hand results back to the loop without
// ever waiting on it.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	bberrors "github.com/vnykmshr/blockbridge/pkg/common/errors"
	"github.com/vnykmshr/blockbridge/pkg/common/logging"
	"github.com/vnykmshr/blockbridge/pkg/scheduling/dispatch"
)

var (
	// ErrStopped is returned by Post after Stop.
	ErrStopped = fmt.Errorf("loop is stopped: %w", bberrors.ErrClosed)

	// ErrRunning is returned by Run when the loop is already running.
	ErrRunning = errors.New("loop is already running")
)

// Config configures a Loop.
type Config struct {
	// Name labels log entries.
	Name string

	// Logger receives panic logs. Nil uses a Warn-level default.
	Logger *logrus.Logger

	// PanicHandler is called on the loop goroutine when a callback panics.
	// The loop keeps running either way.
	PanicHandler func(recovered interface{})
}

// Loop is a single-goroutine executor fed by an unbounded mailbox.
type Loop struct {
	config  Config
	logger  *logrus.Entry
	mailbox dispatch.Queue[func()]

	running  atomic.Bool
	executed atomic.Int64
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a loop with the default configuration.
func New() *Loop {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a loop. It does nothing until Run is called.
func NewWithConfig(config Config) *Loop {
	if config.Name == "" {
		config.Name = "loop"
	}

	// An unbounded queue with the default config cannot fail validation.
	mailbox, _ := dispatch.NewWithConfig[func()](dispatch.DefaultConfig())

	return &Loop{
		config:  config,
		logger:  logging.OrDefault(config.Logger).WithField("loop", config.Name),
		mailbox: mailbox,
		done:    make(chan struct{}),
	}
}

// Post schedules fn to run on the loop goroutine. It never blocks.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return fmt.Errorf("callback cannot be nil")
	}
	if err := l.mailbox.TrySend(fn); err != nil {
		return ErrStopped
	}
	return nil
}

// Run executes posted callbacks on the calling goroutine until Stop is
// called and the mailbox is empty, or ctx ends. After Stop it returns nil;
// when ctx ends first it returns ctx.Err() and may be run again.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)

	for {
		fn, err := l.mailbox.Receive(ctx)
		if err != nil {
			if errors.Is(err, dispatch.ErrQueueClosed) {
				close(l.done)
				return nil
			}
			return err
		}
		l.invoke(fn)
	}
}

// Stop stops accepting callbacks. Callbacks already posted still run before
// Run returns.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		_ = l.mailbox.Close()
	})
}

// Done is closed when Run returns after Stop.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Running reports whether a goroutine is inside Run.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Len returns the number of callbacks waiting to run.
func (l *Loop) Len() int {
	return l.mailbox.Len()
}

// Executed returns the number of callbacks run so far.
func (l *Loop) Executed() int64 {
	return l.executed.Load()
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("loop callback panicked")
			if l.config.PanicHandler != nil {
				l.config.PanicHandler(r)
			}
		}
	}()
	defer l.executed.Add(1)
	fn()
}
