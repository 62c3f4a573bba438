package bridge

import (
	"errors"
	"fmt"

	"github.com/vnykmshr/blockbridge/pkg/scheduling/workerpool"
)

// Kind classifies how an offloaded call failed.
type Kind int

const (
	// KindResourceAcquisitionFailed: no resource or no worker could be
	// obtained (checkout timeout, pool closed or exhausted, dispatch queue
	// full, worker pool shut down). The closure never ran.
	KindResourceAcquisitionFailed Kind = iota + 1

	// KindOperationFailed: the closure returned an error.
	KindOperationFailed

	// KindWorkerPanicked: the closure panicked.
	KindWorkerPanicked

	// KindCancelled: the caller stopped waiting, or the per-call timeout
	// elapsed, before the call resolved.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindResourceAcquisitionFailed:
		return "resource_acquisition_failed"
	case KindOperationFailed:
		return "operation_failed"
	case KindWorkerPanicked:
		return "worker_panicked"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels matched by errors.Is against an *Error of the same Kind.
var (
	ErrResourceAcquisitionFailed = errors.New("resource acquisition failed")
	ErrOperationFailed           = errors.New("operation failed")
	ErrWorkerPanicked            = errors.New("worker panicked")
	ErrCancelled                 = errors.New("cancelled")
)

func (k Kind) sentinel() error {
	switch k {
	case KindResourceAcquisitionFailed:
		return ErrResourceAcquisitionFailed
	case KindOperationFailed:
		return ErrOperationFailed
	case KindWorkerPanicked:
		return ErrWorkerPanicked
	case KindCancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// Error is the single error type resolved by a Future. Err carries the
// underlying cause unchanged: the closure's own error for
// KindOperationFailed, a *workerpool.PanicError for KindWorkerPanicked.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if sentinel := e.Kind.sentinel(); sentinel != nil {
		msg = sentinel.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e's Kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Kind
	}
	return 0
}

// IsResourceAcquisitionFailed reports whether err is a
// KindResourceAcquisitionFailed *Error.
func IsResourceAcquisitionFailed(err error) bool {
	return KindOf(err) == KindResourceAcquisitionFailed
}

// IsOperationFailed reports whether err is a KindOperationFailed *Error.
func IsOperationFailed(err error) bool {
	return KindOf(err) == KindOperationFailed
}

// IsWorkerPanicked reports whether err is a KindWorkerPanicked *Error.
func IsWorkerPanicked(err error) bool {
	return KindOf(err) == KindWorkerPanicked
}

// IsCancelled reports whether err is a KindCancelled *Error.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// PanicValue returns the recovered panic carried by a KindWorkerPanicked
// error.
func PanicValue(err error) (*workerpool.PanicError, bool) {
	if !IsWorkerPanicked(err) {
		return nil, false
	}
	var perr *workerpool.PanicError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
