package session

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// SuccessFunc is the callback resolved when an authentication attempt
// completes successfully.
type SuccessFunc func(info *AuthInfo)

// FailureFunc is the callback resolved when an authentication attempt
// fails or is cancelled.
type FailureFunc func(info *AuthInfo, err error)

// pendingCallback is one caller's (success, failure) pair.  It is resolved
// exactly once: success or failure, never both.
type pendingCallback struct {
	onSuccess SuccessFunc
	onFailure FailureFunc
}

// pendingQueue holds the callback pairs of login calls that arrived while
// an attempt was already in flight, in arrival order.  The original
// caller's pair is the head of the queue.  It is not safe for concurrent
// use; the coordinator guards it with its state mutex.
type pendingQueue struct {
	entries []pendingCallback
}

func (q *pendingQueue) enqueue(onSuccess SuccessFunc, onFailure FailureFunc) {
	q.entries = append(q.entries, pendingCallback{onSuccess: onSuccess, onFailure: onFailure})
}

// drain removes and returns every queued pair in FIFO order, leaving the
// queue empty.
func (q *pendingQueue) drain() []pendingCallback {
	entries := q.entries
	q.entries = nil
	return entries
}

func (q *pendingQueue) len() int {
	return len(q.entries)
}

// resolveSuccess invokes every success callback in FIFO order, each exactly
// once, all with the same AuthInfo.  A callback that panics does not stop
// the drain; panics are collected and returned.
func resolveSuccess(callbacks []pendingCallback, info *AuthInfo) error {
	var errs *multierror.Error
	for _, cb := range callbacks {
		if cb.onSuccess == nil {
			continue
		}
		fn := cb.onSuccess
		if err := invoke(func() { fn(info) }); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// resolveFailure invokes every failure callback in FIFO order, each exactly
// once, all with the same AuthInfo and cause.
func resolveFailure(callbacks []pendingCallback, info *AuthInfo, cause error) error {
	var errs *multierror.Error
	for _, cb := range callbacks {
		if cb.onFailure == nil {
			continue
		}
		fn := cb.onFailure
		if err := invoke(func() { fn(info, cause) }); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func invoke(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	fn()
	return nil
}
