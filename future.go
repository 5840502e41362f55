// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"context"
	"sync"
)

// Future is a [Promise] settled exactly once.
//
// Wrapped operations return a Future that settles after the completion has
// been delivered, including any permission-denied simulation, so callers
// awaiting it observe the same (possibly augmented) error as the completion.
//
// Client implementations may also use Future for their own promises.
//
// The zero value is not ready to use; construct using [NewFuture].
type Future struct {
	done    chan struct{}
	err     error
	once    sync.Once
	results []any
}

var _ Promise = &Future{}

// NewFuture returns a new pending [*Future].
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Settle resolves the future with the given error and results.
//
// Subsequent calls are ignored.
func (f *Future) Settle(err error, results ...any) {
	f.once.Do(func() {
		f.err = err
		f.results = results
		close(f.done)
	})
}

// Done returns a channel closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait implements [Promise].
func (f *Future) Wait(ctx context.Context) ([]any, error) {
	select {
	case <-f.done:
		return f.results, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Finally returns a [*Future] settling like f after fn has run.
//
// The fn function runs once f settles, regardless of the outcome.
func (f *Future) Finally(fn func()) *Future {
	next := NewFuture()
	go func() {
		<-f.done
		fn()
		next.Settle(f.err, f.results...)
	}()
	return next
}
