// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"context"
	"sync"
)

// newCancelWatchedSecondary arranges for the secondary connection to be
// closed when the context is done (cancelled or deadline exceeded).
//
// A simulation link owns its secondary connection exclusively and must
// tear it down before the next link runs. Binding the connection to the
// link context guarantees teardown even when the link is stuck waiting
// for the connection to authenticate or to complete the replayed call.
//
// Closing the returned connection unregisters the context watcher and
// closes the underlying connection. The underlying Close runs once.
func newCancelWatchedSecondary(ctx context.Context, conn SecondaryRef) *cancelWatchedSecondary {
	c := &cancelWatchedSecondary{SecondaryRef: conn}
	c.stop = context.AfterFunc(ctx, c.closeOnce)
	return c
}

// cancelWatchedSecondary wraps a [SecondaryRef] with a context cancellation watcher.
type cancelWatchedSecondary struct {
	SecondaryRef
	once sync.Once
	stop func() bool
	err  error
}

var _ SecondaryRef = &cancelWatchedSecondary{}

// Close unregisters the context watcher and closes the underlying connection.
func (c *cancelWatchedSecondary) Close() error {
	c.stop()
	c.closeOnce()
	return c.err
}

func (c *cancelWatchedSecondary) closeOnce() {
	c.once.Do(func() {
		c.err = c.SecondaryRef.Close()
	})
}
