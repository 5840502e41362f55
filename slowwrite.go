// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bassosimone/runtimex"
)

// SlowWriteFunc observes changes in the number of outstanding slow writes.
//
// The count is the new number of outstanding slow writes for the monitor,
// delta is +1 when a write exceeds the threshold and -1 when such a write
// completes. The description is "method(path)" and serial is the write
// serial number, which pairs increments with decrements.
type SlowWriteFunc func(count int, delta int, description string, serial uint64)

// SlowWriteHandle identifies a slow-write monitor.
type SlowWriteHandle struct {
	fn        SlowWriteFunc
	threshold time.Duration

	// reportMu serializes count updates together with their reports,
	// so fn observes counts in the order they were produced.
	reportMu sync.Mutex

	// mu protects count.
	mu    sync.Mutex
	count int
}

// Count returns the current number of outstanding slow writes.
func (h *SlowWriteHandle) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *SlowWriteHandle) add(delta int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count += delta
	return h.count
}

// report applies delta and invokes fn with the resulting count.
func (h *SlowWriteHandle) report(c *call, event string, delta int) {
	h.reportMu.Lock()
	defer h.reportMu.Unlock()
	count := h.add(delta)
	c.w.logSlowWrite(event, c, h, count)
	h.fn(count, delta, c.description(), c.serial)
}

// OnSlowWrite registers fn to be invoked whenever a write call takes longer
// than threshold and again when such a call completes.
//
// Only writes started after registration are monitored.
func (w *Watcher) OnSlowWrite(threshold time.Duration, fn SlowWriteFunc) *SlowWriteHandle {
	runtimex.Assert(fn != nil)
	handle := &SlowWriteHandle{fn: fn, threshold: threshold}
	w.mu.Lock()
	w.slowWrites = append(w.slowWrites, handle)
	w.mu.Unlock()
	return handle
}

// OffSlowWrite unregisters a monitor registered using [Watcher.OnSlowWrite].
//
// Writes already in flight still balance the monitor count when they complete.
func (w *Watcher) OffSlowWrite(handle *SlowWriteHandle) {
	w.mu.Lock()
	w.slowWrites = slices.DeleteFunc(w.slowWrites, func(h *SlowWriteHandle) bool {
		return h == handle
	})
	w.mu.Unlock()
}

// slowRace races a single write call against a single monitor threshold.
type slowRace struct {
	c      *call
	handle *SlowWriteHandle

	// mu serializes fire and cancel, so that the increment is always
	// reported before the matching decrement.
	mu       sync.Mutex
	canceled bool
	fired    bool
	timer    Timer
}

// startSlowRaces starts one race per registered monitor.
//
// It must be called before starting the underlying operation, which
// is what makes the races visible to the completion.
func (w *Watcher) startSlowRaces(c *call) []*slowRace {
	w.mu.Lock()
	handles := slices.Clone(w.slowWrites)
	w.mu.Unlock()

	races := make([]*slowRace, 0, len(handles))
	for _, handle := range handles {
		race := &slowRace{c: c, handle: handle}
		race.timer = w.afterFunc(handle.threshold, race.fire)
		races = append(races, race)
	}
	return races
}

func (r *slowRace) fire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.canceled || r.fired {
		return
	}
	r.fired = true
	r.handle.report(r.c, "slowWriteStart", 1)
}

func (r *slowRace) cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.canceled {
		return
	}
	r.canceled = true
	r.timer.Stop()
	if !r.fired {
		return
	}
	r.handle.report(r.c, "slowWriteDone", -1)
}

func (w *Watcher) logSlowWrite(event string, c *call, handle *SlowWriteHandle, count int) {
	w.logger.Info(
		event,
		slog.Int("count", count),
		slog.String("method", c.method),
		slog.String("path", c.path),
		slog.Uint64("serial", c.serial),
		slog.String("spanID", c.spanID),
		slog.Time("t0", c.t0),
		slog.Time("t", w.timeNow()),
		slog.Duration("threshold", handle.threshold),
	)
}
