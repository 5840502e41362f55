// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// replayFunc re-issues a call on the secondary connection.
type replayFunc func(shadow Ref, done Completion)

// call is an in-flight invocation of an instrumented method.
type call struct {
	// w is the owning watcher.
	w *Watcher

	// target is the wrapped value passed to observers.
	target any

	// ref is the unwrapped reference used for simulation (may be nil).
	ref Ref

	// method is the method name.
	method string

	// path is the decoded path of the target.
	path string

	// args are the call arguments without the completion.
	args []any

	// write is true for write-category calls.
	write bool

	// serial is the write serial number (zero for other calls).
	serial uint64

	// spanID identifies the call in logs.
	spanID string

	// t0 is when the call started.
	t0 time.Time

	// done is the user completion (may be nil).
	done Completion

	// future settles after delivery.
	future *Future

	// replay re-issues the call for simulation (nil disables simulation).
	replay replayFunc

	// races are the slow-write races of this call.
	races []*slowRace

	// cancelOnce makes sure we cancel the races once.
	cancelOnce sync.Once

	// deliverOnce is the latch guarding delivery.
	deliverOnce sync.Once
}

// callInfo describes a call about to be started.
type callInfo struct {
	target any
	ref    Ref
	method string
	path   string
	args   []any
	write  bool
	replay replayFunc

	// readReplay replaces replay for read-category methods.
	readReplay replayFunc
}

// description returns "method(path)".
func (c *call) description() string {
	return fmt.Sprintf("%s(%s)", c.method, c.path)
}

// invoke instruments a single call: start must invoke the underlying
// method passing it the synthesized completion.
//
// The returned [*Future] settles after the user completion has run.
func (w *Watcher) invoke(info callInfo, done Completion, start func(Completion) Promise) *Future {
	c := &call{
		w:      w,
		target: info.target,
		ref:    info.ref,
		method: info.method,
		path:   info.path,
		args:   info.args,
		write:  info.write,
		spanID: NewSpanID(),
		t0:     w.timeNow(),
		done:   done,
		future: NewFuture(),
		replay: info.replay,
	}
	if c.write {
		c.serial = w.serial.Add(1)
		c.races = w.startSlowRaces(c)
	}
	w.logCallStart(c)
	start(c.complete)
	return c.future
}

// complete is the synthesized completion handed to the underlying method.
func (c *call) complete(err error, results ...any) error {
	c.cancelOnce.Do(func() {
		for _, race := range c.races {
			race.cancel()
		}
	})
	if err == nil {
		c.deliver(nil, results, "")
		return nil
	}
	e := c.decorate(err)
	if cfg, ok := c.w.shouldSimulate(c, e); ok {
		c.w.simulate(cfg, c, e, results)
		return nil
	}
	c.deliver(e, results, "")
	return nil
}

// decorate attaches the diagnostic block to err.
func (c *call) decorate(err error) *Error {
	e := newError(err)
	e.Extra.Description = fmt.Sprintf("%s: %s", c.description(), e.Error())
	e.Extra.Args = snapshotArgs(c.args)
	var recoverer Recoverer
	if errors.As(e.Err, &recoverer) {
		e.Extra.Recoverable = recoverer.Recoverable()
	}
	return e
}

// deliver runs the user completion, notifies observers and settles the
// future. Only the first invocation has any effect. The note, when not
// empty, is stored into the error diagnostic block before delivery.
func (c *call) deliver(err error, results []any, note string) {
	c.deliverOnce.Do(func() {
		var e *Error
		if note != "" && errors.As(err, &e) {
			e.Extra.Debug = note
		}
		var ret error
		if c.done != nil {
			ret = c.done(err, results...)
		}
		c.w.logCallDone(c, err)
		if err != nil && !errors.Is(ret, IgnoreError) {
			c.w.notifyError(err, c.target, c.method, c.args)
		}
		c.future.Settle(err, results...)
	})
}

// decodePath unescapes a client path for human consumption.
func decodePath(path string) string {
	if decoded, err := url.PathUnescape(path); err == nil {
		return decoded
	}
	return path
}

func (w *Watcher) logCallStart(c *call) {
	w.logger.Info(
		"callStart",
		slog.String("method", c.method),
		slog.String("path", c.path),
		slog.Uint64("serial", c.serial),
		slog.String("spanID", c.spanID),
		slog.Time("t", c.t0),
		slog.Bool("write", c.write),
	)
}

func (w *Watcher) logCallDone(c *call, err error) {
	w.logger.Info(
		"callDone",
		slog.Any("err", err),
		slog.String("errClass", w.classifier.Classify(err)),
		slog.String("method", c.method),
		slog.String("path", c.path),
		slog.Uint64("serial", c.serial),
		slog.String("spanID", c.spanID),
		slog.Time("t0", c.t0),
		slog.Time("t", w.timeNow()),
		slog.Bool("write", c.write),
	)
}
