// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bassosimone/slogstub"
)

// recordSink collects the log records emitted while exercising the code
// under test. Records may come from several goroutines.
type recordSink struct {
	mu      sync.Mutex
	records []slog.Record
}

// Messages returns the messages of the records collected so far.
func (s *recordSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, record := range s.records {
		out = append(out, record.Message)
	}
	return out
}

// Attrs returns the attributes of the first record with the given message.
func (s *recordSink) Attrs(message string) map[string]slog.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.Message != message {
			continue
		}
		out := map[string]slog.Value{}
		record.Attrs(func(attr slog.Attr) bool {
			out[attr.Key] = attr.Value
			return true
		})
		return out
	}
	return nil
}

// newCapturingLogger returns a logger that captures all log records into the
// returned sink, so that tests can verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *recordSink) {
	sink := &recordSink{}
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			sink.mu.Lock()
			sink.records = append(sink.records, record.Clone())
			sink.mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), sink
}

// fakeClock hands out timers that only fire when the test says so.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

// AfterFunc is a drop-in replacement for [Config.AfterFunc].
func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Fire runs the pending timers whose duration is at most d.
func (c *fakeClock) Fire(d time.Duration) int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.d <= d {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}

// Pending returns the number of timers neither stopped nor fired.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(slices.DeleteFunc(slices.Clone(c.timers), func(t *fakeTimer) bool {
		return t.stopped || t.fired
	}))
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// newTestWatcher returns a watcher using the fake clock and a capturing logger.
func newTestWatcher() (*Watcher, *fakeClock, *recordSink) {
	clock := &fakeClock{}
	logger, sink := newCapturingLogger()
	cfg := NewConfig()
	cfg.AfterFunc = clock.AfterFunc
	return NewWatcher(cfg, logger), clock, sink
}

// deniedError is a client error classified as permission denied.
type deniedError struct{}

func (deniedError) Error() string { return "permission_denied: refused" }
func (deniedError) Code() string  { return "permission_denied" }

// embeddedRef lets stubRef embed a [Ref] without the field name
// shadowing the Ref method.
type embeddedRef = Ref

// stubRef is a [Ref] implementing only identity and secondary connections.
//
// The embedded interface is nil: calling any other method panics.
type stubRef struct {
	embeddedRef
	identity  string
	secondary func(diag io.Writer) (SecondaryRef, error)
}

func (r *stubRef) AuthIdentity() string {
	return r.identity
}

func (r *stubRef) Secondary(diag io.Writer) (SecondaryRef, error) {
	return r.secondary(diag)
}

// stubSecondary is a [SecondaryRef] implementing authentication and Close.
//
// The embedded interface is nil: calling any other method panics.
type stubSecondary struct {
	SecondaryRef

	mu       sync.Mutex
	closed   int
	unauthed int
	tokens   []string
	authFunc func(token string, done Completion)
}

func (s *stubSecondary) Unauth() {
	s.mu.Lock()
	s.unauthed++
	s.mu.Unlock()
}

func (s *stubSecondary) AuthWithCustomToken(token string, done Completion) Promise {
	s.mu.Lock()
	s.tokens = append(s.tokens, token)
	s.mu.Unlock()
	if s.authFunc != nil {
		s.authFunc(token, done)
		return nil
	}
	done(nil)
	return nil
}

func (s *stubSecondary) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *stubSecondary) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
