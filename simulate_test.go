// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simFixture is a shimmed object whose "set" fails with permission denied
// and whose shadow replays according to shadowOutcome.
type simFixture struct {
	w         *Watcher
	clock     *fakeClock
	sink      *recordSink
	obj       *Object
	secondary *stubSecondary

	// secondaryErr, when set, makes opening the secondary connection fail.
	secondaryErr error

	// outcome is the completion value of the call.
	outcome any

	// shadowOutcome is the completion value of the replayed call.
	shadowOutcome any

	mu       sync.Mutex
	diag     io.Writer
	replayed int
}

func newSimFixture() *simFixture {
	w, clock, sink := newTestWatcher()
	f := &simFixture{
		w:             w,
		clock:         clock,
		sink:          sink,
		secondary:     &stubSecondary{},
		outcome:       deniedError{},
		shadowOutcome: deniedError{},
	}
	ref := &stubRef{
		identity: "alice",
		secondary: func(diag io.Writer) (SecondaryRef, error) {
			if f.secondaryErr != nil {
				return nil, f.secondaryErr
			}
			f.mu.Lock()
			f.diag = diag
			f.mu.Unlock()
			return f.secondary, nil
		},
	}
	f.obj = NewObject("/users/bob")
	f.obj.Ref = ref
	f.obj.Define("set", func(args ...any) any {
		args[1].(Callback)(f.outcome)
		return nil
	})
	f.obj.Rebind = func(shadow Ref) *Object {
		shadowObj := NewObject("/users/bob")
		shadowObj.Define("set", func(args ...any) any {
			f.mu.Lock()
			f.replayed++
			diag := f.diag
			f.mu.Unlock()
			fmt.Fprint(diag, "FIREBASE: /users/$uid:.write: \"auth.uid == $uid\"\n")
			fmt.Fprint(diag, "FIREBASE:     => false\n")
			args[1].(Callback)(f.shadowOutcome)
			return nil
		})
		return shadowObj
	}
	w.WrapObject(f.obj, CallbackTable{"set": 1}, true)
	return f
}

// enable turns on permission debugging with a generator minting debug tokens.
func (f *simFixture) enable(cfg PermissionDebugConfig) {
	if cfg.Generator == nil {
		cfg.Generator = FuncAdapter[string, string](func(ctx context.Context, identity string) (string, error) {
			return "debug:" + identity, nil
		})
	}
	f.w.EnablePermissionDebugging(cfg)
}

// call invokes "set" and returns a channel receiving every delivered error.
func (f *simFixture) call() <-chan error {
	ch := make(chan error, 4)
	f.obj.Call("set", map[string]any{"name": "bob"}, func(err error) { ch <- err })
	return ch
}

// receive waits for a delivered error and returns its diagnostic block.
func receive(t *testing.T, ch <-chan error) *Error {
	t.Helper()
	select {
	case err := <-ch:
		var e *Error
		require.True(t, errors.As(err, &e))
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("completion not invoked")
		return nil
	}
}

// idle waits for the simulation queue to drain.
func (f *simFixture) idle(t *testing.T) {
	waitIdle(t, f.w.queue)
}

// A reproduced failure carries the rule-evaluation trace.
func TestSimulateCapturesTrace(t *testing.T) {
	f := newSimFixture()
	var notified []*Error
	f.w.OnError(func(err error, _ any, _ string, _ []any) {
		var e *Error
		assert.True(t, errors.As(err, &e))
		notified = append(notified, e)
	})
	f.enable(PermissionDebugConfig{})

	e := receive(t, f.call())
	f.idle(t)

	assert.Equal(t, " X write /users/$uid \"auth.uid == $uid\"", e.Extra.Debug)
	assert.Equal(t, "set(/users/bob): permission_denied: refused", e.Extra.Description)
	assert.ErrorIs(t, e, deniedError{})
	assert.Equal(t, []string{"debug:alice"}, f.secondary.tokens)
	assert.Equal(t, 1, f.secondary.unauthed)
	assert.Equal(t, 1, f.secondary.Closed())
	require.Len(t, notified, 1)
	assert.Same(t, e, notified[0])
	assert.Equal(t, []string{"callStart", "simulationStart", "simulationDone", "callDone"}, f.sink.Messages())
}

// A generator failure is recorded and does not block later simulations.
func TestSimulateGeneratorFailure(t *testing.T) {
	f := newSimFixture()
	var fail = true
	f.enable(PermissionDebugConfig{
		Generator: FuncAdapter[string, string](func(ctx context.Context, identity string) (string, error) {
			if fail {
				return "", errors.New("backend unavailable")
			}
			return "debug:" + identity, nil
		}),
	})

	e := receive(t, f.call())
	f.idle(t)
	assert.Equal(t, "Unable to generate simulation token: backend unavailable", e.Extra.Debug)
	assert.Equal(t, 0, f.secondary.Closed())

	fail = false
	e = receive(t, f.call())
	f.idle(t)
	assert.Equal(t, " X write /users/$uid \"auth.uid == $uid\"", e.Extra.Debug)
}

// A panicking generator is reported like a failing one.
func TestSimulateGeneratorPanic(t *testing.T) {
	f := newSimFixture()
	f.enable(PermissionDebugConfig{
		Generator: FuncAdapter[string, string](func(ctx context.Context, identity string) (string, error) {
			panic("mocked")
		}),
	})
	e := receive(t, f.call())
	f.idle(t)
	assert.Equal(t, "Unable to generate simulation token: token generator panicked: mocked", e.Extra.Debug)
}

// The simulated call succeeding means the failure cannot be explained.
func TestSimulateUnableToReproduce(t *testing.T) {
	f := newSimFixture()
	f.shadowOutcome = nil
	f.enable(PermissionDebugConfig{})

	e := receive(t, f.call())
	f.idle(t)
	assert.Equal(t, NoteUnableToReproduce, e.Extra.Debug)
	assert.Equal(t, 1, f.secondary.Closed())
}

// The simulated call failing otherwise is reported with its message.
func TestSimulateDifferentError(t *testing.T) {
	f := newSimFixture()
	f.shadowOutcome = "disconnected: network down"
	f.enable(PermissionDebugConfig{})

	e := receive(t, f.call())
	f.idle(t)
	assert.Equal(t, "Got a different error in simulation: disconnected: network down", e.Extra.Debug)
}

// Failing to open the secondary connection is reported.
func TestSimulateSecondaryFailure(t *testing.T) {
	f := newSimFixture()
	f.secondaryErr = errors.New("too many connections")
	f.enable(PermissionDebugConfig{})

	e := receive(t, f.call())
	f.idle(t)
	assert.Equal(t, "Unable to open simulation connection: too many connections", e.Extra.Debug)
	assert.Equal(t, 0, f.replayed)
}

// Failing to authenticate the secondary connection is reported.
func TestSimulateAuthFailure(t *testing.T) {
	f := newSimFixture()
	f.secondary.authFunc = func(token string, done Completion) {
		done(errors.New("invalid_token: expired"))
	}
	f.enable(PermissionDebugConfig{})

	e := receive(t, f.call())
	f.idle(t)
	assert.Equal(t, "Unable to authenticate simulation: invalid_token: expired", e.Extra.Debug)
	assert.Equal(t, 1, f.secondary.Closed())
	assert.Equal(t, 0, f.replayed)
}

// When the timeout expires first, the error is delivered exactly once.
func TestSimulateTimeout(t *testing.T) {
	f := newSimFixture()
	release := make(chan struct{})
	f.enable(PermissionDebugConfig{
		Generator: FuncAdapter[string, string](func(ctx context.Context, identity string) (string, error) {
			select {
			case <-release:
				return "debug:" + identity, nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}),
	})
	var notified int
	f.w.OnError(func(error, any, string, []any) { notified++ })

	ch := f.call()
	require.Equal(t, 1, f.clock.Fire(DefaultSimulationTimeout))
	e := receive(t, ch)
	assert.Equal(t, NoteTimedOut, e.Extra.Debug)

	close(release)
	f.idle(t)
	select {
	case <-ch:
		t.Fatal("completion invoked twice")
	default:
	}
	assert.Equal(t, 1, notified)
	assert.Equal(t, NoteTimedOut, e.Extra.Debug)
}

// Calls rejected by the filter are delivered without simulation.
func TestSimulateFilter(t *testing.T) {
	f := newSimFixture()
	var seen []string
	f.enable(PermissionDebugConfig{
		Filter: func(target any, method string, args []any) bool {
			seen = append(seen, method)
			assert.Same(t, f.obj, target)
			return false
		},
	})

	e := receive(t, f.call())
	assert.Equal(t, "", e.Extra.Debug)
	assert.Equal(t, []string{"set"}, seen)
	assert.Equal(t, 0, f.replayed)
	assert.Equal(t, 0, f.clock.Pending())
}

// Only permission-denied failures are simulated.
func TestSimulateOtherErrors(t *testing.T) {
	f := newSimFixture()
	f.outcome = "disconnected: network down"
	f.enable(PermissionDebugConfig{})

	e := receive(t, f.call())
	assert.Equal(t, "", e.Extra.Debug)
	assert.Equal(t, 0, f.replayed)
}

// Disabling, or a negative timeout, turns the simulation off.
func TestSimulateDisabled(t *testing.T) {
	f := newSimFixture()
	f.enable(PermissionDebugConfig{})
	f.w.DisablePermissionDebugging()

	e := receive(t, f.call())
	assert.Equal(t, "", e.Extra.Debug)

	f.enable(PermissionDebugConfig{Timeout: -1})
	e = receive(t, f.call())
	assert.Equal(t, "", e.Extra.Debug)
	assert.Equal(t, 0, f.replayed)
}

// Objects without a rebind function are never simulated.
func TestSimulateWithoutRebind(t *testing.T) {
	f := newSimFixture()
	f.obj.Rebind = nil
	f.enable(PermissionDebugConfig{})

	e := receive(t, f.call())
	assert.Equal(t, "", e.Extra.Debug)
}

// Concurrent simulations are serialized and each gets its own trace.
func TestSimulateSerialized(t *testing.T) {
	f := newSimFixture()
	f.enable(PermissionDebugConfig{})

	var chans []<-chan error
	for range 4 {
		chans = append(chans, f.call())
	}
	for _, ch := range chans {
		e := receive(t, ch)
		assert.Equal(t, " X write /users/$uid \"auth.uid == $uid\"", e.Extra.Debug)
	}
	f.idle(t)
	assert.Equal(t, 4, f.secondary.Closed())
	assert.Equal(t, 4, f.replayed)
}
