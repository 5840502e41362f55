// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bassosimone/runtimex"
)

// DefaultSimulationTimeout is the default maximum duration of a
// permission-denied simulation.
const DefaultSimulationTimeout = 5 * time.Second

// Notes stored into [Extra.Debug] when the simulation cannot produce a trace.
const (
	NoteTimedOut           = "Simulated call timed out"
	NoteUnableToReproduce  = "Unable to reproduce error in simulation"
	noteDifferentError     = "Got a different error in simulation"
	noteTokenFailure       = "Unable to generate simulation token"
	noteSecondaryFailure   = "Unable to open simulation connection"
	noteAuthFailure        = "Unable to authenticate simulation"
	noteSimulationPanicked = "Simulation failed"
)

// CallFilter decides whether a failed call should be simulated.
type CallFilter func(target any, method string, args []any) bool

// PermissionDebugConfig configures permission-denied simulation.
type PermissionDebugConfig struct {
	// Generator mints the simulation credential. It is required.
	Generator TokenGenerator

	// Timeout bounds how long the failed call waits for the simulation.
	// Zero means [DefaultSimulationTimeout]; a negative value disables
	// simulation while keeping the configuration registered.
	Timeout time.Duration

	// Filter selects the calls to simulate. Nil accepts all calls.
	Filter CallFilter
}

// EnablePermissionDebugging arranges for permission-denied failures to be
// reproduced on a debug-enabled secondary connection, whose rule-evaluation
// trace is stored into [Extra.Debug] before the error is delivered.
func (w *Watcher) EnablePermissionDebugging(config PermissionDebugConfig) {
	runtimex.Assert(config.Generator != nil)
	if config.Timeout == 0 {
		config.Timeout = DefaultSimulationTimeout
	}
	if config.Filter == nil {
		config.Filter = func(any, string, []any) bool { return true }
	}
	w.mu.Lock()
	w.debug = &config
	w.mu.Unlock()
}

// DisablePermissionDebugging turns off permission-denied simulation.
//
// Simulations already running complete normally.
func (w *Watcher) DisablePermissionDebugging() {
	w.mu.Lock()
	w.debug = nil
	w.mu.Unlock()
}

// shouldSimulate returns the configuration to use when the failed call
// is eligible for simulation.
func (w *Watcher) shouldSimulate(c *call, err *Error) (PermissionDebugConfig, bool) {
	w.mu.Lock()
	debug := w.debug
	w.mu.Unlock()
	if debug == nil || debug.Timeout <= 0 || c.replay == nil || c.ref == nil {
		return PermissionDebugConfig{}, false
	}
	if w.classifier.Classify(err) != ClassPermissionDenied {
		return PermissionDebugConfig{}, false
	}
	if !debug.Filter(c.target, c.method, c.args) {
		return PermissionDebugConfig{}, false
	}
	return *debug, true
}

// tokenResult is the outcome of the token generator.
type tokenResult struct {
	token string
	err   error
}

// simulate reproduces the failed call on a secondary connection and then
// delivers err, unless the timeout delivers it first.
func (w *Watcher) simulate(cfg PermissionDebugConfig, c *call, err *Error, results []any) {
	w.logSimulationStart(c, cfg.Timeout)
	timer := w.afterFunc(cfg.Timeout, func() {
		w.logSimulationDone(c, NoteTimedOut)
		c.deliver(err, results, NoteTimedOut)
	})

	// The link context bounds the whole simulation, so a stuck generator
	// or secondary connection cannot stall the queue.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)

	// Request the token right away and in parallel with previous links.
	identity := c.ref.AuthIdentity()
	tokens := make(chan tokenResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				tokens <- tokenResult{err: fmt.Errorf("token generator panicked: %v", r)}
			}
		}()
		token, err := cfg.Generator.Call(ctx, identity)
		tokens <- tokenResult{token: token, err: err}
	}()

	w.queue.enqueue(func() {
		defer cancel()
		note := noteSimulationPanicked
		defer func() {
			timer.Stop()
			w.logSimulationDone(c, note)
			c.deliver(err, results, note)
		}()
		note = w.runSimulation(ctx, c, tokens)
	})
}

// runSimulation executes a simulation link and returns the debug note.
func (w *Watcher) runSimulation(ctx context.Context, c *call, tokens <-chan tokenResult) string {
	var tr tokenResult
	select {
	case tr = <-tokens:
	case <-ctx.Done():
		return NoteTimedOut
	}
	if tr.err != nil {
		return fmt.Sprintf("%s: %s", noteTokenFailure, tr.err.Error())
	}

	capture := NewDiagnosticCapture(w.logger)
	secondary, err := c.ref.Secondary(capture)
	if err != nil {
		return fmt.Sprintf("%s: %s", noteSecondaryFailure, err.Error())
	}
	shadow := newCancelWatchedSecondary(ctx, secondary)
	defer shadow.Close()

	shadow.Unauth()
	ok, authErr := await(ctx, func(done Completion) {
		shadow.AuthWithCustomToken(tr.token, done)
	})
	if !ok {
		return NoteTimedOut
	}
	if authErr != nil {
		return fmt.Sprintf("%s: %s", noteAuthFailure, authErr.Error())
	}

	ok, simErr := await(ctx, func(done Completion) {
		c.replay(shadow, done)
	})
	switch {
	case !ok:
		return NoteTimedOut
	case simErr == nil:
		return NoteUnableToReproduce
	case w.classifier.Classify(simErr) == ClassPermissionDenied:
		return capture.String()
	default:
		return fmt.Sprintf("%s: %s", noteDifferentError, simErr.Error())
	}
}

// await runs an operation and waits for its completion. The boolean is
// false when the context is done before the operation completes.
func await(ctx context.Context, run func(done Completion)) (bool, error) {
	ch := make(chan error, 1)
	run(func(err error, _ ...any) error {
		select {
		case ch <- err:
		default:
		}
		return nil
	})
	select {
	case err := <-ch:
		return true, err
	case <-ctx.Done():
		return false, nil
	}
}

func (w *Watcher) logSimulationStart(c *call, timeout time.Duration) {
	w.logger.Info(
		"simulationStart",
		slog.String("method", c.method),
		slog.String("path", c.path),
		slog.String("spanID", c.spanID),
		slog.Time("t", w.timeNow()),
		slog.Duration("timeout", timeout),
	)
}

func (w *Watcher) logSimulationDone(c *call, note string) {
	w.logger.Info(
		"simulationDone",
		slog.String("debug", note),
		slog.String("method", c.method),
		slog.String("path", c.path),
		slog.String("spanID", c.spanID),
		slog.Time("t0", c.t0),
		slog.Time("t", w.timeNow()),
	)
}
