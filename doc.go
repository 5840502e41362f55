// SPDX-License-Identifier: GPL-3.0-or-later

// Package refwatch instruments the asynchronous calls of a remote data client.
//
// # Core Abstraction
//
// The client is modeled by a small capability set: [Query], [Ref],
// [OnDisconnect] and [SecondaryRef]. Asynchronous methods take a [Completion]:
//
//	type Completion func(err error, results ...any) error
//
// A [*Watcher] wraps a [Ref] using [Watcher.Wrap]. The returned value is a
// drop-in replacement whose asynchronous methods run through a completion
// adapter that, for each call:
//
//   - decorates failures into an [*Error] carrying an [Extra] diagnostic block
//   - runs the caller completion exactly once (a nil completion is fine)
//   - notifies the error observers registered using [Watcher.OnError]
//   - tracks slow writes for the monitors registered using [Watcher.OnSlowWrite]
//   - returns a [*Future] settling after the completion has run
//
// References, queries and on-disconnect handles obtained from a wrapped
// reference are wrapped as well. Which methods are instrumented, and how,
// is declared by a [MethodTable] (see [DefaultMethodTable]).
//
// Clients exposing positional, dynamically dispatched methods are supported
// through [Object] and [Watcher.WrapObject], which rewrite the completion slot
// and route the call through the same adapter.
//
// # Permission Debugging
//
// [Watcher.EnablePermissionDebugging] arranges for permission-denied failures
// to be reproduced on a secondary connection authenticated with a debug
// credential minted by a [TokenGenerator]. The secondary connection writes the
// rule-evaluation trace to a [DiagnosticCapture], whose one-line summary ends
// up in [Extra.Debug] before the error is delivered.
//
// Simulations run one at a time, in the order in which the calls failed. A
// timeout (see [PermissionDebugConfig]) bounds how long each failed call waits
// for its simulation: when it expires, the error is delivered with a note
// explaining that the simulation timed out.
//
// # Observability
//
// All types support structured logging via [SLogger] (compatible with [log/slog]).
// By default, logging is disabled. Error classification is configurable via
// [ErrClassifier]; the default classifier uses the client error code when
// available.
//
// Calls emit callStart/callDone span events carrying method, path, serial,
// spanID, t0 and t; callDone additionally carries err and errClass. Slow
// writes emit slowWriteStart/slowWriteDone and simulations emit
// simulationStart/simulationDone. Diagnostic text that is not part of a
// rule-evaluation trace is emitted at [slog.LevelDebug] as diagnosticText.
//
// Use [NewSpanID] to generate a unique, time-ordered identifier (UUIDv7);
// every instrumented call gets its own.
package refwatch
