// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import "log/slog"

// SLogger is the subset of [*slog.Logger] used by a [*Watcher].
//
// Events use two levels:
//   - Info for call lifecycle (callStart/callDone, slowWriteStart/slowWriteDone,
//     simulationStart/simulationDone, simulationPanic)
//   - Debug for diagnosticText, the output of secondary connections that is
//     not part of a rule-evaluation trace
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

var _ SLogger = &slog.Logger{}

// DefaultSLogger returns an [SLogger] discarding everything.
//
// Libraries should stay quiet unless configured otherwise: pass a
// [*slog.Logger] to [NewWatcher] to see the events.
func DefaultSLogger() SLogger {
	return slog.New(slog.DiscardHandler)
}
