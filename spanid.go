// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// Every wrapped call is a span: it starts when the application invokes
// the operation and ends when the completion is delivered. All the log
// events concerning a call (including slow-write and simulation events)
// carry the same spanID, which simplifies correlating them.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
