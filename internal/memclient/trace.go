// SPDX-License-Identifier: GPL-3.0-or-later

package memclient

import (
	"fmt"
	"io"
)

// TraceMarker prefixes the rule-evaluation messages of debug connections.
const TraceMarker = "FIREBASE:"

// tracer writes rule-evaluation messages to a diagnostic writer.
//
// A nil tracer, or one without writer, discards everything.
type tracer struct {
	w io.Writer
}

// printf writes a single marked message.
func (tr *tracer) printf(format string, args ...any) {
	if tr == nil || tr.w == nil {
		return
	}
	fmt.Fprintf(tr.w, "%s %s\n", TraceMarker, fmt.Sprintf(format, args...))
}

// plain writes an unmarked message.
func (tr *tracer) plain(format string, args ...any) {
	if tr == nil || tr.w == nil {
		return
	}
	fmt.Fprintf(tr.w, format+"\n", args...)
}

func authJSON(auth *authState) string {
	if auth == nil {
		return "null"
	}
	return mustJSON(map[string]any{"uid": auth.UID, "provider": auth.Provider})
}

func mustJSON(value any) string {
	data, err := jsonAPI.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}
