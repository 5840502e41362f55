// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// DiagnosticMarker prefixes the rule-evaluation messages that a debug
// connection writes to its diagnostic stream.
const DiagnosticMarker = "FIREBASE:"

// Annotations prefixed to rule lines once their result is known.
const (
	passPrefix = "   "
	failPrefix = " X "
)

var (
	// ruleLine matches "<path>:.<read|write|validate>:<rest>".
	ruleLine = regexp.MustCompile(`^(\S*):\.(read|write|validate):(.*)$`)

	// resultLine matches an indented "=> true" or "=> false".
	resultLine = regexp.MustCompile(`^\s+=>\s*(true|false)\s*$`)
)

// DiagnosticCapture reassembles the rule-evaluation trace written by a debug
// connection into one-line entries.
//
// Each Write is one diagnostic message. Messages starting with [DiagnosticMarker]
// (possibly repeated) are captured; any other text is passed through to the
// logger at debug level as diagnosticText events.
//
// Rule lines "<path>:.<kind>:<rest>" become "<kind> <path><rest>". An indented
// "=> true" or "=> false" annotates the last rule line with a pass or fail
// prefix. Other indented lines are evaluation details: consecutive details
// replace each other, so only the last one per rule survives.
//
// The zero value is not ready to use; construct using [NewDiagnosticCapture].
type DiagnosticCapture struct {
	logger SLogger

	// mu protects entries.
	mu      sync.Mutex
	entries []traceEntry
}

// traceEntry is a captured trace line.
type traceEntry struct {
	detail bool
	prefix string
	text   string
}

var _ io.Writer = &DiagnosticCapture{}

// NewDiagnosticCapture returns an empty [*DiagnosticCapture].
func NewDiagnosticCapture(logger SLogger) *DiagnosticCapture {
	return &DiagnosticCapture{logger: logger}
}

// Write implements [io.Writer].
func (d *DiagnosticCapture) Write(data []byte) (int, error) {
	message := string(data)
	rest, ok := stripMarker(message)
	if !ok {
		d.logger.Debug("diagnosticText", slog.String("text", strings.TrimRight(message, "\r\n")))
		return len(data), nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, line := range strings.Split(rest, "\n") {
		d.capture(strings.TrimRight(line, "\r"))
	}
	return len(data), nil
}

// stripMarker removes the leading, possibly repeated, marker.
func stripMarker(message string) (string, bool) {
	found := false
	for {
		trimmed := strings.TrimLeft(message, " ")
		if !strings.HasPrefix(trimmed, DiagnosticMarker) {
			return message, found
		}
		message = strings.TrimPrefix(trimmed, DiagnosticMarker)
		found = true
	}
}

func (d *DiagnosticCapture) capture(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	line = strings.TrimPrefix(line, " ") // the separator following the marker

	if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
		line = ruleLine.ReplaceAllString(line, "$2 $1$3")
		d.entries = append(d.entries, traceEntry{text: line})
		return
	}

	if m := resultLine.FindStringSubmatch(line); m != nil {
		d.annotate(m[1] == "true")
		return
	}

	if n := len(d.entries); n > 0 && d.entries[n-1].detail {
		d.entries[n-1].text = line
		return
	}
	d.entries = append(d.entries, traceEntry{detail: true, text: line})
}

// annotate marks the most recent rule line as passed or failed.
func (d *DiagnosticCapture) annotate(pass bool) {
	for idx := len(d.entries) - 1; idx >= 0; idx-- {
		entry := &d.entries[idx]
		if entry.detail {
			continue
		}
		if entry.prefix == "" {
			entry.prefix = failPrefix
			if pass {
				entry.prefix = passPrefix
			}
		}
		return
	}
}

// Lines returns the captured trace lines.
func (d *DiagnosticCapture) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	lines := make([]string, 0, len(d.entries))
	for _, entry := range d.entries {
		lines = append(lines, entry.prefix+entry.text)
	}
	return lines
}

// String returns the captured trace lines joined by newlines.
func (d *DiagnosticCapture) String() string {
	return strings.Join(d.Lines(), "\n")
}

// Reset discards the captured trace.
func (d *DiagnosticCapture) Reset() {
	d.mu.Lock()
	d.entries = nil
	d.mu.Unlock()
}
