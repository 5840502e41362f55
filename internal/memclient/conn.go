// SPDX-License-Identifier: GPL-3.0-or-later

package memclient

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/bassosimone/refwatch"
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// DebugTokenPrefix marks a custom token as a simulate+debug credential.
//
// The token "debug:alice" authenticates as alice and traces the evaluation
// of the rules; "debug:" traces without authenticating any principal.
const DebugTokenPrefix = "debug:"

// authState is the principal of an authenticated connection.
type authState struct {
	UID      string
	Provider string
}

// conn is a connection to a [*Database].
type conn struct {
	db   *Database
	diag *tracer

	// mu protects the fields below.
	mu          sync.Mutex
	auth        *authState
	debug       bool
	closed      bool
	disconnects []*disconnectOp
}

// disconnectOp is a write queued using [OnDisconnect].
type disconnectOp struct {
	segments []string
	apply    func()
}

func (c *conn) ref(segments []string) *Ref {
	return &Ref{location: location{c: c, segments: segments}}
}

// session returns the principal (nil if none) and the tracer to use for
// access checks (nil unless the connection is in debug mode).
func (c *conn) session() (*authState, *tracer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, errDisconnected
	}
	var tr *tracer
	if c.debug {
		tr = c.diag
	}
	return c.auth, tr, nil
}

// authorize checks whether the connection may access segments.
func (c *conn) authorize(kind string, segments []string, value any) error {
	auth, tr, err := c.session()
	if err != nil {
		return err
	}
	switch kind {
	case "write":
		tr.printf("Attempt to write %s to %s with auth=%s", mustJSON(value), joinPath(segments), authJSON(auth))
	default:
		tr.printf("Attempt to read %s with auth=%s", joinPath(segments), authJSON(auth))
	}
	title := strings.ToUpper(kind[:1]) + kind[1:]
	if !c.db.rules.check(kind, segments, auth, tr) {
		tr.printf("%s was denied.", title)
		c.db.logger.Debug("memclientDenied", slog.String("kind", kind), slog.String("path", joinPath(segments)))
		return errPermissionDenied
	}
	tr.printf("%s was allowed.", title)
	return nil
}

// run completes op asynchronously, invoking done and settling the future.
func (c *conn) run(done refwatch.Completion, op func() ([]any, error)) *refwatch.Future {
	future := refwatch.NewFuture()
	c.db.after(func() {
		results, err := op()
		if done != nil {
			done(err, results...)
		}
		future.Settle(err, results...)
	})
	return future
}

// login authenticates the connection with the given principal.
func (c *conn) login(auth *authState, debug bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errDisconnected
	}
	c.auth, c.debug = auth, debug
	return nil
}

func (c *conn) authWithCustomToken(token string) ([]any, error) {
	debug := strings.HasPrefix(token, DebugTokenPrefix)
	uid := strings.TrimPrefix(token, DebugTokenPrefix)
	if !debug && uid == "" {
		return nil, newError(CodeInvalidToken, "Invalid token in JWT payload.")
	}
	var auth *authState
	if uid != "" {
		auth = &authState{UID: uid, Provider: "custom"}
	}
	if err := c.login(auth, debug); err != nil {
		return nil, err
	}
	c.diag.plain("memclient: authenticated uid=%q debug=%t", uid, debug)
	return []any{uid}, nil
}

func (c *conn) authAnonymously() ([]any, error) {
	uid := "anonymous-" + runtimex.PanicOnError1(uuid.NewV7()).String()
	if err := c.login(&authState{UID: uid, Provider: "anonymous"}, false); err != nil {
		return nil, err
	}
	return []any{uid}, nil
}

func (c *conn) authWithPassword(email, password string) ([]any, error) {
	expected, found := c.db.passwords[email]
	switch {
	case !found:
		return nil, newError(CodeInvalidUser, "The specified user does not exist.")
	case expected != password:
		return nil, newError(CodeInvalidPassword, "The specified password is incorrect.")
	}
	if err := c.login(&authState{UID: email, Provider: "password"}, false); err != nil {
		return nil, err
	}
	return []any{email}, nil
}

func (c *conn) unauth() {
	c.mu.Lock()
	c.auth, c.debug = nil, false
	c.mu.Unlock()
}

func (c *conn) identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auth == nil {
		return ""
	}
	return c.auth.UID
}

// queueDisconnect queues op to run when the connection closes.
func (c *conn) queueDisconnect(op *disconnectOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errDisconnected
	}
	c.disconnects = append(c.disconnects, op)
	return nil
}

// cancelDisconnect drops the queued writes at or below segments.
func (c *conn) cancelDisconnect(segments []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errDisconnected
	}
	kept := c.disconnects[:0]
	for _, op := range c.disconnects {
		if !isPrefix(segments, op.segments) {
			kept = append(kept, op)
		}
	}
	c.disconnects = kept
	return nil
}

// close closes the connection and applies the queued on-disconnect writes.
func (c *conn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ops := c.disconnects
	c.disconnects = nil
	c.mu.Unlock()

	c.db.removeListeners(func(l *listener) bool { return l.c == c })
	for _, op := range ops {
		op.apply()
	}
	c.db.logger.Debug("memclientClose", slog.Int("onDisconnect", len(ops)))
	return nil
}
