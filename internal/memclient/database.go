// SPDX-License-Identifier: GPL-3.0-or-later

// Package memclient is an in-memory realtime database client.
//
// It implements the collaborator interfaces consumed by refwatch: locations
// addressed by path, queries, on-disconnect handles and authentication. Access
// is governed by a tiny rules language (see [Rules]). Connections authenticated
// with a debug token write the rule-evaluation trace of every access check to
// their diagnostic writer, prefixed by [TraceMarker].
//
// Operations complete asynchronously after [Options.Latency].
package memclient

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bassosimone/refwatch"
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Options contains optional settings for [NewDatabase].
type Options struct {
	// Latency is how long each operation takes to complete.
	Latency time.Duration

	// Logger is the structured logger. Nil means [refwatch.DefaultSLogger].
	Logger refwatch.SLogger

	// Passwords maps e-mail addresses to passwords for password
	// authentication. The identity of the user is the e-mail address.
	Passwords map[string]string
}

// Database is an in-memory data tree shared by its connections.
//
// Construct using [NewDatabase].
type Database struct {
	latency   time.Duration
	logger    refwatch.SLogger
	passwords map[string]string
	rules     ruleSet

	// mu protects the fields below.
	mu         sync.Mutex
	root       any
	priorities map[string]any
	listeners  []*listener
}

// NewDatabase creates an empty [*Database] governed by rules.
func NewDatabase(rules Rules, opts Options) (*Database, error) {
	rs, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = refwatch.DefaultSLogger()
	}
	return &Database{
		latency:    opts.Latency,
		logger:     logger,
		passwords:  maps.Clone(opts.Passwords),
		rules:      rs,
		priorities: map[string]any{},
	}, nil
}

// Connect opens a new unauthenticated connection and returns its root.
func (db *Database) Connect() *Ref {
	return db.connect(nil).ref(nil)
}

func (db *Database) connect(diag *tracer) *conn {
	c := &conn{db: db, diag: diag}
	db.logger.Debug("memclientConnect", slog.Bool("debug", diag != nil))
	return c
}

// Get returns a copy of the value at path, bypassing the rules.
func (db *Database) Get(path string) any {
	db.mu.Lock()
	defer db.mu.Unlock()
	return cloneValue(lookup(db.root, splitPath(path)))
}

// Put stores a copy of value at path, bypassing the rules.
func (db *Database) Put(path string, value any) {
	db.mu.Lock()
	segments := splitPath(path)
	db.root = store(db.root, segments, cloneValue(value))
	fire := db.affectedLocked(segments)
	db.mu.Unlock()
	fire()
}

func (db *Database) setPriority(segments []string, priority any) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if priority == nil {
		delete(db.priorities, joinPath(segments))
		return
	}
	db.priorities[joinPath(segments)] = priority
}

// after runs fn once the configured latency has elapsed.
func (db *Database) after(fn func()) {
	time.AfterFunc(db.latency, fn)
}

// listener is a subscription created by [Ref.On].
type listener struct {
	c        *conn
	segments []string
	query    *query
	event    string
	fn       refwatch.EventFunc
}

// affectedLocked returns a function notifying the listeners whose location
// contains or is contained by segments. The caller must hold db.mu.
func (db *Database) affectedLocked(segments []string) func() {
	var calls []func()
	for _, l := range db.listeners {
		if !isPrefix(l.segments, segments) && !isPrefix(segments, l.segments) {
			continue
		}
		snap := newSnapshot(l.segments, lookup(db.root, l.segments), l.query, db.priorities)
		fn := l.fn
		calls = append(calls, func() { fn(snap) })
	}
	return func() {
		for _, call := range calls {
			call()
		}
	}
}

func (db *Database) addListener(l *listener) {
	db.mu.Lock()
	db.listeners = append(db.listeners, l)
	db.mu.Unlock()
}

func (db *Database) removeListeners(match func(l *listener) bool) {
	db.mu.Lock()
	db.listeners = slices.DeleteFunc(db.listeners, match)
	db.mu.Unlock()
}

// lookup returns the value at segments or nil.
func lookup(node any, segments []string) any {
	for _, seg := range segments {
		children, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = children[seg]
	}
	return node
}

// store returns node with value stored at segments. A nil value removes the
// location, pruning the parents left empty.
func store(node any, segments []string, value any) any {
	if len(segments) <= 0 {
		return value
	}
	children, ok := node.(map[string]any)
	if !ok {
		children = map[string]any{}
	}
	child := store(children[segments[0]], segments[1:], value)
	if child == nil {
		delete(children, segments[0])
	} else {
		children[segments[0]] = child
	}
	if len(children) <= 0 {
		return nil
	}
	return children
}

// cloneValue deep copies maps and slices so that callers cannot alias the tree.
func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			if child = cloneValue(child); child != nil {
				out[key] = child
			}
		}
		if len(out) <= 0 {
			return nil
		}
		return out
	case []any:
		out := make(map[string]any, len(v))
		for idx, child := range v {
			if child = cloneValue(child); child != nil {
				out[itoa(idx)] = child
			}
		}
		if len(out) <= 0 {
			return nil
		}
		return out
	default:
		return v
	}
}
