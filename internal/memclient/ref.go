// SPDX-License-Identifier: GPL-3.0-or-later

package memclient

import (
	"io"
	"reflect"

	"github.com/bassosimone/refwatch"
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// location is the state shared by [*Ref] and [*Query].
type location struct {
	c        *conn
	segments []string
	q        *query
}

// Query is a refined read-only view of a location.
type Query struct {
	location
}

var _ refwatch.Query = &Query{}

// Ref is a reference to a location.
//
// A Ref obtained from [Database.Connect] or [Ref.Secondary] owns its
// connection: [Ref.Close] closes it for all the references sharing it.
type Ref struct {
	location
}

var _ refwatch.SecondaryRef = &Ref{}

// Path implements [refwatch.Query].
func (l *location) Path() string {
	return escapePath(l.segments)
}

// Ref implements [refwatch.Query].
func (l *location) Ref() refwatch.Ref {
	return l.c.ref(l.segments)
}

// On implements [refwatch.Query].
//
// The fn function receives a [*Snapshot] with the current value and then
// again whenever the value changes. All event types behave like "value".
func (l *location) On(event string, fn refwatch.EventFunc, cancel refwatch.Completion) refwatch.EventFunc {
	runtimex.Assert(fn != nil)
	l.c.run(cancel, func() ([]any, error) {
		if err := l.c.authorize("read", l.segments, nil); err != nil {
			return nil, err
		}
		l.c.db.addListener(&listener{c: l.c, segments: l.segments, query: l.q, event: event, fn: fn})
		fn(l.snapshot())
		return nil, nil
	})
	return fn
}

// Once implements [refwatch.Query].
//
// The promise resolves with the [*Snapshot] also passed to fn, if not nil.
func (l *location) Once(event string, fn refwatch.EventFunc, cancel refwatch.Completion) refwatch.Promise {
	return l.c.run(cancel, func() ([]any, error) {
		if err := l.c.authorize("read", l.segments, nil); err != nil {
			return nil, err
		}
		snap := l.snapshot()
		if fn != nil {
			fn(snap)
		}
		return []any{snap}, nil
	})
}

// Off implements [refwatch.Query].
//
// An empty event matches all the events and a nil fn all the functions.
func (l *location) Off(event string, fn refwatch.EventFunc) {
	l.c.db.removeListeners(func(other *listener) bool {
		return other.c == l.c &&
			isPrefix(other.segments, l.segments) && len(other.segments) == len(l.segments) &&
			(event == "" || other.event == event) &&
			(fn == nil || sameFunc(other.fn, fn))
	})
}

// sameFunc compares functions by code pointer, the best Go allows.
func sameFunc(a, b refwatch.EventFunc) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func (l *location) snapshot() *Snapshot {
	db := l.c.db
	db.mu.Lock()
	defer db.mu.Unlock()
	return newSnapshot(l.segments, lookup(db.root, l.segments), l.q, db.priorities)
}

func (l *location) refine(update func(q *query)) refwatch.Query {
	q := l.q.clone()
	update(q)
	return &Query{location{c: l.c, segments: l.segments, q: q}}
}

// OrderByChild implements [refwatch.Query].
func (l *location) OrderByChild(key string) refwatch.Query {
	return l.refine(func(q *query) { q.orderBy, q.orderChild = "child", key })
}

// OrderByKey implements [refwatch.Query].
func (l *location) OrderByKey() refwatch.Query {
	return l.refine(func(q *query) { q.orderBy = "key" })
}

// OrderByValue implements [refwatch.Query].
func (l *location) OrderByValue() refwatch.Query {
	return l.refine(func(q *query) { q.orderBy = "value" })
}

// OrderByPriority implements [refwatch.Query].
func (l *location) OrderByPriority() refwatch.Query {
	return l.refine(func(q *query) { q.orderBy = "priority" })
}

// LimitToFirst implements [refwatch.Query].
func (l *location) LimitToFirst(limit int) refwatch.Query {
	return l.refine(func(q *query) { q.limitFirst = limit })
}

// LimitToLast implements [refwatch.Query].
func (l *location) LimitToLast(limit int) refwatch.Query {
	return l.refine(func(q *query) { q.limitLast = limit })
}

// StartAt implements [refwatch.Query].
func (l *location) StartAt(value any, key ...string) refwatch.Query {
	return l.refine(func(q *query) { q.start = newBound(value, key) })
}

// EndAt implements [refwatch.Query].
func (l *location) EndAt(value any, key ...string) refwatch.Query {
	return l.refine(func(q *query) { q.end = newBound(value, key) })
}

// EqualTo implements [refwatch.Query].
func (l *location) EqualTo(value any, key ...string) refwatch.Query {
	return l.refine(func(q *query) {
		q.start = newBound(value, key)
		q.end = q.start
	})
}

// Child implements [refwatch.Ref].
func (r *Ref) Child(path string) refwatch.Ref {
	return r.c.ref(childSegments(r.segments, path))
}

// put authorizes and stores value at segments, notifying listeners.
func (c *conn) put(segments []string, value any) error {
	if err := c.authorize("write", segments, value); err != nil {
		return err
	}
	c.db.Put(joinPath(segments), value)
	return nil
}

// Set implements [refwatch.Ref].
func (r *Ref) Set(value any, done refwatch.Completion) refwatch.Promise {
	return r.c.run(done, func() ([]any, error) {
		return nil, r.c.put(r.segments, value)
	})
}

// Update implements [refwatch.Ref].
//
// The keys of values are paths relative to the reference. Nothing is
// written unless all the children may be written.
func (r *Ref) Update(values map[string]any, done refwatch.Completion) refwatch.Promise {
	return r.c.run(done, func() ([]any, error) {
		for key, value := range values {
			if err := r.c.authorize("write", childSegments(r.segments, key), value); err != nil {
				return nil, err
			}
		}
		for key, value := range values {
			r.c.db.Put(joinPath(childSegments(r.segments, key)), value)
		}
		return nil, nil
	})
}

// SetWithPriority implements [refwatch.Ref].
func (r *Ref) SetWithPriority(value, priority any, done refwatch.Completion) refwatch.Promise {
	return r.c.run(done, func() ([]any, error) {
		if err := r.c.put(r.segments, value); err != nil {
			return nil, err
		}
		r.c.db.setPriority(r.segments, priority)
		return nil, nil
	})
}

// SetPriority implements [refwatch.Ref].
func (r *Ref) SetPriority(priority any, done refwatch.Completion) refwatch.Promise {
	return r.c.run(done, func() ([]any, error) {
		if err := r.c.authorize("write", r.segments, r.c.db.Get(joinPath(r.segments))); err != nil {
			return nil, err
		}
		r.c.db.setPriority(r.segments, priority)
		return nil, nil
	})
}

// Remove implements [refwatch.Ref].
func (r *Ref) Remove(done refwatch.Completion) refwatch.Promise {
	return r.c.run(done, func() ([]any, error) {
		if err := r.c.put(r.segments, nil); err != nil {
			return nil, err
		}
		r.c.db.setPriority(r.segments, nil)
		return nil, nil
	})
}

// Push implements [refwatch.Ref].
//
// The generated key is a UUIDv7, so keys sort by creation time.
func (r *Ref) Push(value any, done refwatch.Completion) refwatch.Ref {
	key := runtimex.PanicOnError1(uuid.NewV7()).String()
	child := r.c.ref(childSegments(r.segments, key))
	if value != nil {
		child.Set(value, done)
	}
	return child
}

// Transaction implements [refwatch.Ref].
//
// The update function receives a copy of the current value and returns
// the new value or nil to abort. The completion receives whether the
// transaction was committed and the resulting [*Snapshot]. There are no
// local events, so applyLocally has no effect.
func (r *Ref) Transaction(update refwatch.TransactionFunc, done refwatch.Completion, applyLocally bool) refwatch.Promise {
	runtimex.Assert(update != nil)
	return r.c.run(done, func() ([]any, error) {
		current := r.c.db.Get(joinPath(r.segments))
		next := update(current)
		if next == nil {
			return []any{false, r.snapshot()}, nil
		}
		if err := r.c.put(r.segments, next); err != nil {
			return []any{false, nil}, err
		}
		return []any{true, r.snapshot()}, nil
	})
}

// OnDisconnect implements [refwatch.Ref].
func (r *Ref) OnDisconnect() refwatch.OnDisconnect {
	return &OnDisconnect{r: r}
}

// AuthWithCustomToken implements [refwatch.Ref].
//
// The token is the identity, optionally prefixed by [DebugTokenPrefix].
func (r *Ref) AuthWithCustomToken(token string, done refwatch.Completion) refwatch.Promise {
	return r.c.run(done, func() ([]any, error) {
		return r.c.authWithCustomToken(token)
	})
}

// AuthAnonymously implements [refwatch.Ref].
func (r *Ref) AuthAnonymously(done refwatch.Completion) refwatch.Promise {
	return r.c.run(done, r.c.authAnonymously)
}

// AuthWithPassword implements [refwatch.Ref].
func (r *Ref) AuthWithPassword(email, password string, done refwatch.Completion) refwatch.Promise {
	return r.c.run(done, func() ([]any, error) {
		return r.c.authWithPassword(email, password)
	})
}

// Unauth implements [refwatch.Ref].
func (r *Ref) Unauth() {
	r.c.unauth()
}

// AuthIdentity implements [refwatch.Ref].
func (r *Ref) AuthIdentity() string {
	return r.c.identity()
}

// Secondary implements [refwatch.Ref].
func (r *Ref) Secondary(diag io.Writer) (refwatch.SecondaryRef, error) {
	if _, _, err := r.c.session(); err != nil {
		return nil, err
	}
	c := r.c.db.connect(&tracer{w: diag})
	c.diag.plain("memclient: connected to %s", joinPath(r.segments))
	return c.ref(r.segments), nil
}

// Close implements [refwatch.SecondaryRef].
//
// Closing applies the on-disconnect writes queued on the connection.
func (r *Ref) Close() error {
	return r.c.close()
}
