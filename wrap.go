// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"io"

	"github.com/bassosimone/runtimex"
)

// Wrap returns a [Ref] whose asynchronous methods are instrumented by w.
//
// The returned value is a drop-in replacement for ref: methods keep their
// signatures, and references, queries and on-disconnect handles obtained
// from it are instrumented as well. Wrapping a reference already wrapped
// by w returns it unchanged.
//
// Methods missing from the method table (see [Watcher.SetMethodTable])
// are forwarded to ref without instrumentation.
func (w *Watcher) Wrap(ref Ref) Ref {
	runtimex.Assert(ref != nil)
	if wr, ok := ref.(*watchedRef); ok && wr.w == w {
		return wr
	}
	wr := &watchedRef{ref: ref}
	wr.watchedQuery = watchedQuery{w: w, q: ref, self: wr}
	return wr
}

// Unwrap returns the reference wrapped by [Watcher.Wrap] or ref itself.
func Unwrap(ref Ref) Ref {
	if wr, ok := ref.(*watchedRef); ok {
		return wr.ref
	}
	return ref
}

// instrument runs start through the completion adapter when name is
// declared by the method table, and calls it directly otherwise.
func (w *Watcher) instrument(name string, info callInfo, done Completion, start func(Completion) Promise) Promise {
	spec, ok := w.methodSpec(name)
	if !ok {
		return start(done)
	}
	info.write = spec.Write
	if spec.Read && info.readReplay != nil {
		info.replay = info.readReplay
	}
	return w.invoke(info, done, start)
}

// watchedQuery instruments a [Query].
type watchedQuery struct {
	w *Watcher
	q Query

	// self is the value passed to observers as the call target.
	self any
}

var _ Query = &watchedQuery{}

func (wq *watchedQuery) info(method string, args ...any) callInfo {
	return callInfo{
		target: wq.self,
		ref:    Unwrap(wq.q.Ref()),
		method: method,
		path:   decodePath(wq.q.Path()),
		args:   args,
	}
}

func (wq *watchedQuery) refine(q Query) Query {
	out := &watchedQuery{w: wq.w, q: q}
	out.self = out
	return out
}

// Path implements [Query].
func (wq *watchedQuery) Path() string {
	return wq.q.Path()
}

// Ref implements [Query].
func (wq *watchedQuery) Ref() Ref {
	return wq.w.Wrap(wq.q.Ref())
}

// On implements [Query].
//
// The cancel completion observes the failure of the subscription.
func (wq *watchedQuery) On(event string, fn EventFunc, cancel Completion) EventFunc {
	info := wq.info("on", event, fn)
	info.replay = func(shadow Ref, done Completion) {
		installed := shadow.On(event, nopEvent, done)
		shadow.Off(event, installed)
	}
	info.readReplay = func(shadow Ref, done Completion) {
		shadow.Once(event, nopEvent, done)
	}
	var installed EventFunc
	wq.w.instrument("on", info, cancel, func(done Completion) Promise {
		installed = wq.q.On(event, fn, done)
		return nil
	})
	return installed
}

// Once implements [Query].
func (wq *watchedQuery) Once(event string, fn EventFunc, cancel Completion) Promise {
	info := wq.info("once", event, fn)
	info.replay = func(shadow Ref, done Completion) {
		shadow.Once(event, nopEvent, done)
	}
	return wq.w.instrument("once", info, cancel, func(done Completion) Promise {
		return wq.q.Once(event, fn, done)
	})
}

// Off implements [Query].
func (wq *watchedQuery) Off(event string, fn EventFunc) {
	wq.q.Off(event, fn)
}

// OrderByChild implements [Query].
func (wq *watchedQuery) OrderByChild(key string) Query {
	return wq.refine(wq.q.OrderByChild(key))
}

// OrderByKey implements [Query].
func (wq *watchedQuery) OrderByKey() Query {
	return wq.refine(wq.q.OrderByKey())
}

// OrderByValue implements [Query].
func (wq *watchedQuery) OrderByValue() Query {
	return wq.refine(wq.q.OrderByValue())
}

// OrderByPriority implements [Query].
func (wq *watchedQuery) OrderByPriority() Query {
	return wq.refine(wq.q.OrderByPriority())
}

// LimitToFirst implements [Query].
func (wq *watchedQuery) LimitToFirst(limit int) Query {
	return wq.refine(wq.q.LimitToFirst(limit))
}

// LimitToLast implements [Query].
func (wq *watchedQuery) LimitToLast(limit int) Query {
	return wq.refine(wq.q.LimitToLast(limit))
}

// StartAt implements [Query].
func (wq *watchedQuery) StartAt(value any, key ...string) Query {
	return wq.refine(wq.q.StartAt(value, key...))
}

// EndAt implements [Query].
func (wq *watchedQuery) EndAt(value any, key ...string) Query {
	return wq.refine(wq.q.EndAt(value, key...))
}

// EqualTo implements [Query].
func (wq *watchedQuery) EqualTo(value any, key ...string) Query {
	return wq.refine(wq.q.EqualTo(value, key...))
}

func nopEvent(any) {}

// watchedRef instruments a [Ref].
type watchedRef struct {
	watchedQuery
	ref Ref
}

var _ Ref = &watchedRef{}

// Child implements [Ref].
func (wr *watchedRef) Child(path string) Ref {
	return wr.w.Wrap(wr.ref.Child(path))
}

// Set implements [Ref].
func (wr *watchedRef) Set(value any, done Completion) Promise {
	info := wr.info("set", value)
	info.replay = func(shadow Ref, done Completion) {
		shadow.Set(value, done)
	}
	return wr.w.instrument("set", info, done, func(done Completion) Promise {
		return wr.ref.Set(value, done)
	})
}

// Update implements [Ref].
func (wr *watchedRef) Update(values map[string]any, done Completion) Promise {
	info := wr.info("update", values)
	info.replay = func(shadow Ref, done Completion) {
		shadow.Update(values, done)
	}
	return wr.w.instrument("update", info, done, func(done Completion) Promise {
		return wr.ref.Update(values, done)
	})
}

// SetWithPriority implements [Ref].
func (wr *watchedRef) SetWithPriority(value, priority any, done Completion) Promise {
	info := wr.info("setWithPriority", value, priority)
	info.replay = func(shadow Ref, done Completion) {
		shadow.SetWithPriority(value, priority, done)
	}
	return wr.w.instrument("setWithPriority", info, done, func(done Completion) Promise {
		return wr.ref.SetWithPriority(value, priority, done)
	})
}

// SetPriority implements [Ref].
func (wr *watchedRef) SetPriority(priority any, done Completion) Promise {
	info := wr.info("setPriority", priority)
	info.replay = func(shadow Ref, done Completion) {
		shadow.SetPriority(priority, done)
	}
	return wr.w.instrument("setPriority", info, done, func(done Completion) Promise {
		return wr.ref.SetPriority(priority, done)
	})
}

// Remove implements [Ref].
func (wr *watchedRef) Remove(done Completion) Promise {
	info := wr.info("remove")
	info.replay = func(shadow Ref, done Completion) {
		shadow.Remove(done)
	}
	return wr.w.instrument("remove", info, done, func(done Completion) Promise {
		return wr.ref.Remove(done)
	})
}

// Push implements [Ref].
//
// Pushing a nil value only creates the reference, so there is nothing to
// observe and the call is forwarded as is.
func (wr *watchedRef) Push(value any, done Completion) Ref {
	if value == nil {
		return wr.w.Wrap(wr.ref.Push(nil, done))
	}
	info := wr.info("push", value)
	info.replay = func(shadow Ref, done Completion) {
		shadow.Push(value, done)
	}
	var pushed Ref
	wr.w.instrument("push", info, done, func(done Completion) Promise {
		pushed = wr.ref.Push(value, done)
		return nil
	})
	return wr.w.Wrap(pushed)
}

// Transaction implements [Ref].
func (wr *watchedRef) Transaction(update TransactionFunc, done Completion, applyLocally bool) Promise {
	info := wr.info("transaction", update, applyLocally)
	info.replay = func(shadow Ref, done Completion) {
		shadow.Transaction(update, done, applyLocally)
	}
	return wr.w.instrument("transaction", info, done, func(done Completion) Promise {
		return wr.ref.Transaction(update, done, applyLocally)
	})
}

// OnDisconnect implements [Ref].
func (wr *watchedRef) OnDisconnect() OnDisconnect {
	return &watchedOnDisconnect{owner: wr, od: wr.ref.OnDisconnect()}
}

// AuthWithCustomToken implements [Ref].
func (wr *watchedRef) AuthWithCustomToken(token string, done Completion) Promise {
	info := wr.info("authWithCustomToken", token)
	return wr.w.instrument("authWithCustomToken", info, done, func(done Completion) Promise {
		return wr.ref.AuthWithCustomToken(token, done)
	})
}

// AuthAnonymously implements [Ref].
func (wr *watchedRef) AuthAnonymously(done Completion) Promise {
	info := wr.info("authAnonymously")
	return wr.w.instrument("authAnonymously", info, done, func(done Completion) Promise {
		return wr.ref.AuthAnonymously(done)
	})
}

// AuthWithPassword implements [Ref].
//
// The password never appears in the argument snapshot.
func (wr *watchedRef) AuthWithPassword(email, password string, done Completion) Promise {
	info := wr.info("authWithPassword", email, redacted)
	return wr.w.instrument("authWithPassword", info, done, func(done Completion) Promise {
		return wr.ref.AuthWithPassword(email, password, done)
	})
}

const redacted = "<redacted>"

// Unauth implements [Ref].
func (wr *watchedRef) Unauth() {
	wr.ref.Unauth()
}

// AuthIdentity implements [Ref].
func (wr *watchedRef) AuthIdentity() string {
	return wr.ref.AuthIdentity()
}

// Secondary implements [Ref].
//
// The secondary connection is not instrumented.
func (wr *watchedRef) Secondary(diag io.Writer) (SecondaryRef, error) {
	return wr.ref.Secondary(diag)
}

// watchedOnDisconnect instruments an [OnDisconnect].
type watchedOnDisconnect struct {
	owner *watchedRef
	od    OnDisconnect
}

var _ OnDisconnect = &watchedOnDisconnect{}

func (wd *watchedOnDisconnect) run(method string, args []any, done Completion,
	replay func(od OnDisconnect, done Completion), start func(Completion) Promise) Promise {
	info := wd.owner.info(method, args...)
	info.target = wd
	info.replay = func(shadow Ref, done Completion) {
		replay(shadow.OnDisconnect(), done)
	}
	return wd.owner.w.instrument("onDisconnect."+method, info, done, start)
}

// Set implements [OnDisconnect].
func (wd *watchedOnDisconnect) Set(value any, done Completion) Promise {
	return wd.run("set", []any{value}, done, func(od OnDisconnect, done Completion) {
		od.Set(value, done)
	}, func(done Completion) Promise {
		return wd.od.Set(value, done)
	})
}

// SetWithPriority implements [OnDisconnect].
func (wd *watchedOnDisconnect) SetWithPriority(value, priority any, done Completion) Promise {
	return wd.run("setWithPriority", []any{value, priority}, done, func(od OnDisconnect, done Completion) {
		od.SetWithPriority(value, priority, done)
	}, func(done Completion) Promise {
		return wd.od.SetWithPriority(value, priority, done)
	})
}

// Update implements [OnDisconnect].
func (wd *watchedOnDisconnect) Update(values map[string]any, done Completion) Promise {
	return wd.run("update", []any{values}, done, func(od OnDisconnect, done Completion) {
		od.Update(values, done)
	}, func(done Completion) Promise {
		return wd.od.Update(values, done)
	})
}

// Remove implements [OnDisconnect].
func (wd *watchedOnDisconnect) Remove(done Completion) Promise {
	return wd.run("remove", nil, done, func(od OnDisconnect, done Completion) {
		od.Remove(done)
	}, func(done Completion) Promise {
		return wd.od.Remove(done)
	})
}

// Cancel implements [OnDisconnect].
func (wd *watchedOnDisconnect) Cancel(done Completion) Promise {
	return wd.run("cancel", nil, done, func(od OnDisconnect, done Completion) {
		od.Cancel(done)
	}, func(done Completion) Promise {
		return wd.od.Cancel(done)
	})
}
