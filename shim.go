// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

//
// Positional compatibility shim
//
// Clients that are not statically typed expose their methods as functions
// taking positional arguments, with the completion in a fixed slot. The
// [Object] type models such a method set so that we can install shims
// that rewrite the completion slot and route the call through the same
// completion adapter used by [Watcher.Wrap].
//

import (
	"fmt"
	"slices"
	"sync"

	"github.com/bassosimone/runtimex"
)

// Method is a positional method of an [*Object].
type Method func(args ...any) any

// Callback is a positional completion. The first argument is the error,
// nil on success, possibly as a string; the remaining ones are results.
type Callback func(args ...any) any

// CallbackTable maps method names to the index of their completion argument.
type CallbackTable map[string]int

// Object is a dynamically dispatched method set.
//
// Construct using [NewObject]. The exported fields are meant to be set
// before the object is shared.
type Object struct {
	// Path is the escaped path of the location the object refers to.
	Path string

	// Ref is the reference used to determine the identity and to open the
	// secondary connection when simulating failed calls. Nil disables the
	// simulation of calls made through this object.
	Ref Ref

	// Rebind returns the object equivalent to this one on the given
	// secondary connection. Nil disables the simulation.
	Rebind func(shadow Ref) *Object

	// Target is the value passed to error observers. Nil means the object.
	Target any

	// mu protects the maps below.
	mu sync.Mutex

	// methods are the current methods.
	methods map[string]Method

	// originals are the methods saved before the first shim.
	originals map[string]Method

	// shims tracks the shims installed by each watcher.
	shims map[shimKey]bool
}

type shimKey struct {
	w    *Watcher
	name string
}

// NewObject returns a new [*Object] without methods.
func NewObject(path string) *Object {
	return &Object{
		Path:      path,
		methods:   map[string]Method{},
		originals: map[string]Method{},
		shims:     map[shimKey]bool{},
	}
}

// Define sets the method with the given name.
func (o *Object) Define(name string, m Method) {
	runtimex.Assert(m != nil)
	o.mu.Lock()
	o.methods[name] = m
	o.mu.Unlock()
}

// Call invokes the method with the given name, which must exist.
func (o *Object) Call(name string, args ...any) any {
	o.mu.Lock()
	m := o.methods[name]
	o.mu.Unlock()
	runtimex.Assert(m != nil)
	return m(args...)
}

// Original returns the method as it was before any shim was installed,
// or nil if there is no such method.
func (o *Object) Original(name string) Method {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.originals[name]; ok {
		return m
	}
	return o.methods[name]
}

func (o *Object) target() any {
	if o.Target != nil {
		return o.Target
	}
	return o
}

// install replaces the named method using wrap, unless w already did so.
func (o *Object) install(w *Watcher, name string, wrap func(original Method) Method) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := shimKey{w: w, name: name}
	current, found := o.methods[name]
	if !found || o.shims[key] {
		return false
	}
	o.shims[key] = true
	if _, saved := o.originals[name]; !saved {
		o.originals[name] = current
	}
	o.methods[name] = wrap(current)
	return true
}

// WrapObject installs shims for the methods in table that obj defines.
//
// Calls to a shimmed method are instrumented like the methods of a [Ref]
// returned by [Watcher.Wrap]. The write flag alone decides whether the
// methods in the table are write-category: the same name may be a write on
// a reference and not on an on-disconnect handle. The method table only
// contributes the Read flag.
//
// Wrapping is idempotent: a method already shimmed by w is left alone.
func (w *Watcher) WrapObject(obj *Object, table CallbackTable, write bool) *Object {
	for name, idx := range table {
		w.installShim(obj, name, idx, write, nil)
	}
	return obj
}

// WrapPushObject installs the shim for an append-style method whose first
// argument is the value. Calls without a value only create a reference, so
// they are forwarded without rewriting.
func (w *Watcher) WrapPushObject(obj *Object, name string, idx int) *Object {
	w.installShim(obj, name, idx, true, func(args []any) bool {
		return len(args) <= 0 || args[0] == nil
	})
	return obj
}

// WrapObjectReturns re-wraps the [*Object] values returned by the named
// methods using wrap, so that chained calls remain instrumented.
func (w *Watcher) WrapObjectReturns(obj *Object, names []string, wrap func(*Object) *Object) *Object {
	runtimex.Assert(wrap != nil)
	for _, name := range names {
		obj.installReturns(w, name, wrap)
	}
	return obj
}

func (o *Object) installReturns(w *Watcher, name string, wrap func(*Object) *Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := shimKey{w: w, name: "return:" + name}
	current, found := o.methods[name]
	if !found || o.shims[key] {
		return
	}
	o.shims[key] = true
	o.methods[name] = func(args ...any) any {
		ret := current(args...)
		if child, ok := ret.(*Object); ok && child != nil {
			return wrap(child)
		}
		return ret
	}
}

func (w *Watcher) installShim(obj *Object, name string, idx int, write bool, skip func([]any) bool) {
	runtimex.Assert(idx >= 0)
	obj.install(w, name, func(original Method) Method {
		return func(args ...any) any {
			if skip != nil && skip(args) {
				return original(args...)
			}
			return w.callShim(obj, name, idx, write, original, args)
		}
	})
}

func (w *Watcher) callShim(obj *Object, name string, idx int, write bool, original Method, args []any) any {
	spec, ok := w.methodSpec(name)
	if !ok {
		spec = MethodSpec{HasCompletion: true}
	}
	done, rewritten := rewriteArgs(args, idx)
	info := callInfo{
		target: obj.target(),
		ref:    obj.Ref,
		method: name,
		path:   decodePath(obj.Path),
		args:   slices.Clone(args),
		write:  write,
	}
	if obj.Rebind != nil {
		info.replay = shimReplay(obj, name, idx, rewritten, spec.Read)
	}

	var ret any
	future := w.invoke(info, done, func(complete Completion) Promise {
		rewritten[idx] = Callback(func(cargs ...any) any {
			results, err := callbackArgs(cargs)
			return complete(err, results...)
		})
		ret = original(rewritten...)
		promise, _ := ret.(Promise)
		return promise
	})
	if _, ok := ret.(Promise); ok {
		return future
	}
	return ret
}

// shimReplay re-issues a shimmed call on the shadow object using the
// original method. Read-category calls use "once" with no-op listeners.
func shimReplay(obj *Object, name string, idx int, args []any, read bool) replayFunc {
	return func(shadow Ref, done Completion) {
		variant := name
		if read {
			variant = "once"
		}
		method := obj.Rebind(shadow).Original(variant)
		if method == nil {
			done(fmt.Errorf("refwatch: no such method: %s", variant))
			return
		}
		replayArgs := slices.Clone(args)
		if read {
			for i, arg := range replayArgs {
				if i != idx && isFunc(arg) {
					replayArgs[i] = Callback(func(...any) any { return nil })
				}
			}
		}
		replayArgs[idx] = Callback(func(cargs ...any) any {
			results, err := callbackArgs(cargs)
			return done(err, results...)
		})
		method(replayArgs...)
	}
}

// rewriteArgs reads the completion at idx and returns it along with a copy
// of args where the completion slot exists at idx.
//
// An absent or nil slot means no completion. A value that is not a function
// is not a completion either: the slot is inserted before it.
func rewriteArgs(args []any, idx int) (Completion, []any) {
	var slot any
	if idx < len(args) {
		slot = args[idx]
	}
	done, valid := asCompletion(slot)
	out := slices.Clone(args)
	for len(out) < idx {
		out = append(out, nil)
	}
	if valid && idx < len(out) {
		out[idx] = nil
		return done, out
	}
	return done, slices.Insert(out, idx, any(nil))
}

// asCompletion converts the supported callback types into a [Completion].
func asCompletion(value any) (Completion, bool) {
	switch fn := value.(type) {
	case nil:
		return nil, true
	case Completion:
		return fn, true
	case func(error, ...any) error:
		return fn, true
	case Callback:
		return callbackCompletion(fn), true
	case func(...any) any:
		return callbackCompletion(fn), true
	case func(error):
		return func(err error, _ ...any) error {
			fn(err)
			return nil
		}, true
	default:
		return nil, false
	}
}

func callbackCompletion(fn Callback) Completion {
	return func(err error, results ...any) error {
		var first any
		if err != nil {
			first = err
		}
		ret, _ := fn(append([]any{first}, results...)...).(error)
		return ret
	}
}

// callbackArgs splits positional completion arguments into the results
// and the error, normalized using [newError].
func callbackArgs(args []any) ([]any, error) {
	if len(args) <= 0 {
		return nil, nil
	}
	if args[0] == nil {
		return args[1:], nil
	}
	return args[1:], newError(args[0])
}
