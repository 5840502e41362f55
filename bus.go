// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"slices"

	"github.com/bassosimone/runtimex"
)

// ErrorFunc observes every failed call.
//
// The target is the wrapped reference, query, on-disconnect handle or
// [*Object] the method was invoked on. The args are the call arguments
// without the completion.
type ErrorFunc func(err error, target any, method string, args []any)

// ErrorHandle identifies a registered [ErrorFunc].
type ErrorHandle struct {
	fn ErrorFunc
}

// OnError registers fn to be invoked whenever a call fails, unless the
// call completion returns [IgnoreError]. Observers are invoked in
// registration order.
func (w *Watcher) OnError(fn ErrorFunc) *ErrorHandle {
	runtimex.Assert(fn != nil)
	handle := &ErrorHandle{fn: fn}
	w.mu.Lock()
	w.errorHandles = append(w.errorHandles, handle)
	w.mu.Unlock()
	return handle
}

// OffError unregisters an observer registered using [Watcher.OnError].
//
// Unknown handles are ignored.
func (w *Watcher) OffError(handle *ErrorHandle) {
	w.mu.Lock()
	w.errorHandles = slices.DeleteFunc(w.errorHandles, func(h *ErrorHandle) bool {
		return h == handle
	})
	w.mu.Unlock()
}

func (w *Watcher) notifyError(err error, target any, method string, args []any) {
	w.mu.Lock()
	handles := slices.Clone(w.errorHandles)
	w.mu.Unlock()
	for _, handle := range handles {
		handle.fn(err, target, method, args)
	}
}
