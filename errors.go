// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"errors"
	"fmt"
	"reflect"

	jsoniter "github.com/json-iterator/go"
)

// IgnoreError is the suppression sentinel: a [Completion] returning it
// prevents global error observers from being notified for that call.
var IgnoreError = errors.New("refwatch: ignore error")

// Extra is the diagnostic block attached to every failed call.
type Extra struct {
	// Description is "method(path): message".
	Description string

	// Args snapshots the non-function arguments, keyed by position.
	Args map[int]string

	// Debug contains the outcome of the permission-denied simulation,
	// if one was attempted, or the empty string.
	Debug string

	// Recoverable copies the client error flag (see [Recoverer]).
	Recoverable bool
}

// Recoverer is implemented by client errors telling whether retrying
// the operation may succeed.
type Recoverer interface {
	Recoverable() bool
}

// Error is the error delivered to completions and observers.
//
// It preserves the message of the client error and unwraps to it, so that
// [errors.Is], [errors.As] and [DefaultErrClassifier] see the original.
type Error struct {
	// Err is the client error.
	Err error

	// Extra is the diagnostic block.
	Extra Extra
}

var _ error = &Error{}

// Error implements error.
func (e *Error) Error() string {
	return e.Err.Error()
}

// Unwrap returns the client error.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError normalizes a client error value into an [*Error]. A string value
// becomes an error with that message. An existing [*Error] is reused so that
// nested wrapped calls decorate a single value.
func newError(value any) *Error {
	switch v := value.(type) {
	case *Error:
		return v
	case error:
		return &Error{Err: v}
	case string:
		return &Error{Err: errors.New(v)}
	case fmt.Stringer:
		return &Error{Err: errors.New(v.String())}
	default:
		return &Error{Err: fmt.Errorf("%v", v)}
	}
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshotArgs stringifies the non-function arguments, keyed by position.
func snapshotArgs(args []any) map[int]string {
	out := make(map[int]string, len(args))
	for idx, arg := range args {
		if isFunc(arg) {
			continue
		}
		out[idx] = snapshotArg(arg)
	}
	return out
}

func snapshotArg(arg any) string {
	if arg == nil {
		return "null"
	}
	switch reflect.ValueOf(arg).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		if data, err := jsonAPI.Marshal(arg); err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(arg)
}

func isFunc(arg any) bool {
	return arg != nil && reflect.TypeOf(arg).Kind() == reflect.Func
}
