// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"context"
	"io"
)

// Completion is invoked once an asynchronous operation finishes.
//
// The err argument is nil on success. The results depend on the operation
// (e.g., a transaction yields the committed flag and a snapshot). Returning
// [IgnoreError] opts this single call out of global error notification.
//
// A nil Completion means the caller is not interested in the outcome.
type Completion func(err error, results ...any) error

// EventFunc receives the snapshots produced by [Query.On] and [Query.Once].
type EventFunc func(snapshot any)

// TransactionFunc computes the new value of a location given the current one.
type TransactionFunc func(current any) any

// Promise is the deferred result of an asynchronous operation.
type Promise interface {
	// Wait blocks until the operation settles or the context is done.
	Wait(ctx context.Context) ([]any, error)
}

// Query is the read side of a client location.
//
// Query, [Ref] and [OnDisconnect] are the capability set that a remote
// data client must expose to be instrumented by a [*Watcher].
type Query interface {
	// Path returns the escaped path of the location, "/" for the root.
	Path() string

	// Ref returns the reference of the location.
	Ref() Ref

	// On subscribes fn to event; cancel is invoked if the subscription fails.
	On(event string, fn EventFunc, cancel Completion) EventFunc

	// Once reads event a single time; cancel is invoked on failure.
	Once(event string, fn EventFunc, cancel Completion) Promise

	// Off removes a subscription created by On.
	Off(event string, fn EventFunc)

	OrderByChild(key string) Query
	OrderByKey() Query
	OrderByValue() Query
	OrderByPriority() Query
	LimitToFirst(limit int) Query
	LimitToLast(limit int) Query
	StartAt(value any, key ...string) Query
	EndAt(value any, key ...string) Query
	EqualTo(value any, key ...string) Query
}

// Ref is a client reference to a location.
type Ref interface {
	Query

	// Child returns the reference of a descendant location.
	Child(path string) Ref

	Set(value any, done Completion) Promise
	Update(values map[string]any, done Completion) Promise
	SetWithPriority(value, priority any, done Completion) Promise
	SetPriority(priority any, done Completion) Promise
	Remove(done Completion) Promise

	// Push creates a child with a generated key. A nil value creates
	// the reference without writing anything.
	Push(value any, done Completion) Ref

	Transaction(update TransactionFunc, done Completion, applyLocally bool) Promise

	// OnDisconnect returns the handle for server-side writes executed
	// when the client disconnects.
	OnDisconnect() OnDisconnect

	AuthWithCustomToken(token string, done Completion) Promise
	AuthAnonymously(done Completion) Promise
	AuthWithPassword(email, password string, done Completion) Promise
	Unauth()

	// AuthIdentity returns the authenticated identity or "".
	AuthIdentity() string

	// Secondary opens a new unauthenticated connection scoped to the same
	// location. The connection writes its raw diagnostic text to diag.
	Secondary(diag io.Writer) (SecondaryRef, error)
}

// SecondaryRef is a [Ref] bound to a dedicated connection.
type SecondaryRef interface {
	Ref

	// Close tears down the dedicated connection.
	Close() error
}

// OnDisconnect queues writes that the server applies on disconnection.
type OnDisconnect interface {
	Set(value any, done Completion) Promise
	SetWithPriority(value, priority any, done Completion) Promise
	Update(values map[string]any, done Completion) Promise
	Remove(done Completion) Promise
	Cancel(done Completion) Promise
}
