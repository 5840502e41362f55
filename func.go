// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import "context"

// Func is a generic operation that accepts an input and returns a result.
//
// The permission-denied simulator uses a Func[string, string] as its
// [TokenGenerator]: the input is the identity of the principal whose
// call failed and the output is a simulation credential.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
//
// Use this to create ad-hoc [Func] instances from closures, for example
// a token generator calling an authentication backend.
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}

// TokenGenerator mints simulation credentials for a given identity.
//
// The identity is the empty string when the failing connection was
// not authenticated. The returned credential must mark the connection
// as running in simulate and debug mode.
type TokenGenerator = Func[string, string]
