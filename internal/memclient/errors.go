// SPDX-License-Identifier: GPL-3.0-or-later

package memclient

import "fmt"

// Error codes returned by the in-memory client.
const (
	CodePermissionDenied = "permission_denied"
	CodeInvalidToken     = "invalid_token"
	CodeInvalidUser      = "invalid_user"
	CodeInvalidPassword  = "invalid_password"
	CodeDisconnected     = "disconnected"
)

// Error is the error type returned by the in-memory client.
type Error struct {
	// Status is the machine readable error code.
	Status string

	// Message is the human readable message.
	Message string
}

var _ error = &Error{}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// Code returns the error code.
func (e *Error) Code() string {
	return e.Status
}

// Recoverable returns whether retrying may succeed, which is only
// the case when the connection was lost.
func (e *Error) Recoverable() bool {
	return e.Status == CodeDisconnected
}

func newError(code, format string, args ...any) *Error {
	return &Error{Status: code, Message: fmt.Sprintf(format, args...)}
}

var (
	errPermissionDenied = &Error{Status: CodePermissionDenied, Message: "Client doesn't have permission to access the desired data."}
	errDisconnected     = &Error{Status: CodeDisconnected, Message: "The connection has been closed."}
)
