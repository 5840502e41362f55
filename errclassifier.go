// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"errors"
	"strings"

	"github.com/bassosimone/errclass"
)

// ClassPermissionDenied is the classification of errors caused by the
// remote access rules refusing an operation.
const ClassPermissionDenied = "PERMISSION_DENIED"

// ErrClassifier classifies errors into categorical strings for analysis.
//
// Implementations map errors to short, descriptive labels (e.g.,
// "PERMISSION_DENIED", "ETIMEDOUT") used in log events and to decide
// whether a failure is eligible for permission-denied simulation.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
//
// This allows using simple functions as classifiers:
//
//	cfg.ErrClassifier = ErrClassifierFunc(errclass.New)
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// Coder is implemented by client errors carrying a classification code.
type Coder interface {
	Code() string
}

// DefaultErrClassifier returns the upper-cased client code for errors
// implementing [Coder] and falls back to [errclass.New] otherwise.
//
// The nil error is classified as the empty string.
var DefaultErrClassifier = ErrClassifierFunc(func(err error) string {
	if err == nil {
		return ""
	}
	var coder Coder
	if errors.As(err, &coder) && coder.Code() != "" {
		return strings.ToUpper(coder.Code())
	}
	return errclass.New(err)
})
