// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bassosimone/errclass"
	"github.com/stretchr/testify/assert"
)

type codedError struct {
	code string
}

func (e *codedError) Code() string  { return e.code }
func (e *codedError) Error() string { return e.code + ": refused" }

func TestDefaultErrClassifier(t *testing.T) {
	// Should return empty string for nil error
	result := DefaultErrClassifier.Classify(nil)
	assert.Equal(t, "", result)

	// Should use the client code when available
	result = DefaultErrClassifier.Classify(&codedError{code: "permission_denied"})
	assert.Equal(t, ClassPermissionDenied, result)

	// Should see through wrapping
	result = DefaultErrClassifier.Classify(fmt.Errorf("wrapped: %w", &codedError{code: "DISCONNECTED"}))
	assert.Equal(t, "DISCONNECTED", result)

	// Should classify known errors using errclass
	result = DefaultErrClassifier.Classify(context.DeadlineExceeded)
	assert.Equal(t, errclass.ETIMEDOUT, result)

	// Should return EGENERIC for unknown errors
	result = DefaultErrClassifier.Classify(errors.New("unknown error"))
	assert.Equal(t, errclass.EGENERIC, result)
}

func TestErrClassifierFunc(t *testing.T) {
	fn := ErrClassifierFunc(func(err error) string { return "CUSTOM" })
	assert.Equal(t, "CUSTOM", fn.Classify(errors.New("x")))
}
