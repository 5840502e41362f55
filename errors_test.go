// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringer struct{}

func (stringer) String() string { return "from stringer" }

// Client error values of any shape become an [*Error].
func TestNewError(t *testing.T) {
	existing := &Error{Err: errors.New("existing")}
	cases := []struct {
		name  string
		value any
		msg   string
	}{
		{"error", errors.New("plain"), "plain"},
		{"string", "from string", "from string"},
		{"stringer", stringer{}, "from stringer"},
		{"other", 42, "42"},
		{"existing", existing, "existing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newError(tc.value)
			require.NotNil(t, e)
			assert.EqualError(t, e, tc.msg)
		})
	}
	assert.Same(t, existing, newError(existing))
}

// The wrapped error stays reachable, including its code.
func TestErrorUnwrap(t *testing.T) {
	e := newError(fmt.Errorf("wrapped: %w", deniedError{}))
	assert.ErrorIs(t, e, deniedError{})

	var coder Coder
	require.True(t, errors.As(e, &coder))
	assert.Equal(t, "permission_denied", coder.Code())
	assert.Equal(t, ClassPermissionDenied, DefaultErrClassifier.Classify(e))
}

// Arguments are stringified by position and functions are skipped.
func TestSnapshotArgs(t *testing.T) {
	args := []any{
		map[string]any{"b": 2, "a": 1},
		"text",
		func() {},
		nil,
		3.5,
		[]int{1, 2},
	}
	assert.Equal(t, map[int]string{
		0: `{"a":1,"b":2}`,
		1: "text",
		3: "null",
		4: "3.5",
		5: "[1,2]",
	}, snapshotArgs(args))
}

// Values that cannot be marshaled fall back to their default format.
func TestSnapshotArgUnmarshalable(t *testing.T) {
	value := map[string]any{"ch": make(chan int)}
	assert.Contains(t, snapshotArg(value), "map[ch:")
}
