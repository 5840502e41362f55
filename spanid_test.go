// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Span IDs are UUIDv7 strings.
func TestNewSpanID(t *testing.T) {
	parsed, err := uuid.Parse(NewSpanID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

// Every call gets its own span ID, even when started back to back.
func TestNewSpanIDPerCall(t *testing.T) {
	w, _, _ := newTestWatcher()
	seen := map[string]bool{}
	for range 64 {
		c := &call{w: w, spanID: NewSpanID()}
		require.False(t, seen[c.spanID], "duplicate span ID: %s", c.spanID)
		seen[c.spanID] = true
	}
}
