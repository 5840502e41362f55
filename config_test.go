// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)

	// ErrClassifier should be DefaultErrClassifier
	assert.Equal(t, "", cfg.ErrClassifier.Classify(nil))

	// TimeNow should be set and return a valid time
	now := cfg.TimeNow()
	assert.False(t, now.IsZero())

	// AfterFunc should return a *time.Timer that runs the function
	done := make(chan struct{})
	timer := cfg.AfterFunc(time.Millisecond, func() { close(done) })
	_, ok := timer.(*time.Timer)
	assert.True(t, ok, "AfterFunc should return *time.Timer")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
