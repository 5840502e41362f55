// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Settle only takes effect the first time.
func TestFutureSettleOnce(t *testing.T) {
	f := NewFuture()
	wantErr := errors.New("denied")

	f.Settle(wantErr, 1)
	f.Settle(nil, 2)

	results, err := f.Wait(context.Background())
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, []any{1}, results)
}

// Wait returns the context error when the future never settles.
func TestFutureWaitContext(t *testing.T) {
	f := NewFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// Finally runs its hook and then settles with the same outcome.
func TestFutureFinally(t *testing.T) {
	f := NewFuture()
	hookCalled := make(chan struct{})
	next := f.Finally(func() { close(hookCalled) })

	select {
	case <-next.Done():
		t.Fatal("next should not be settled yet")
	default:
	}

	wantErr := errors.New("boom")
	f.Settle(wantErr, "result")

	results, err := next.Wait(context.Background())
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, []any{"result"}, results)
	select {
	case <-hookCalled:
	default:
		t.Fatal("hook should have run before settlement")
	}
}
