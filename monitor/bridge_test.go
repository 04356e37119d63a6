package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeRoundtrip(t *testing.T) {
	b := NewBridge(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go b.Serve(ctx, func(_ context.Context, tap Tap) Result {
		assert.Equal(t, "2022KUCP1033", tap.Identity)
		return Result{Decision: Allowed, Session: "LUNCH", Message: "Enjoy your LUNCH!"}
	})

	res, err := b.Deliver(ctx, Tap{Identity: "2022KUCP1033", UID: "04 A1"})
	require.NoError(t, err)
	assert.Equal(t, Allowed, res.Decision)
	assert.True(t, res.Success())
	assert.Equal(t, "LUNCH", res.Session)
}

func TestBridgeOrdering(t *testing.T) {
	b := NewBridge(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go b.Serve(ctx, func(_ context.Context, tap Tap) Result {
		return Result{Decision: Denied, Message: tap.Identity}
	})

	// Each tap gets its own answer back, in order.
	for _, id := range []string{"A", "B", "C"} {
		res, err := b.Deliver(ctx, Tap{Identity: id})
		require.NoError(t, err)
		assert.Equal(t, id, res.Message)
	}
}

func TestBridgeTimeout(t *testing.T) {
	b := NewBridge(20 * time.Millisecond)

	// No consumer; first Deliver parks in the buffered queue and then
	// times out waiting for an answer.
	_, err := b.Deliver(context.Background(), Tap{Identity: "X"})
	assert.ErrorIs(t, err, ErrBridgeTimeout)
}

func TestBridgeContextCancelled(t *testing.T) {
	b := NewBridge(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Deliver(ctx, Tap{Identity: "X"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResultSuccess(t *testing.T) {
	assert.True(t, Result{Decision: Allowed}.Success())
	assert.False(t, Result{Decision: Denied}.Success())
	assert.False(t, Result{Decision: NoSession}.Success())
	assert.False(t, Result{Decision: Failed}.Success())
}
