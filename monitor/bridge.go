package monitor

import (
	"context"
	"errors"
	"time"
)

// DefaultBridgeTimeout bounds how long the hardware side waits for a
// decision before giving up on feedback for that tap.
const DefaultBridgeTimeout = 5 * time.Second

// ErrBridgeTimeout is returned by Deliver when the consumer did not answer
// in time. The consumer may still finish its work later; the tap simply
// gets no hardware feedback.
var ErrBridgeTimeout = errors.New("monitor: decision timed out")

type request struct {
	tap   Tap
	reply chan Result
}

// Bridge is the single hand-off point between the watcher goroutine and the
// consumer goroutine. The watcher blocks in Deliver; the consumer loops in
// Serve. Each request carries its own one-shot reply channel, so taps from
// different readers never cross wires.
type Bridge struct {
	reqs    chan request
	timeout time.Duration
}

// NewBridge creates a bridge. A zero timeout means DefaultBridgeTimeout.
func NewBridge(timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = DefaultBridgeTimeout
	}
	return &Bridge{
		reqs:    make(chan request, 8),
		timeout: timeout,
	}
}

// Deliver hands a tap to the consumer and blocks for its decision, at most
// the bridge timeout. Timeout or context cancellation count as failure for
// feedback purposes.
func (b *Bridge) Deliver(ctx context.Context, tap Tap) (Result, error) {
	req := request{tap: tap, reply: make(chan Result, 1)}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case b.reqs <- req:
	case <-timer.C:
		return Result{}, ErrBridgeTimeout
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res, nil
	case <-timer.C:
		return Result{}, ErrBridgeTimeout
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Serve runs the consumer loop until the context is cancelled. fn executes
// on this goroutine only, so it is the one place allowed to touch shared
// application state.
func (b *Bridge) Serve(ctx context.Context, fn func(context.Context, Tap) Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-b.reqs:
			req.reply <- fn(ctx, req.tap)
		}
	}
}
