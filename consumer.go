package xchan

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dogmatiq/linger"
)

// Forever makes Receive wait indefinitely for a message. Any negative
// timeout behaves the same way.
const Forever = time.Duration(-1)

// Consumer is a lightweight handle bound to one channel. Many consumers may
// share a channel concurrently; each message is delivered to exactly one of
// them.
type Consumer struct {
	engine   *Engine
	ch       *channel
	released atomic.Bool
}

// ChannelID returns the channel this consumer is bound to.
func (c *Consumer) ChannelID() uint32 { return c.ch.id }

// Receive dequeues the oldest message and copies its payload into buf,
// returning the number of bytes copied and the message's envelope. The
// envelope is always returned by value; callers that don't care simply
// ignore it.
//
// A timeout of zero polls without waiting; Forever (or any negative value)
// waits indefinitely. Otherwise the call suspends until a message arrives
// (nil), the bound elapses (ErrTimeout), the channel shuts down (ErrClosed),
// or ctx is cancelled (ctx.Err()).
//
// If the message is larger than buf, Receive returns ErrBufferTooSmall and
// the message is lost: it was already removed from the queue and cannot be
// put back. The returned envelope still describes the dropped message.
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration, buf []byte) (int, Envelope, error) {
	if c.released.Load() || c.engine.closed.Load() {
		return 0, Envelope{}, ErrClosed
	}

	wctx := ctx
	cancel := func() {}
	if timeout > 0 {
		wctx, cancel = linger.ContextWithTimeout(ctx, timeout)
	}
	defer cancel()

	start := c.engine.clock.Now()
	env, n, err := c.ch.dequeue(wctx, timeout != 0, buf)
	duration := c.engine.clock.Since(start)

	if err != nil {
		// A deadline we imposed ourselves is a receive timeout; the
		// caller's own cancellation propagates as-is.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = ErrTimeout
		}
		switch {
		case err == ErrTimeout:
			c.engine.metrics.timeoutCount.Add(1)
			c.engine.notifyAsync(Event{
				Type:      ReceiveTimeout,
				ChannelID: c.ch.id,
				Duration:  duration,
			})
		case err == ErrClosed:
			// Shutdown is an expected release path, not an error stat.
		default:
			c.engine.metrics.errorCount.Add(1)
			c.engine.notifyAsync(Event{
				Type:      Error,
				ChannelID: c.ch.id,
				MessageID: env.MessageID,
				Duration:  duration,
				Err:       err,
			})
		}
		return 0, env, err
	}

	c.engine.metrics.receivedCount.Add(1)
	c.engine.notifyAsync(Event{
		Type:      ReceiveDone,
		ChannelID: c.ch.id,
		MessageID: env.MessageID,
		Messages:  1,
		Duration:  duration,
	})
	return n, env, nil
}

// Poll is shorthand for Receive with a zero timeout.
func (c *Consumer) Poll(ctx context.Context, buf []byte) (int, Envelope, error) {
	return c.Receive(ctx, 0, buf)
}

// Release invalidates the handle. The underlying channel and any in-flight
// messages are untouched. Idempotent; operations after Release return
// ErrClosed.
func (c *Consumer) Release() {
	if c.released.Swap(true) {
		return
	}
	c.engine.metrics.consumers.Add(-1)
}
