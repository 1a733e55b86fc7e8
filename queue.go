package xchan

import (
	"context"
	"sync"

	"github.com/trickstertwo/xclock"
)

// channel is one bounded FIFO message path: a fixed ring of slots plus the
// stamper that allocates envelope metadata for it. All cross-handle shared
// state lives here; handles never touch slot storage directly.
type channel struct {
	id         uint32
	capacity   int
	maxPayload int

	mu    sync.Mutex
	st    stamper
	slots [][]byte // each EnvelopeSize+maxPayload bytes
	head  int
	tail  int
	count int

	// wake is closed and replaced on every successful enqueue to release
	// blocked readers; done is closed exactly once on shutdown.
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newChannel(id uint32, capacity, maxPayload int, clk xclock.Clock) *channel {
	slots := make([][]byte, capacity)
	for i := range slots {
		slots[i] = make([]byte, EnvelopeSize+maxPayload)
	}
	return &channel{
		id:         id,
		capacity:   capacity,
		maxPayload: maxPayload,
		st:         stamper{channelID: id, clock: clk},
		slots:      slots,
		wake:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// enqueueBatch writes all payloads as a single unit, stamping an envelope
// per payload once the whole batch is known to fit. All-or-nothing: on
// ErrFull no slot is touched and no message id is consumed. Never blocks.
func (ch *channel) enqueueBatch(id identity, payloads [][]byte) (first Envelope, err error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return Envelope{}, ErrClosed
	}
	for _, p := range payloads {
		if len(p) > ch.maxPayload {
			return Envelope{}, ErrPayloadTooLarge
		}
	}
	if ch.capacity-ch.count < len(payloads) {
		return Envelope{}, ErrFull
	}

	for i, p := range payloads {
		env := ch.st.stamp(id, len(p))
		if i == 0 {
			first = env
		}
		frame := ch.slots[ch.tail]
		putEnvelope(frame, env)
		copy(frame[EnvelopeSize:], p)
		ch.tail = (ch.tail + 1) % ch.capacity
		ch.count++
	}

	// Release every blocked reader; each re-checks under the lock.
	close(ch.wake)
	ch.wake = make(chan struct{})
	return first, nil
}

// dequeue removes the oldest message and copies its payload into buf. The
// copy completes before the slot becomes reusable, so a producer can never
// observe a slot that is still draining.
//
// With block=false an empty channel yields ErrTimeout immediately. With
// block=true the caller suspends until a message arrives, the channel shuts
// down (ErrClosed), or ctx expires (ctx.Err(), mapped by the consumer).
func (ch *channel) dequeue(ctx context.Context, block bool, buf []byte) (Envelope, int, error) {
	for {
		ch.mu.Lock()
		if ch.closed {
			ch.mu.Unlock()
			return Envelope{}, 0, ErrClosed
		}
		if ch.count > 0 {
			frame := ch.slots[ch.head]
			env := readEnvelope(frame)
			n := int(env.PayloadLen)

			// The slot is freed either way: a too-small buffer still
			// consumes the message, it cannot be put back.
			ch.head = (ch.head + 1) % ch.capacity
			ch.count--

			if n > len(buf) {
				ch.mu.Unlock()
				return env, 0, ErrBufferTooSmall
			}
			copy(buf[:n], frame[EnvelopeSize:EnvelopeSize+n])
			ch.mu.Unlock()
			return env, n, nil
		}
		wake := ch.wake
		ch.mu.Unlock()

		if !block {
			return Envelope{}, 0, ErrTimeout
		}
		select {
		case <-wake:
		case <-ch.done:
			return Envelope{}, 0, ErrClosed
		case <-ctx.Done():
			return Envelope{}, 0, ctx.Err()
		}
	}
}

// length reports the number of in-flight messages.
func (ch *channel) length() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.count
}

// close tears the channel down and releases blocked readers. Idempotent.
func (ch *channel) close() {
	ch.mu.Lock()
	if !ch.closed {
		ch.closed = true
		close(ch.done)
	}
	ch.mu.Unlock()
}
