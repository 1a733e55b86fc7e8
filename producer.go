package xchan

import (
	"os"
	"sync/atomic"
)

// Producer is a lightweight handle bound to one channel. It holds no message
// state; its only local state is the cached sender identity stamped onto
// every envelope. Many producers may share a channel concurrently without
// external locking.
type Producer struct {
	engine   *Engine
	ch       *channel
	identity identity
	released atomic.Bool
}

// ProducerOption customizes the identity a producer stamps onto envelopes.
type ProducerOption func(*Producer)

// WithMessageType sets the caller-defined message type tag.
func WithMessageType(t uint32) ProducerOption {
	return func(p *Producer) { p.identity.messageType = t }
}

// WithFlags sets the caller-defined envelope flags.
func WithFlags(f uint16) ProducerOption {
	return func(p *Producer) { p.identity.flags = f }
}

// WithSenderPID overrides the sender process id (defaults to os.Getpid).
func WithSenderPID(pid uint32) ProducerOption {
	return func(p *Producer) { p.identity.senderPID = pid }
}

// WithSenderRuntime overrides the sender runtime tag (defaults to RuntimeGo).
func WithSenderRuntime(rt uint16) ProducerOption {
	return func(p *Producer) { p.identity.senderRuntime = rt }
}

func newProducer(e *Engine, ch *channel, opts ...ProducerOption) *Producer {
	p := &Producer{
		engine: e,
		ch:     ch,
		identity: identity{
			senderPID:     uint32(os.Getpid()),
			senderRuntime: RuntimeGo,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ChannelID returns the channel this producer is bound to.
func (p *Producer) ChannelID() uint32 { return p.ch.id }

// MaxMessageSize returns the per-message payload limit for the channel.
func (p *Producer) MaxMessageSize() int { return p.ch.maxPayload }

// Send enqueues a single payload. Equivalent to SendBatch with one item.
func (p *Producer) Send(payload []byte) error {
	return p.SendBatch(payload)
}

// SendBatch enqueues all payloads as a single atomic unit, stamping an
// envelope per payload. Either the whole batch is accepted or none of it:
// insufficient capacity yields ErrFull with the queue unchanged and no
// message ids consumed. SendBatch never blocks.
func (p *Producer) SendBatch(payloads ...[]byte) error {
	if p.released.Load() || p.engine.closed.Load() {
		return ErrClosed
	}
	if len(payloads) == 0 {
		return nil
	}

	start := p.engine.clock.Now()
	first, err := p.ch.enqueueBatch(p.identity, payloads)
	duration := p.engine.clock.Since(start)
	p.engine.recordSendTime(duration.Nanoseconds())

	if err != nil {
		switch err {
		case ErrFull:
			p.engine.metrics.fullCount.Add(1)
		default:
			p.engine.metrics.errorCount.Add(1)
		}
		p.engine.notifyAsync(Event{
			Type:      SendRejected,
			ChannelID: p.ch.id,
			Messages:  len(payloads),
			Duration:  duration,
			Err:       err,
		})
		return err
	}

	p.engine.metrics.sentCount.Add(uint64(len(payloads)))
	p.engine.notifyAsync(Event{
		Type:      SendDone,
		ChannelID: p.ch.id,
		MessageID: first.MessageID,
		Messages:  len(payloads),
		Duration:  duration,
	})
	return nil
}

// Release invalidates the handle. The underlying channel and any in-flight
// messages are untouched. Idempotent; operations after Release return
// ErrClosed.
func (p *Producer) Release() {
	if p.released.Swap(true) {
		return
	}
	p.engine.metrics.producers.Add(-1)
}
