package xchan

import (
	"github.com/trickstertwo/xclock"
)

// Envelope is the fixed-size metadata stamped onto every message at enqueue
// time. Its binary layout is stable (see wire.go) so payloads can cross
// process boundaries unchanged.
type Envelope struct {
	// MessageID is unique and strictly increasing within a channel across
	// its lifetime. Ids are never reused, even after consumption.
	MessageID uint64
	// TimestampNS is the clock reading at enqueue, in nanoseconds. Set
	// exactly once.
	TimestampNS uint64
	// ChannelID is the owning channel. Immutable.
	ChannelID uint32
	// MessageType is a caller-defined tag, opaque to the engine.
	MessageType uint32
	// SenderPID is the producer's process identity, opaque to the engine.
	SenderPID uint32
	// SenderRuntime tags the producer's runtime/language, opaque to the
	// engine.
	SenderRuntime uint16
	// Flags are caller-defined bit flags, opaque to the engine.
	Flags uint16
	// PayloadLen is the byte length of the payload that follows the
	// envelope. Always equals the actual payload size.
	PayloadLen uint32
}

// Runtime tags carried in Envelope.SenderRuntime.
const (
	RuntimeUnknown uint16 = 0
	RuntimeRust    uint16 = 1
	RuntimePython  uint16 = 2
	RuntimeC       uint16 = 3
	RuntimeGo      uint16 = 4
)

// stamper allocates envelopes for one channel. The id counter is only
// mutated with the channel's queue lock held, which keeps MessageID
// strictly increasing in FIFO order even with many concurrent producers.
type stamper struct {
	channelID uint32
	clock     xclock.Clock
	nextID    uint64
}

// identity is the producer-local half of an envelope: fields fixed at
// handle creation and copied onto every stamp.
type identity struct {
	messageType   uint32
	senderPID     uint32
	senderRuntime uint16
	flags         uint16
}

// stamp allocates a fresh message id and timestamp for one payload.
// Caller must hold the owning queue's lock.
func (s *stamper) stamp(id identity, payloadLen int) Envelope {
	e := Envelope{
		MessageID:     s.nextID,
		TimestampNS:   uint64(s.clock.Now().UnixNano()),
		ChannelID:     s.channelID,
		MessageType:   id.messageType,
		SenderPID:     id.senderPID,
		SenderRuntime: id.senderRuntime,
		Flags:         id.flags,
		PayloadLen:    uint32(payloadLen),
	}
	s.nextID++
	return e
}
