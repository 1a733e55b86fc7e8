package xchan

import (
	"encoding/binary"
)

// EnvelopeSize is the fixed byte length of an encoded envelope. Every slot
// frame starts with an encoded envelope followed by PayloadLen payload bytes.
const EnvelopeSize = 36

// Field offsets within an encoded envelope. All fields are little-endian.
const (
	offMessageID     = 0
	offTimestampNS   = 8
	offChannelID     = 16
	offMessageType   = 20
	offSenderPID     = 24
	offSenderRuntime = 28
	offFlags         = 30
	offPayloadLen    = 32
)

// putEnvelope encodes e into the first EnvelopeSize bytes of b.
func putEnvelope(b []byte, e Envelope) {
	_ = b[EnvelopeSize-1]
	binary.LittleEndian.PutUint64(b[offMessageID:], e.MessageID)
	binary.LittleEndian.PutUint64(b[offTimestampNS:], e.TimestampNS)
	binary.LittleEndian.PutUint32(b[offChannelID:], e.ChannelID)
	binary.LittleEndian.PutUint32(b[offMessageType:], e.MessageType)
	binary.LittleEndian.PutUint32(b[offSenderPID:], e.SenderPID)
	binary.LittleEndian.PutUint16(b[offSenderRuntime:], e.SenderRuntime)
	binary.LittleEndian.PutUint16(b[offFlags:], e.Flags)
	binary.LittleEndian.PutUint32(b[offPayloadLen:], e.PayloadLen)
}

// readEnvelope decodes an envelope from the first EnvelopeSize bytes of b.
func readEnvelope(b []byte) Envelope {
	_ = b[EnvelopeSize-1]
	return Envelope{
		MessageID:     binary.LittleEndian.Uint64(b[offMessageID:]),
		TimestampNS:   binary.LittleEndian.Uint64(b[offTimestampNS:]),
		ChannelID:     binary.LittleEndian.Uint32(b[offChannelID:]),
		MessageType:   binary.LittleEndian.Uint32(b[offMessageType:]),
		SenderPID:     binary.LittleEndian.Uint32(b[offSenderPID:]),
		SenderRuntime: binary.LittleEndian.Uint16(b[offSenderRuntime:]),
		Flags:         binary.LittleEndian.Uint16(b[offFlags:]),
		PayloadLen:    binary.LittleEndian.Uint32(b[offPayloadLen:]),
	}
}
