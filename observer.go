package xchan

import (
	"strconv"
	"time"

	"github.com/trickstertwo/xlog"
)

// EventType enumerates engine lifecycle events for the Observer pattern.
type EventType string

const (
	ChannelCreated EventType = "channel_created"
	SendDone       EventType = "send_done"
	SendRejected   EventType = "send_rejected"
	ReceiveDone    EventType = "receive_done"
	ReceiveTimeout EventType = "receive_timeout"
	EngineClosed   EventType = "engine_closed"
	Error          EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	ChannelID uint32
	MessageID uint64
	Messages  int
	Duration  time.Duration
	Err       error

	// Internal: attached for async dispatch
	observers []Observer
}

// Observer receives engine lifecycle events. Implementations should be
// non-blocking; slow observers only cost dropped events, never send/receive
// latency.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits engine events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("channel_id", strconv.FormatUint(uint64(e.ChannelID), 10)),
		xlog.Str("messages", strconv.Itoa(e.Messages)),
	)
	switch e.Type {
	case SendRejected, Error:
		ev.Warn().Err(e.Err).Msg("xchan event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xchan event")
	}
}
