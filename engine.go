package xchan

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"go.uber.org/multierr"
)

var _ HealthChecker = (*Engine)(nil)

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// Metrics defines observable telemetry for the engine.
type Metrics struct {
	Sent            uint64
	Received        uint64
	FullRejections  uint64
	Timeouts        uint64
	Errors          uint64
	EventsDropped   uint64
	Channels        int
	AvgSendTimeMs   float64
	ActiveProducers int64
	ActiveConsumers int64
}

// HealthStatus indicates engine health for liveness/readiness probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

// Engine is the central Facade owning the channel registry and all shared
// state. Producer and Consumer handles are created from it and stay valid
// until released or the engine closes.
type Engine struct {
	id     string
	cfg    Config
	clock  xclock.Clock
	logger *xlog.Logger
	reg    *registry

	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer

	metrics   *engineMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

// engineMetrics uses lock-free atomics so handles never contend on telemetry.
type engineMetrics struct {
	sentCount     atomic.Uint64
	receivedCount atomic.Uint64
	fullCount     atomic.Uint64
	timeoutCount  atomic.Uint64
	errorCount    atomic.Uint64
	sendNs        atomic.Int64
	producers     atomic.Int64
	consumers     atomic.Int64
}

// ID returns the engine instance id carried in log fields.
func (e *Engine) ID() string { return e.id }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// CreateProducer binds a new producer handle to channelID, creating the
// channel with the given capacity on first reference. A non-positive
// capacity uses Config.DefaultCapacity. A capacity that disagrees with an
// existing channel fails with CapacityMismatchError.
func (e *Engine) CreateProducer(channelID uint32, capacity int, opts ...ProducerOption) (*Producer, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if capacity <= 0 {
		capacity = e.cfg.DefaultCapacity
	}

	ch, created, err := e.reg.getOrCreate(channelID, capacity, e.cfg.MaxMessageSize)
	if err != nil {
		e.metrics.errorCount.Add(1)
		e.notifyAsync(Event{Type: Error, ChannelID: channelID, Err: err})
		return nil, err
	}
	if created {
		e.logger.Debug().Msg("xchan: channel created")
		e.notifyAsync(Event{Type: ChannelCreated, ChannelID: channelID})
	}

	p := newProducer(e, ch, opts...)
	e.metrics.producers.Add(1)
	return p, nil
}

// CreateConsumer binds a new consumer handle to an existing channel. It
// never creates the channel: until a producer defines it, the result is
// ErrChannelNotFound.
func (e *Engine) CreateConsumer(channelID uint32) (*Consumer, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	ch, err := e.reg.lookup(channelID)
	if err != nil {
		return nil, err
	}

	c := &Consumer{engine: e, ch: ch}
	e.metrics.consumers.Add(1)
	return c, nil
}

// ChannelLength reports the number of in-flight messages on a channel.
func (e *Engine) ChannelLength(channelID uint32) (int, error) {
	ch, err := e.reg.lookup(channelID)
	if err != nil {
		return 0, err
	}
	return ch.length(), nil
}

// GetMetrics returns current engine metrics.
func (e *Engine) GetMetrics() Metrics {
	return Metrics{
		Sent:            e.metrics.sentCount.Load(),
		Received:        e.metrics.receivedCount.Load(),
		FullRejections:  e.metrics.fullCount.Load(),
		Timeouts:        e.metrics.timeoutCount.Load(),
		Errors:          e.metrics.errorCount.Load(),
		EventsDropped:   e.observerPool.Stats().Dropped,
		Channels:        e.reg.size(),
		AvgSendTimeMs:   float64(e.metrics.sendNs.Load()) / 1e6,
		ActiveProducers: e.metrics.producers.Load(),
		ActiveConsumers: e.metrics.consumers.Load(),
	}
}

// Health checks engine health for liveness/readiness probes.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: time.Now(),
			Message:   "engine is closed",
		}
	}

	metrics := e.GetMetrics()
	status := "healthy"

	// Degraded if error rate > 5%
	if metrics.Errors > 0 && metrics.Sent > 0 {
		errorRate := float64(metrics.Errors) / float64(metrics.Sent)
		if errorRate > 0.05 {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:    status,
		Metrics:   metrics,
		Timestamp: time.Now(),
	}
}

// Close tears the engine down: every channel is closed, blocked receivers
// return ErrClosed promptly, and the observer pool drains within the grace
// period (bounded by the context deadline when one is set). Idempotent.
func (e *Engine) Close(ctx context.Context) error {
	var closeErr error

	e.closeOnce.Do(func() {
		e.closed.Store(true)

		e.reg.close()
		e.notifyAsync(Event{Type: EngineClosed})

		grace := e.cfg.ShutdownGrace
		if remaining, ok := linger.FromContextDeadline(ctx); ok && remaining < grace {
			grace = remaining
		}
		if e.observerPool != nil {
			if err := e.observerPool.Close(grace); err != nil {
				e.logger.Warn().Err(err).Msg("xchan: observer pool shutdown timeout")
				closeErr = multierr.Append(closeErr, err)
			}
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (e *Engine) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	e.observersMu.Lock()
	e.observers = append(e.observers, obs)
	e.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (e *Engine) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	e.observersMu.Lock()
	defer e.observersMu.Unlock()

	for i, o := range e.observers {
		if o == obs {
			e.observers = append(e.observers[:i], e.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync dispatches events asynchronously (non-blocking).
func (e *Engine) notifyAsync(ev Event) {
	if e.observerPool == nil {
		return
	}

	e.observersMu.RLock()
	observerCount := len(e.observers)
	if observerCount == 0 {
		e.observersMu.RUnlock()
		return
	}

	if observerCount == 1 {
		obs := e.observers[0]
		e.observersMu.RUnlock()
		e.observerPool.Notify(ev, []Observer{obs})
		return
	}

	observers := make([]Observer, observerCount)
	copy(observers, e.observers)
	e.observersMu.RUnlock()

	e.observerPool.Notify(ev, observers)
}

// recordSendTime tracks an exponential moving average of batch send time.
func (e *Engine) recordSendTime(ns int64) {
	const alpha = 0.2
	current := e.metrics.sendNs.Load()
	if current == 0 {
		e.metrics.sendNs.Store(ns)
		return
	}
	newAvg := int64(float64(ns)*alpha + float64(current)*(1-alpha))
	e.metrics.sendNs.Store(newAvg)
}
