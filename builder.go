package xchan

import (
	"context"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// EngineBuilder constructs Engine instances (Builder pattern).
type EngineBuilder struct {
	cfg       *Config
	logger    *xlog.Logger
	clock     xclock.Clock
	observers []Observer
}

// NewEngineBuilder returns a new builder with sensible defaults.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{}
}

// WithConfig sets the engine configuration. Non-positive fields fall back
// to their defaults.
func (eb *EngineBuilder) WithConfig(cfg Config) *EngineBuilder {
	c := cfg.normalized()
	eb.cfg = &c
	return eb
}

func (eb *EngineBuilder) WithLogger(l *xlog.Logger) *EngineBuilder {
	eb.logger = l
	return eb
}

func (eb *EngineBuilder) WithClock(c xclock.Clock) *EngineBuilder {
	eb.clock = c
	return eb
}

func (eb *EngineBuilder) WithObserver(obs ...Observer) *EngineBuilder {
	for _, o := range obs {
		if o != nil {
			eb.observers = append(eb.observers, o)
		}
	}
	return eb
}

func (eb *EngineBuilder) Build() (*Engine, error) {
	var cfg Config
	if eb.cfg != nil {
		cfg = *eb.cfg
	} else {
		var err error
		cfg, err = ConfigFromEnv()
		if err != nil {
			return nil, err
		}
	}

	var clk xclock.Clock
	if eb.clock != nil {
		clk = eb.clock
	} else {
		clk = xclock.Default()
	}

	var lg *xlog.Logger
	if eb.logger != nil {
		lg = eb.logger
	} else {
		lg = xlog.Default()
	}

	id := uuid.NewString()
	lg = lg.With(xlog.Str("engine_id", id))

	e := &Engine{
		id:           id,
		cfg:          cfg,
		clock:        clk,
		logger:       lg,
		reg:          newRegistry(clk),
		observerPool: NewObserverPool(context.Background(), cfg.ObserverWorkers, cfg.ObserverBuffer),
		metrics:      &engineMetrics{},
	}

	// Attach logging observer first for dependable telemetry unless already
	// supplied externally.
	hasLoggingObserver := false
	for _, o := range eb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver && lg != nil {
		e.AddObserver(LoggingObserver{Logger: lg})
	}

	for _, o := range eb.observers {
		e.AddObserver(o)
	}

	return e, nil
}

// New constructs an Engine via Builder and returns a close func for
// convenience.
func New(init func(eb *EngineBuilder)) (*Engine, func() error, error) {
	eb := NewEngineBuilder()
	if init != nil {
		init(eb)
	}
	engine, err := eb.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return engine.Close(context.Background()) }
	return engine, closeFn, nil
}
