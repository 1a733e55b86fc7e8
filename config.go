package xchan

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls engine-wide defaults. Zero values fall back to the
// documented defaults at Build time.
type Config struct {
	// MaxMessageSize is the per-message payload byte limit. Each slot's
	// payload buffer is sized to this value at channel creation, so it is
	// fixed for the channel's lifetime (default: 1024).
	MaxMessageSize int `env:"XCHAN_MAX_MESSAGE_SIZE"`

	// DefaultCapacity is the slot count used when CreateProducer is called
	// with a non-positive capacity (default: 1024).
	DefaultCapacity int `env:"XCHAN_DEFAULT_CAPACITY"`

	// ObserverWorkers is the number of async observer dispatch goroutines
	// (default: 4).
	ObserverWorkers int `env:"XCHAN_OBSERVER_WORKERS"`

	// ObserverBuffer is the observer event queue depth (default: 1024).
	ObserverBuffer int `env:"XCHAN_OBSERVER_BUFFER"`

	// ShutdownGrace bounds how long Close waits for the observer pool to
	// drain when the caller's context carries no deadline (default: 5s).
	ShutdownGrace time.Duration `env:"XCHAN_SHUTDOWN_GRACE"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:  1024,
		DefaultCapacity: 1024,
		ObserverWorkers: 4,
		ObserverBuffer:  1024,
		ShutdownGrace:   5 * time.Second,
	}
}

// ConfigFromEnv overlays XCHAN_* environment variables onto the defaults.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg.normalized(), nil
}

// normalized replaces non-positive fields with their defaults.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.DefaultCapacity <= 0 {
		c.DefaultCapacity = d.DefaultCapacity
	}
	if c.ObserverWorkers <= 0 {
		c.ObserverWorkers = d.ObserverWorkers
	}
	if c.ObserverBuffer <= 0 {
		c.ObserverBuffer = d.ObserverBuffer
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	return c
}
