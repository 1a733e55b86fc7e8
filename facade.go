package xchan

import (
	"fmt"
	"sync"
)

var (
	defaultEngine   *Engine
	defaultEngineMu sync.Mutex
)

// Default returns the process-wide singleton Engine.
func Default() *Engine {
	defaultEngineMu.Lock()
	defer defaultEngineMu.Unlock()

	if defaultEngine != nil {
		return defaultEngine
	}

	engine, err := NewEngineBuilder().Build()
	if err != nil {
		panic(fmt.Sprintf("xchan: failed to initialize default engine: %v", err))
	}
	defaultEngine = engine
	return defaultEngine
}

// SetDefault replaces the process-wide default Engine.
func SetDefault(e *Engine) {
	if e == nil {
		panic("xchan: SetDefault called with nil Engine")
	}
	defaultEngineMu.Lock()
	defaultEngine = e
	defaultEngineMu.Unlock()
}

// CreateProducer is the Facade using the default engine.
func CreateProducer(channelID uint32, capacity int, opts ...ProducerOption) (*Producer, error) {
	return Default().CreateProducer(channelID, capacity, opts...)
}

// CreateConsumer is the Facade using the default engine.
func CreateConsumer(channelID uint32) (*Consumer, error) {
	return Default().CreateConsumer(channelID)
}
