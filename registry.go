package xchan

import (
	"sync"

	"github.com/trickstertwo/xclock"
)

// registry is the single source of truth mapping channel id to channel
// instance. It is owned by an Engine; there is no process-global channel
// state.
type registry struct {
	clock xclock.Clock

	mu       sync.RWMutex
	channels map[uint32]*channel
	closed   bool
}

func newRegistry(clk xclock.Clock) *registry {
	return &registry{
		clock:    clk,
		channels: make(map[uint32]*channel),
	}
}

// getOrCreate returns the channel for id, creating it with the given
// capacity on first reference. Creation is first-writer-wins under a race;
// losers observe the winner's instance. A later request that disagrees on
// capacity fails with CapacityMismatchError rather than silently ignoring
// the argument.
func (r *registry) getOrCreate(id uint32, capacity, maxPayload int) (*channel, bool, error) {
	if capacity <= 0 {
		return nil, false, ErrInvalidCapacity
	}

	r.mu.RLock()
	ch, ok := r.channels[id]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, false, ErrClosed
	}
	if ok {
		if ch.capacity != capacity {
			return nil, false, CapacityMismatchError{ChannelID: id, Existing: ch.capacity, Requested: capacity}
		}
		return ch, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	if ch, ok := r.channels[id]; ok {
		if ch.capacity != capacity {
			return nil, false, CapacityMismatchError{ChannelID: id, Existing: ch.capacity, Requested: capacity}
		}
		return ch, false, nil
	}
	ch = newChannel(id, capacity, maxPayload, r.clock)
	r.channels[id] = ch
	return ch, true, nil
}

// lookup returns the channel for id or ErrChannelNotFound. It never creates:
// a consumer must not reserve a channel with an arbitrary capacity before
// any producer has defined it.
func (r *registry) lookup(id uint32) (*channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	ch, ok := r.channels[id]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// size reports the number of registered channels.
func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// close shuts every channel down exactly once, releasing blocked readers.
func (r *registry) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	channels := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	for _, ch := range channels {
		ch.close()
	}
}
