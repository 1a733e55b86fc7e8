package xchan

import (
	"errors"
	"fmt"
)

var (
	// ErrFull indicates the channel has insufficient free capacity for the
	// whole batch. Nothing was written; the caller may retry or drop.
	ErrFull = errors.New("xchan: channel full")

	// ErrPayloadTooLarge indicates a payload exceeds the channel's configured
	// per-message maximum.
	ErrPayloadTooLarge = errors.New("xchan: payload exceeds max message size")

	// ErrBufferTooSmall indicates the receiver's buffer cannot hold the
	// dequeued message. The message is already consumed and cannot be put
	// back; it is lost.
	ErrBufferTooSmall = errors.New("xchan: receive buffer too small")

	// ErrChannelNotFound indicates a consumer referenced a channel no
	// producer has created yet.
	ErrChannelNotFound = errors.New("xchan: channel not found")

	// ErrCapacityMismatch indicates a creation request disagreed with the
	// capacity the channel was first created with.
	ErrCapacityMismatch = errors.New("xchan: channel capacity mismatch")

	// ErrTimeout indicates no message arrived within the receive bound.
	ErrTimeout = errors.New("xchan: receive timed out")

	// ErrClosed indicates the engine, channel, or handle was torn down while
	// an operation was pending.
	ErrClosed = errors.New("xchan: closed")

	// ErrInvalidCapacity indicates a non-positive channel capacity.
	ErrInvalidCapacity = errors.New("xchan: capacity must be positive")

	// ErrObserverPoolShutdownTimeout indicates the observer pool did not
	// drain within the shutdown grace period.
	ErrObserverPoolShutdownTimeout = errors.New("xchan: observer pool shutdown timeout")
)

// CapacityMismatchError reports the disagreeing capacities for a channel.
// It matches ErrCapacityMismatch under errors.Is.
type CapacityMismatchError struct {
	ChannelID uint32
	Existing  int
	Requested int
}

func (e CapacityMismatchError) Error() string {
	return fmt.Sprintf("xchan: channel %d already exists with capacity %d (requested %d)",
		e.ChannelID, e.Existing, e.Requested)
}

func (e CapacityMismatchError) Is(target error) bool { return target == ErrCapacityMismatch }
