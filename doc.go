// Package xchan is an in-process, bounded-capacity, multi-producer
// multi-consumer message channel engine.
//
// Channels are identified by a 32-bit id and created with a fixed slot
// capacity on first producer reference. Producers batch variably-sized
// payloads into a channel atomically (all-or-nothing, never blocking);
// consumers dequeue one message at a time with poll, bounded-wait, or
// wait-forever semantics. Every message carries a fixed 36-byte envelope
// (id, timestamp, origin, flags, length) stamped at enqueue time, with ids
// strictly increasing per channel and FIFO delivery across all producers.
//
// The Engine owns all shared state; Producer and Consumer handles are cheap,
// concurrency-safe references that can be released independently without
// disturbing the channel or its in-flight messages.
package xchan
