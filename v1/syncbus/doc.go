// Package syncbus carries opaque payloads between processes. Publishers send
// bytes to a key and every subscriber of that key receives them on a buffered
// channel. In-memory, Redis, NATS and Kafka backends share the same Bus
// interface, and handlers are provided to stream a key over SSE or WebSocket.
//
// Delivery never blocks publishers: a subscriber whose buffer is full misses
// the message.
package syncbus
