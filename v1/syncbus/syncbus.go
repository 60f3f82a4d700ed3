package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// subscriberBuffer is the channel capacity handed to each subscriber.
const subscriberBuffer = 64

// Bus provides a simple pub/sub mechanism used to propagate lock events
// across processes.
type Bus interface {
	// Publish sends data to every subscriber of key.
	Publish(ctx context.Context, key string, data []byte) error
	// Subscribe returns a channel receiving payloads published to key until
	// ctx ends or Unsubscribe is called. The channel is closed on removal.
	Subscribe(ctx context.Context, key string) (chan []byte, error)
	// Unsubscribe stops delivering messages for key to ch.
	Unsubscribe(ctx context.Context, key string, ch chan []byte) error
}

// Metrics reports bus activity counters.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// hub tracks local subscriber channels per key. Sends happen under the
// mutex so a channel is never written after Unsubscribe closed it.
type hub struct {
	mu        sync.Mutex
	subs      map[string][]chan []byte
	delivered atomic.Uint64
}

func newHub() *hub {
	return &hub{subs: make(map[string][]chan []byte)}
}

// add registers a new channel for key and reports whether it is the first.
func (h *hub) add(key string) (chan []byte, bool) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	first := len(h.subs[key]) == 0
	h.subs[key] = append(h.subs[key], ch)
	return ch, first
}

// remove closes ch and reports whether it was found and whether key has no
// subscribers left.
func (h *hub) remove(key string, ch chan []byte) (bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[key]
	found := false
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			close(c)
			found = true
			break
		}
	}
	if len(subs) == 0 {
		delete(h.subs, key)
		return found, true
	}
	h.subs[key] = subs
	return found, false
}

func (h *hub) deliver(key string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[key] {
		select {
		case ch <- data:
			h.delivered.Add(1)
		default:
		}
	}
}

func (h *hub) count(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, subs := range h.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subs, key)
	}
}

// unsubscribeOnDone removes ch from bus once ctx ends.
func unsubscribeOnDone(ctx context.Context, bus Bus, key string, ch chan []byte) {
	if ctx.Done() == nil {
		return
	}
	context.AfterFunc(ctx, func() {
		_ = bus.Unsubscribe(context.Background(), key, ch)
	})
}

// InMemoryBus is a local implementation of Bus mainly for testing and
// single-process deployments.
type InMemoryBus struct {
	hub       *hub
	published atomic.Uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{hub: newHub()}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.published.Add(1)
	b.hub.deliver(key, data)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, key string) (chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, _ := b.hub.add(key)
	unsubscribeOnDone(ctx, b, key, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, key string, ch chan []byte) error {
	b.hub.remove(key, ch)
	return nil
}

// Subscribers returns the number of local subscribers of key.
func (b *InMemoryBus) Subscribers(key string) int {
	return b.hub.count(key)
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.hub.delivered.Load(),
	}
}
