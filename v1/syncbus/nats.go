package syncbus

import (
	"context"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

// NATSBus implements Bus using a NATS backend.
type NATSBus struct {
	conn      *nats.Conn
	mu        sync.Mutex
	hub       *hub
	subs      map[string]*nats.Subscription
	published atomic.Uint64
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		conn: conn,
		hub:  newHub(),
		subs: make(map[string]*nats.Subscription),
	}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.conn.Publish(key, data); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, key string) (chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	ch, first := b.hub.add(key)
	if first {
		ns, err := b.conn.Subscribe(key, func(msg *nats.Msg) {
			b.hub.deliver(key, msg.Data)
		})
		if err != nil {
			b.hub.remove(key, ch)
			b.mu.Unlock()
			return nil, err
		}
		// make sure the server registered interest before returning
		if err := b.conn.Flush(); err != nil {
			_ = ns.Unsubscribe()
			b.hub.remove(key, ch)
			b.mu.Unlock()
			return nil, err
		}
		b.subs[key] = ns
	}
	b.mu.Unlock()

	unsubscribeOnDone(ctx, b, key, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, key string, ch chan []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	found, last := b.hub.remove(key, ch)
	if !found || !last {
		return nil
	}
	ns := b.subs[key]
	delete(b.subs, key)
	if ns == nil {
		return nil
	}
	return ns.Unsubscribe()
}

// Subscribers returns the number of local subscribers of key.
func (b *NATSBus) Subscribers(key string) int {
	return b.hub.count(key)
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.hub.delivered.Load(),
	}
}

// Close drops every subscription. The connection stays open.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for key, ns := range b.subs {
		if err := ns.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.subs, key)
	}
	b.hub.closeAll()
	return firstErr
}
