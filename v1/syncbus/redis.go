package syncbus

import (
	"context"
	"sync"
	"sync/atomic"

	redis "github.com/redis/go-redis/v9"

	pderrors "github.com/mirkobrombin/go-padlock/v1/errors"
)

// RedisBus implements Bus using Redis pub/sub.
type RedisBus struct {
	client    *redis.Client
	mu        sync.Mutex
	hub       *hub
	subs      map[string]*redis.PubSub
	wg        sync.WaitGroup
	closed    bool
	published atomic.Uint64
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client: client,
		hub:    newHub(),
		subs:   make(map[string]*redis.PubSub),
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.client.Publish(ctx, key, data).Err(); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, pderrors.ErrBusClosed
	}
	ch, first := b.hub.add(key)
	if first {
		ps := b.client.Subscribe(context.Background(), key)
		// wait for the subscription confirmation so no publish is missed
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			b.hub.remove(key, ch)
			b.mu.Unlock()
			return nil, err
		}
		b.subs[key] = ps
		b.wg.Add(1)
		go b.dispatch(key, ps)
	}
	b.mu.Unlock()

	unsubscribeOnDone(ctx, b, key, ch)
	return ch, nil
}

func (b *RedisBus) dispatch(key string, ps *redis.PubSub) {
	defer b.wg.Done()
	for msg := range ps.Channel() {
		b.hub.deliver(key, []byte(msg.Payload))
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, key string, ch chan []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	found, last := b.hub.remove(key, ch)
	if !found || !last {
		return nil
	}
	ps := b.subs[key]
	delete(b.subs, key)
	if ps == nil {
		return nil
	}
	return ps.Close()
}

// Subscribers returns the number of local subscribers of key.
func (b *RedisBus) Subscribers(key string) int {
	return b.hub.count(key)
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.hub.delivered.Load(),
	}
}

// Close stops every subscription and waits for dispatchers to exit. The
// client stays open.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	var firstErr error
	for key, ps := range b.subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.subs, key)
	}
	b.mu.Unlock()
	b.wg.Wait()
	b.hub.closeAll()
	return firstErr
}
