package syncbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockBus struct {
	publishFunc func(ctx context.Context, key string, data []byte) error
	*InMemoryBus
}

func (m *mockBus) Publish(ctx context.Context, key string, data []byte) error {
	if m.publishFunc != nil {
		return m.publishFunc(ctx, key, data)
	}
	return m.InMemoryBus.Publish(ctx, key, data)
}

func TestCircuitBreakerStateTransitions(t *testing.T) {
	mb := &mockBus{InMemoryBus: NewInMemoryBus()}
	timeout := 50 * time.Millisecond
	cb := NewCircuitBreaker(mb, 2, timeout)

	ctx := context.Background()
	failErr := errors.New("fail")

	if !cb.IsHealthy() {
		t.Fatal("expected healthy initially")
	}

	mb.publishFunc = func(context.Context, string, []byte) error { return failErr }
	if err := cb.Publish(ctx, "key", nil); !errors.Is(err, failErr) {
		t.Fatalf("expected failErr, got %v", err)
	}
	if !cb.IsHealthy() {
		t.Fatal("expected healthy after 1 failure (threshold 2)")
	}
	if err := cb.Publish(ctx, "key", nil); !errors.Is(err, failErr) {
		t.Fatalf("expected failErr, got %v", err)
	}
	if cb.IsHealthy() {
		t.Fatal("expected open after threshold reached")
	}

	calls := 0
	mb.publishFunc = func(context.Context, string, []byte) error { calls++; return nil }
	if err := cb.Publish(ctx, "key", nil); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Fatal("open breaker reached the backend")
	}

	time.Sleep(timeout + 20*time.Millisecond)

	if err := cb.Publish(ctx, "key", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cb.IsHealthy() {
		t.Fatal("expected healthy after successful probe")
	}
}

func TestCircuitBreakerIgnoresCanceledPublishes(t *testing.T) {
	mb := &mockBus{InMemoryBus: NewInMemoryBus()}
	cb := NewCircuitBreaker(mb, 1, time.Minute)
	mb.publishFunc = func(context.Context, string, []byte) error { return context.Canceled }

	for i := 0; i < 3; i++ {
		_ = cb.Publish(context.Background(), "key", nil)
	}
	if !cb.IsHealthy() {
		t.Fatal("canceled publishes tripped the breaker")
	}
}

func TestCircuitBreakerPassesSubscriptions(t *testing.T) {
	inner := NewInMemoryBus()
	cb := NewCircuitBreaker(inner, 1, time.Minute)
	ch, err := cb.Subscribe(context.Background(), "key")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := cb.Publish(context.Background(), "key", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := string(<-ch); got != "x" {
		t.Fatalf("unexpected payload %q", got)
	}
	if err := cb.Unsubscribe(context.Background(), "key", ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if inner.Subscribers("key") != 0 {
		t.Fatal("unsubscribe not forwarded")
	}
}
