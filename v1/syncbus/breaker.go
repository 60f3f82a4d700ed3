package syncbus

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	pderrors "github.com/mirkobrombin/go-padlock/v1/errors"
)

// ErrCircuitOpen is returned by BreakerBus while publishes are rejected.
var ErrCircuitOpen = pderrors.ErrCircuitOpen

// BreakerBus decorates a Bus with circuit breaker logic on Publish.
type BreakerBus struct {
	bus Bus
	cb  *gobreaker.CircuitBreaker[struct{}]
}

// NewCircuitBreaker returns a BreakerBus that opens after threshold
// consecutive publish failures and probes again once timeout has elapsed.
func NewCircuitBreaker(bus Bus, threshold uint32, timeout time.Duration) *BreakerBus {
	if threshold == 0 {
		threshold = 1
	}
	st := gobreaker.Settings{
		Name:    "syncbus",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up is not a backend failure
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &BreakerBus{bus: bus, cb: gobreaker.NewCircuitBreaker[struct{}](st)}
}

// IsHealthy reports whether publishes are currently let through.
func (b *BreakerBus) IsHealthy() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// Publish implements Bus.Publish with circuit breaker logic.
func (b *BreakerBus) Publish(ctx context.Context, key string, data []byte) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.bus.Publish(ctx, key, data)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// Subscribe implements Bus.Subscribe.
func (b *BreakerBus) Subscribe(ctx context.Context, key string) (chan []byte, error) {
	return b.bus.Subscribe(ctx, key)
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *BreakerBus) Unsubscribe(ctx context.Context, key string, ch chan []byte) error {
	return b.bus.Unsubscribe(ctx, key, ch)
}
