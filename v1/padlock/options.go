package padlock

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Lock.
type Option func(*Lock)

// WithName sets the name reported in events, logs and metric labels.
func WithName(name string) Option {
	return func(l *Lock) {
		if name != "" {
			l.name = name
		}
	}
}

// WithLogger sets the logger used for lock diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Lock) {
		l.logger = logger
	}
}

// WithTracerProvider sets the provider used to trace hold spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Lock) {
		l.tracer = tp.Tracer(tracerName)
	}
}

// WithDefaultTimeout applies d to every request that does not set its own
// timeout. Zero disables the default.
func WithDefaultTimeout(d time.Duration) Option {
	return func(l *Lock) {
		l.defaultTimeout = d
	}
}

// CallOption configures a single acquisition request.
type CallOption func(*pending)

// WithReceiver sets the value passed as recv to the callback. When unset
// the Lock itself is passed.
func WithReceiver(recv any) CallOption {
	return func(p *pending) {
		p.receiver = recv
	}
}

// WithTimeout releases the grant automatically if it is still held after d.
func WithTimeout(d time.Duration) CallOption {
	return func(p *pending) {
		p.timeout = d
	}
}
