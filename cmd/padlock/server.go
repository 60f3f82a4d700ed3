package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mirkobrombin/go-padlock/v1/syncbus"
)

// newServer exposes lock metrics and streams mirrored events from bus.
// Stream clients select a lock with ?key=padlock:<name>.
func newServer(ctx context.Context, addr string, reg *prometheus.Registry, bus syncbus.Bus) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/events", syncbus.SSEHandler(bus))
	mux.Handle("/ws", syncbus.WebSocketHandler(bus))

	return &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
