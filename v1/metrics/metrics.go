package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquireCounter tracks acquisition requests by outcome ("granted" or "queued").
	AcquireCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "padlock_acquire_total",
		Help: "Total number of lock acquisition requests",
	}, []string{"lock", "outcome"})
	// ReleaseCounter tracks release calls by outcome ("released" or "rejected").
	ReleaseCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "padlock_release_total",
		Help: "Total number of lock release calls",
	}, []string{"lock", "outcome"})
	// TimeoutCounter tracks holders forcibly released after their timeout.
	TimeoutCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "padlock_timeouts_total",
		Help: "Total number of lock holders that timed out",
	}, []string{"lock"})
	// QueueGauge reports the number of waiters queued behind the holder.
	QueueGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "padlock_queue_depth",
		Help: "Current number of queued lock waiters",
	}, []string{"lock"})
	// HoldHistogram observes how long each holder kept the lock.
	HoldHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "padlock_hold_seconds",
		Help:    "Time a holder kept the lock",
		Buckets: prometheus.DefBuckets,
	}, []string{"lock"})
	// MirrorDropped counts lock events a mirror could not buffer for publishing.
	MirrorDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "padlock_mirror_dropped_total",
		Help: "Total number of lock events dropped by a mirror",
	}, []string{"lock"})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics registers padlock metrics on the provided registry.
func RegisterLockMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireCounter, ReleaseCounter, TimeoutCounter, QueueGauge, HoldHistogram, MirrorDropped)
}
