package locker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeLocked       = "locked"
	outcomeReplayed     = "replayed"
	outcomeInsufficient = "insufficient"
	outcomePending      = "funds_pending"
	outcomeConflict     = "conflict"
	outcomeKeyConsumed  = "key_consumed"

	reasonReleased = "released"
	reasonExpired  = "expired"
)

type lockerMetrics struct {
	lockRequests    *prometheus.CounterVec
	releases        *prometheus.CounterVec
	lockedOutputs   prometheus.Counter
	fulfilled       prometheus.Counter
	sweepDuration   prometheus.Histogram
	expiredOutflows prometheus.Counter
}

func (m *lockerMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.lockRequests = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "watchwallet_lock_requests_total",
		Help: "lock requests by outcome",
	}, []string{"outcome"})
	m.releases = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "watchwallet_lock_releases_total",
		Help: "requests whose outputs were released, by reason",
	}, []string{"reason"})
	m.lockedOutputs = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "watchwallet_locked_outputs_total",
		Help: "outputs moved to locked",
	})
	m.fulfilled = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "watchwallet_requests_fulfilled_total",
		Help: "requests fulfilled through the api",
	})
	m.sweepDuration = promautoFactory.NewHistogram(prometheus.HistogramOpts{
		Name:    "watchwallet_unlocker_sweep_seconds",
		Help:    "duration of one expiry sweep",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	m.expiredOutflows = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "watchwallet_pending_inputs_expired_total",
		Help: "pending inputs that expired before being mined",
	})
}
