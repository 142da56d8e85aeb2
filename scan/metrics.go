package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type scanMetrics struct {
	blocksApplied  prometheus.Counter
	batches        prometheus.Counter
	fetchRetries   *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	globalHeight   prometheus.Gauge
	activeAccounts prometheus.Gauge
	sessionsOpened prometheus.Counter

	requestTransitions *prometheus.CounterVec
}

func (m *scanMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.blocksApplied = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "watchwallet_scan_blocks_applied_total",
		Help: "account blocks applied to the ledger",
	})
	m.batches = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "watchwallet_scan_batches_total",
		Help: "block batches fetched",
	})
	m.fetchRetries = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "watchwallet_scan_fetch_retries_total",
		Help: "fetch retries by kind",
	}, []string{"kind"})
	m.fetchDuration = promautoFactory.NewHistogram(prometheus.HistogramOpts{
		Name:    "watchwallet_scan_fetch_seconds",
		Help:    "duration of successful batch fetches",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})
	m.globalHeight = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "watchwallet_scan_global_height",
		Help: "lowest resume height across scanned accounts",
	})
	m.activeAccounts = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "watchwallet_scan_active_accounts",
		Help: "accounts in the last fetched batch",
	})
	m.sessionsOpened = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "watchwallet_scan_sessions_opened_total",
		Help: "block source sessions opened",
	})
	m.requestTransitions = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "watchwallet_request_transitions_total",
		Help: "lock request transitions seen by the scanner, by stage",
	}, []string{"stage"})
}
