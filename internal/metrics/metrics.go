package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetcher progress, partitioned by chain and monitored address.

var (
	ScanCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bridge_etl",
		Subsystem: "fetcher",
		Name:      "cursor_block",
		Help:      "Last block fully scanned",
	}, []string{"chain", "address"})

	LatestBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bridge_etl",
		Subsystem: "fetcher",
		Name:      "latest_block",
		Help:      "Chain head observed at the start of the last cycle",
	}, []string{"chain"})

	WindowSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bridge_etl",
		Subsystem: "fetcher",
		Name:      "window_blocks",
		Help:      "Current eth_getLogs block window",
	}, []string{"chain", "address"})

	WindowShrinks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge_etl",
		Subsystem: "fetcher",
		Name:      "window_shrinks_total",
		Help:      "Times the block window was halved after a provider refusal",
	}, []string{"chain"})

	LogsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge_etl",
		Subsystem: "fetcher",
		Name:      "logs_decoded_total",
		Help:      "Logs decoded and delivered, by event kind",
	}, []string{"chain", "kind"})

	CycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge_etl",
		Subsystem: "fetcher",
		Name:      "cycle_errors_total",
		Help:      "Fetch cycles that ended without reaching the chain head",
	}, []string{"chain"})

	CycleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bridge_etl",
		Subsystem: "fetcher",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one fetch cycle",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
	}, []string{"chain"})
)
