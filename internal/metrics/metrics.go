// Package metrics holds the node's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TxTotal counts executed transactions by type and result code.
	TxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tolmart",
			Name:      "tx_executed_total",
			Help:      "Transactions executed by type and result code.",
		},
		[]string{"type", "code"},
	)

	// TxDuration observes handler latency by transaction type.
	TxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tolmart",
			Name:      "tx_duration_seconds",
			Help:      "Transaction execution duration in seconds.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"type"},
	)

	// EventsTotal counts emitted ledger events by type.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tolmart",
			Name:      "events_emitted_total",
			Help:      "Ledger events emitted by type.",
		},
		[]string{"type"},
	)

	// BlocksTotal counts blocks committed by this node.
	BlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tolmart",
			Name:      "blocks_committed_total",
			Help:      "Blocks committed.",
		},
	)

	// ChainHeight tracks the committed tip height.
	ChainHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tolmart",
			Name:      "chain_height",
			Help:      "Height of the committed chain tip.",
		},
	)

	// MempoolSize tracks pending transactions.
	MempoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tolmart",
			Name:      "mempool_size",
			Help:      "Pending transactions in the mempool.",
		},
	)

	// RPCRequestsTotal counts JSON-RPC calls by method and outcome.
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tolmart",
			Name:      "rpc_requests_total",
			Help:      "JSON-RPC requests by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		TxTotal,
		TxDuration,
		EventsTotal,
		BlocksTotal,
		ChainHeight,
		MempoolSize,
		RPCRequestsTotal,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
