package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal tracks poll cycles by chain and outcome
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_cycles_total",
			Help: "The total number of poll cycles",
		},
		[]string{"chain", "outcome"}, // ok, failed
	)

	// CycleSeconds tracks time taken by a poll cycle
	CycleSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainwatch_cycle_seconds",
			Help:    "Time taken by a poll cycle in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
		[]string{"chain"},
	)

	// AlertsCreated tracks new alert events written to the ledger
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_alerts_created_total",
			Help: "The total number of alert events created",
		},
		[]string{"chain"},
	)

	// Deliveries tracks notification attempts by outcome
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_deliveries_total",
			Help: "The total number of notification delivery attempts",
		},
		[]string{"chain", "status"}, // success, failed
	)

	// RPCRequestsTotal tracks upstream RPC requests by status
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwatch_rpc_requests_total",
			Help: "The total number of upstream RPC requests",
		},
		[]string{"chain", "status"},
	)

	// RPCEndpointHealth tracks RPC endpoint health
	RPCEndpointHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwatch_rpc_endpoint_health",
			Help: "Health status of RPC endpoints (1 = healthy, 0 = unhealthy)",
		},
		[]string{"endpoint"},
	)

	// CursorHeight tracks the shared block cursor per chain
	CursorHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwatch_cursor_height",
			Help: "Last fully scanned block height per chain",
		},
		[]string{"chain"},
	)
)

// RecordCycle records a finished poll cycle
func RecordCycle(chain string, ok bool, duration float64) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	CyclesTotal.WithLabelValues(chain, outcome).Inc()
	CycleSeconds.WithLabelValues(chain).Observe(duration)
}

// RecordAlertCreated records a new ledger entry
func RecordAlertCreated(chain string) {
	AlertsCreated.WithLabelValues(chain).Inc()
}

// RecordDelivery records a notification attempt
func RecordDelivery(chain string, ok bool) {
	status := "success"
	if !ok {
		status = "failed"
	}
	Deliveries.WithLabelValues(chain, status).Inc()
}

// RecordRPCRequest records an RPC request with the given status
func RecordRPCRequest(chain, status string) {
	RPCRequestsTotal.WithLabelValues(chain, status).Inc()
}

// SetRPCEndpointHealth sets the health status of an RPC endpoint
func SetRPCEndpointHealth(endpoint string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	RPCEndpointHealth.WithLabelValues(endpoint).Set(value)
}

// SetCursorHeight records the shared cursor of a chain
func SetCursorHeight(chain string, height uint64) {
	CursorHeight.WithLabelValues(chain).Set(float64(height))
}
