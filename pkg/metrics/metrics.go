// Package metrics exposes a Prometheus registry for the engine's
// netlink, NAT pool, and task-launch activity.
//
// Grounded on cuemby-warren's pkg/metrics (package-level gauge/counter
// vars registered from an init(), a Timer helper for histogram
// observations, and an http.Handler for the scrape endpoint), adapted
// from cluster/raft/service domains to link statistics, traffic-class
// churn, NAT pool occupancy, and task launches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LinkRxBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netcore_link_rx_bytes",
			Help: "Received bytes per managed link",
		},
		[]string{"device"},
	)

	LinkTxBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netcore_link_tx_bytes",
			Help: "Transmitted bytes per managed link",
		},
		[]string{"device"},
	)

	LinkTxDropped = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netcore_link_tx_dropped_total",
			Help: "Dropped outbound packets per managed link",
		},
		[]string{"device"},
	)

	ClassesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netcore_htb_classes_active",
			Help: "Number of HTB classes currently attached per device",
		},
		[]string{"device"},
	)

	ClassOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcore_htb_class_operations_total",
			Help: "HTB class add/change/delete operations by outcome",
		},
		[]string{"op", "outcome"},
	)

	NATSlotsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netcore_nat_slots_in_use",
			Help: "Currently allocated NAT pool slots",
		},
	)

	NATSlotsCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netcore_nat_slots_capacity",
			Help: "Configured NAT pool capacity (nat_count)",
		},
	)

	NamespacesTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netcore_namespaces_tracked",
			Help: "Live entries in the network namespace registry",
		},
	)

	TaskLaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcore_task_launches_total",
			Help: "Task launches by outcome (success or error kind)",
		},
		[]string{"outcome"},
	)

	TaskLaunchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netcore_task_launch_duration_seconds",
			Help:    "Time from TaskLauncher start to the final pid/ack/error handshake",
			Buckets: prometheus.DefBuckets,
		},
	)

	NetConfigRealizeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netcore_netconfig_realize_duration_seconds",
			Help:    "Time to materialize a parsed NetConfig into a container namespace",
			Buckets: prometheus.DefBuckets,
		},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netcore_errors_total",
			Help: "Errors surfaced at the RPC boundary by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		LinkRxBytes,
		LinkTxBytes,
		LinkTxDropped,
		ClassesActive,
		ClassOperations,
		NATSlotsInUse,
		NATSlotsCapacity,
		NamespacesTracked,
		TaskLaunchesTotal,
		TaskLaunchDuration,
		NetConfigRealizeDuration,
		ErrorsTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation for later histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}
