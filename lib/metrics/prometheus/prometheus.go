package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CodingCaius/godis-cluster/lib/metrics"
)

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5,
}

type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// clusterMetrics implements metrics.ClusterMetrics using Prometheus.
type clusterMetrics struct {
	commandDuration    *prometheus.HistogramVec
	commandsTotal      *prometheus.CounterVec
	redirectsTotal     *prometheus.CounterVec
	refreshesTotal     *prometheus.CounterVec
	connectionFailures *prometheus.CounterVec
	nodesReachable     prometheus.Gauge
}

// NewClusterMetrics creates and registers the collectors on reg.
func NewClusterMetrics(reg prometheus.Registerer) metrics.ClusterMetrics {
	m := &clusterMetrics{
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "godis_cluster_command_duration_seconds",
			Help:    "Latency of routed commands including redirects, in seconds",
			Buckets: defaultBuckets,
		}, []string{"command"}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "godis_cluster_commands_total",
			Help: "Total number of routed commands",
		}, []string{"command", "success"}),

		redirectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "godis_cluster_redirects_total",
			Help: "Total number of MOVED and ASK replies followed",
		}, []string{"kind"}),

		refreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "godis_cluster_topology_refreshes_total",
			Help: "Total number of full topology refreshes",
		}, []string{"success"}),

		connectionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "godis_cluster_connection_failures_total",
			Help: "Total number of node calls failed at the connection level",
		}, []string{"addr"}),

		nodesReachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "godis_cluster_nodes_reachable",
			Help: "Number of known endpoints that answered their last call",
		}),
	}

	reg.MustRegister(
		m.commandDuration,
		m.commandsTotal,
		m.redirectsTotal,
		m.refreshesTotal,
		m.connectionFailures,
		m.nodesReachable,
	)
	return m
}

func (m *clusterMetrics) CommandDuration(cmd string) metrics.Timer {
	return newTimer(m.commandDuration.WithLabelValues(cmd))
}

func (m *clusterMetrics) CommandCompleted(cmd string, success bool) {
	m.commandsTotal.WithLabelValues(cmd, boolToStr(success)).Inc()
}

func (m *clusterMetrics) Redirect(kind string) {
	m.redirectsTotal.WithLabelValues(kind).Inc()
}

func (m *clusterMetrics) TopologyRefresh(success bool) {
	m.refreshesTotal.WithLabelValues(boolToStr(success)).Inc()
}

func (m *clusterMetrics) ConnectionFailure(addr string) {
	m.connectionFailures.WithLabelValues(addr).Inc()
}

func (m *clusterMetrics) NodesReachable(count int) {
	m.nodesReachable.Set(float64(count))
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

var _ metrics.ClusterMetrics = (*clusterMetrics)(nil)
