// Package metrics declares the instrumentation hooks of the cluster client.
// The default implementation is a no-op; see the prometheus sub-package for
// a Prometheus backed one.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
type Timer interface {
	ObserveDuration()
}

// ClusterMetrics receives events from the router, the node registry and the topology refresher.
type ClusterMetrics interface {
	// CommandDuration starts a timer for one routed command.
	CommandDuration(cmd string) Timer
	// CommandCompleted counts a routed command by outcome.
	CommandCompleted(cmd string, success bool)
	// Redirect counts a MOVED or ASK reply.
	Redirect(kind string)
	// TopologyRefresh counts a full refresh attempt.
	TopologyRefresh(success bool)
	// ConnectionFailure counts a node call that failed at the connection level.
	ConnectionFailure(addr string)
	// NodesReachable reports how many known endpoints answered their last call.
	NodesReachable(count int)
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

type nopClusterMetrics struct{}

func (nopClusterMetrics) CommandDuration(string) Timer { return nopTimer{} }
func (nopClusterMetrics) CommandCompleted(string, bool) {}
func (nopClusterMetrics) Redirect(string)               {}
func (nopClusterMetrics) TopologyRefresh(bool)          {}
func (nopClusterMetrics) ConnectionFailure(string)      {}
func (nopClusterMetrics) NodesReachable(int)            {}

// Nop returns a ClusterMetrics that discards everything.
func Nop() ClusterMetrics { return nopClusterMetrics{} }
