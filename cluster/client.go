// Package cluster is a client for sharded redis clusters.
// It hashes keys to slots, keeps a snapshot of the cluster topology and routes
// every command to the node owning its slot, following MOVED and ASK redirects.
package cluster

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/CodingCaius/godis-cluster/config"
	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/lib/logger"
	"github.com/CodingCaius/godis-cluster/lib/metrics"
	"github.com/CodingCaius/godis-cluster/lib/timewheel"
	"github.com/CodingCaius/godis-cluster/lib/utils"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

// Client is safe for concurrent use
type Client struct {
	props    *config.ClusterProperties
	registry *NodeRegistry
	router   *router

	// timewheel key of the periodic refresh, empty when disabled
	refreshKey string
	closed     atomic.Bool
}

// Option customizes a Client
type Option func(*options)

type options struct {
	metrics metrics.ClusterMetrics
}

// WithMetrics reports client events to m
func WithMetrics(m metrics.ClusterMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// MakeClient validates the seed nodes, connects to as many as possible and loads the topology.
// nodes is a slice of URIs ("redis://host:port") or host/port mappings. props may be nil.
func MakeClient(ctx context.Context, nodes any, props *config.ClusterProperties, opts ...Option) (*Client, error) {
	seeds, err := ParseNodeConfig(nodes)
	if err != nil {
		return nil, err
	}
	if props == nil {
		props = config.Default()
	}
	props = props.Normalize()
	o := options{metrics: metrics.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	registry := newNodeRegistry(props, o.metrics)
	if err := registry.bootstrap(ctx, seeds); err != nil {
		registry.Close()
		return nil, err
	}
	c := &Client{
		props:    props,
		registry: registry,
		router:   newRouter(registry, props, o.metrics, seeds),
	}
	if err := c.router.refresh(ctx, 0); err != nil {
		registry.Close()
		return nil, err
	}
	if props.RefreshInterval > 0 {
		c.refreshKey = "topology-refresh:" + c.router.idGenerator.TraceID().String()
		c.scheduleRefresh()
	}
	return c, nil
}

// scheduleRefresh reloads the topology every RefreshInterval until the client is closed
func (c *Client) scheduleRefresh() {
	timewheel.Delay(c.props.RefreshInterval, c.refreshKey, func() {
		if c.closed.Load() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.props.Timeout)
		if err := c.Refresh(ctx); err != nil {
			logger.Warnf("periodic topology refresh failed: %v", err)
		}
		cancel()
		if !c.closed.Load() {
			c.scheduleRefresh()
		}
	})
}

// Supports reports whether name is a command the client routes
func (c *Client) Supports(name string) bool {
	return Supports(name)
}

// Exec routes a command line. Error replies of the node come back as *ServerCommandError.
func (c *Client) Exec(ctx context.Context, cmdLine [][]byte) (redis.Reply, error) {
	return c.router.Execute(ctx, cmdLine)
}

// Do routes a command given as strings
func (c *Client) Do(ctx context.Context, args ...string) (redis.Reply, error) {
	return c.router.Execute(ctx, utils.ToCmdLine(args...))
}

// Get returns the value of key, ErrNil if it does not exist
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	reply, err := c.Do(ctx, "GET", key)
	if err != nil {
		return "", err
	}
	s, ok := protocol.ToString(reply)
	if !ok {
		return "", ErrNil
	}
	return s, nil
}

// Set stores value at key
func (c *Client) Set(ctx context.Context, key string, value string) error {
	reply, err := c.Do(ctx, "SET", key, value)
	if err != nil {
		return err
	}
	if !protocol.IsOKReply(reply) {
		return fmt.Errorf("set %s: unexpected reply %q", key, reply.ToBytes())
	}
	return nil
}

// Del removes keys, which must share a slot, and returns the number removed
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	reply, err := c.Exec(ctx, utils.ToCmdLine2("DEL", keys...))
	if err != nil {
		return 0, err
	}
	n, ok := protocol.ToInt(reply)
	if !ok {
		return 0, fmt.Errorf("del: unexpected reply %q", reply.ToBytes())
	}
	return n, nil
}

// DoNode sends a command to one node without routing. node is a node id or host:port.
// Error replies come back as *ServerCommandError.
func (c *Client) DoNode(ctx context.Context, node string, args ...string) (redis.Reply, error) {
	addr, err := c.router.resolveNode(ctx, node)
	if err != nil {
		return nil, err
	}
	reply, err := c.router.call(ctx, addr, nil, utils.ToCmdLine(args...))
	if err != nil {
		return nil, err
	}
	if errReply, ok := reply.(protocol.ErrorReply); ok {
		return nil, &ServerCommandError{Msg: errReply.Error()}
	}
	return reply, nil
}

// ForEachMaster calls fn for every master serving slots, stopping at the first error
func (c *Client) ForEachMaster(ctx context.Context, fn func(ctx context.Context, master NodeRef) error) error {
	t, err := c.router.ensureTopology(ctx)
	if err != nil {
		return err
	}
	for _, master := range t.Masters() {
		if err := fn(ctx, master); err != nil {
			return err
		}
	}
	return nil
}

// Refresh reloads the topology from the cluster
func (c *Client) Refresh(ctx context.Context) error {
	return c.router.refresh(ctx, c.router.snapshot().Generation())
}

// Topology returns the current snapshot
func (c *Client) Topology() *Topology {
	return c.router.snapshot()
}

// Endpoints returns every node the client knows of
func (c *Client) Endpoints() []Endpoint {
	return c.registry.Endpoints()
}

// Invalidate drops the connections of a node, given by node id or host:port; the next call reconnects
func (c *Client) Invalidate(ctx context.Context, node string) error {
	addr, err := c.router.resolveNode(ctx, node)
	if err != nil {
		return err
	}
	c.registry.Invalidate(addr)
	return nil
}

// Reachable reports whether the last call to addr succeeded
func (c *Client) Reachable(addr string) bool {
	return c.registry.Reachable(addr)
}

// Close stops the periodic refresh and closes all connections
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.refreshKey != "" {
		timewheel.Cancel(c.refreshKey)
	}
	c.registry.Close()
	return nil
}
