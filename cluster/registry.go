package cluster

// 管理与集群中各节点的连接。
// 每个节点地址对应一个连接池，连接在第一次使用时才建立；连接级别的错误会让该节点的连接池失效，下次使用时重新连接。

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"github.com/CodingCaius/godis-cluster/config"
	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/lib/logger"
	"github.com/CodingCaius/godis-cluster/lib/metrics"
	"github.com/CodingCaius/godis-cluster/lib/pool"
	"github.com/CodingCaius/godis-cluster/lib/utils"
	"github.com/CodingCaius/godis-cluster/redis/client"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

var (
	askingCmd   = utils.ToCmdLine("ASKING")
	readOnlyCmd = utils.ToCmdLine("READONLY")
)

type nodeHandle struct {
	endpoint  Endpoint
	pool      *pool.Pool[redis.Client]
	reachable atomic.Bool
	// false until the first call finished, so unknown nodes are not skipped
	probed atomic.Bool
}

// NodeRegistry owns the connections to every known node, keyed by host:port
type NodeRegistry struct {
	handles *skipmap.FuncMap[string, *nodeHandle]
	props   *config.ClusterProperties
	metrics metrics.ClusterMetrics
	// scheme and db of discovered nodes follow the first seed
	template Endpoint
	closed   atomic.Bool
}

func newNodeRegistry(props *config.ClusterProperties, m metrics.ClusterMetrics) *NodeRegistry {
	return &NodeRegistry{
		handles: skipmap.NewFunc[string, *nodeHandle](func(a, b string) bool {
			return a < b
		}),
		props:    props,
		metrics:  m,
		template: Endpoint{Scheme: schemeRedis},
	}
}

// bootstrap registers the seeds and pings each of them.
// It fails with ErrClusterUnreachable if no seed answers, or with the node's own
// rejection if the connect handshake is refused (e.g. SELECT in cluster mode).
func (r *NodeRegistry) bootstrap(ctx context.Context, seeds []Endpoint) error {
	if len(seeds) > 0 {
		r.template = Endpoint{Scheme: seeds[0].Scheme, DB: seeds[0].DB}
	}
	reachable := 0
	for _, seed := range seeds {
		r.register(seed)
		callCtx, cancel := context.WithTimeout(ctx, r.props.Timeout)
		_, err := r.Send(callCtx, seed.Addr(), nil, utils.ToCmdLine("PING"))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if IsServerError(err) {
				return err
			}
			logger.Warnf("seed node %s is unreachable: %v", seed, err)
			continue
		}
		reachable++
	}
	if reachable == 0 {
		return ErrClusterUnreachable
	}
	return nil
}

func (r *NodeRegistry) register(ep Endpoint) *nodeHandle {
	h, _ := r.handles.LoadOrStoreLazy(ep.Addr(), func() *nodeHandle {
		return r.newHandle(ep)
	})
	return h
}

// get returns the handle of addr, creating it for nodes learned from the cluster
func (r *NodeRegistry) get(addr string) (*nodeHandle, error) {
	if r.closed.Load() {
		return nil, pool.ErrClosed
	}
	if h, ok := r.handles.Load(addr); ok {
		return h, nil
	}
	ep, err := endpointFromAddr(addr)
	if err != nil {
		return nil, err
	}
	ep.Scheme = r.template.Scheme
	ep.DB = r.template.DB
	return r.register(ep), nil
}

func (r *NodeRegistry) newHandle(ep Endpoint) *nodeHandle {
	h := &nodeHandle{endpoint: ep}
	factory := func(ctx context.Context) (redis.Client, error) {
		return r.connect(ctx, ep)
	}
	finalizer := func(c redis.Client) {
		logger.Debug("destroy connection to " + c.RemoteAddr())
		_ = c.Close()
	}
	h.pool = pool.New[redis.Client](factory, finalizer, pool.Config{
		MaxIdle:   uint(r.props.PoolMaxIdle),
		MaxActive: uint(r.props.PoolMaxActive),
	})
	return h
}

// connect dials ep and runs the handshake: SELECT for a non-zero db, READONLY when reading from replicas
func (r *NodeRegistry) connect(ctx context.Context, ep Endpoint) (redis.Client, error) {
	c, err := client.MakeClient(ctx, ep.Addr(), r.props.DialTimeout)
	if err != nil {
		return nil, err
	}
	if ep.DB != 0 {
		reply, err := c.Send(ctx, utils.ToCmdLine("SELECT", strconv.Itoa(ep.DB)))
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		if errReply, ok := reply.(protocol.ErrorReply); ok {
			_ = c.Close()
			return nil, &ServerCommandError{Msg: errReply.Error()}
		}
	}
	if r.props.UseReplicas {
		reply, err := c.Send(ctx, readOnlyCmd)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		if protocol.IsErrorReply(reply) {
			logger.Debugf("node %s refused READONLY: %s", ep.Addr(), reply.ToBytes())
		}
	}
	return c, nil
}

// Send runs one command on a connection to addr. A non-nil prefix (ASKING or READONLY) is sent first on the same connection.
// Connection-level failures are returned as error and discard the connection; error replies are returned as replies.
func (r *NodeRegistry) Send(ctx context.Context, addr string, prefix [][]byte, cmdLine [][]byte) (redis.Reply, error) {
	h, err := r.get(addr)
	if err != nil {
		return nil, err
	}
	c, err := h.pool.Get(ctx)
	if err != nil {
		if !IsServerError(err) {
			r.markReachable(h, false)
		}
		return nil, err
	}
	if prefix != nil {
		if _, err := c.Send(ctx, prefix); err != nil {
			h.pool.Discard(c)
			r.markReachable(h, false)
			return nil, err
		}
	}
	reply, err := c.Send(ctx, cmdLine)
	if err != nil {
		h.pool.Discard(c)
		r.markReachable(h, false)
		return nil, err
	}
	h.pool.Put(c)
	r.markReachable(h, true)
	return reply, nil
}

func (r *NodeRegistry) markReachable(h *nodeHandle, ok bool) {
	h.probed.Store(true)
	if h.reachable.Swap(ok) != ok {
		r.metrics.NodesReachable(r.ReachableCount())
	}
}

// Invalidate drops the connections of addr, the next call reconnects
func (r *NodeRegistry) Invalidate(addr string) {
	h, ok := r.handles.LoadAndDelete(addr)
	if !ok {
		return
	}
	h.pool.Close()
	// keep the endpoint known, with a fresh pool
	fresh := r.newHandle(h.endpoint)
	fresh.probed.Store(true)
	if _, loaded := r.handles.LoadOrStore(addr, fresh); loaded {
		fresh.pool.Close()
	}
	if h.reachable.Load() {
		r.metrics.NodesReachable(r.ReachableCount())
	}
}

// Reachable reports whether the last call to addr succeeded.
// Endpoints never called yet are reported reachable.
func (r *NodeRegistry) Reachable(addr string) bool {
	h, ok := r.handles.Load(addr)
	if !ok {
		return true
	}
	return !h.probed.Load() || h.reachable.Load()
}

// ReachableCount returns the number of endpoints whose last call succeeded
func (r *NodeRegistry) ReachableCount() int {
	n := 0
	r.handles.Range(func(_ string, h *nodeHandle) bool {
		if h.reachable.Load() {
			n++
		}
		return true
	})
	return n
}

// Endpoints returns every known endpoint, ordered by address
func (r *NodeRegistry) Endpoints() []Endpoint {
	var result []Endpoint
	r.handles.Range(func(_ string, h *nodeHandle) bool {
		result = append(result, h.endpoint)
		return true
	})
	return result
}

// Close closes every connection
func (r *NodeRegistry) Close() {
	r.closed.Store(true)
	r.handles.Range(func(addr string, h *nodeHandle) bool {
		h.pool.Close()
		r.handles.Delete(addr)
		return true
	})
}
