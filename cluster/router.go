package cluster

/*
命令路由。
一次命令执行的状态：Resolving -> Dispatching -> (Succeeded | Redirected -> Resolving | ConnectionFailed -> Refreshing -> Dispatching | Failed)
- MOVED：槽的归属已经改变。目标节点已知时拷贝一份拓扑并只修改这一个槽，否则做一次完整刷新；
  同一快照上累计 movedPatchLimit 次修改说明正在重新分片，也改为完整刷新。下一次直接发往目标节点。
- ASK：槽正在迁移，只对这一次命令有效。在目标节点的同一个连接上先发 ASKING 再发命令，不修改拓扑。
- 连接失败：丢弃该节点的连接，刷新一次拓扑后重试一次，仍失败则返回 CannotConnectError。
每条命令跟随重定向的次数不超过 RetryCount，完整刷新最多一次。
*/

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/openzipkin/zipkin-go/idgenerator"
	"golang.org/x/sync/singleflight"

	"github.com/CodingCaius/godis-cluster/config"
	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/lib/logger"
	"github.com/CodingCaius/godis-cluster/lib/metrics"
	"github.com/CodingCaius/godis-cluster/lib/utils"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

const (
	redirectMoved = "MOVED"
	redirectAsk   = "ASK"
	// backoff unit for TRYAGAIN and CLUSTERDOWN
	retryBackoff = 20 * time.Millisecond
	// after this many patched MOVED redirects the slots are being resharded, reload everything
	movedPatchLimit = 16
)

// redirect is parsed from a MOVED or ASK error reply
type redirect struct {
	kind string
	slot int
	addr string
}

// parseRedirect parses "MOVED 3999 127.0.0.1:6381" or "ASK 3999 127.0.0.1:6381".
// An empty host means the host of the node that replied.
func parseRedirect(msg string, from string) (redirect, bool) {
	fields := strings.Fields(msg)
	if len(fields) != 3 || (fields[0] != redirectMoved && fields[0] != redirectAsk) {
		return redirect{}, false
	}
	slot, err := strconv.Atoi(fields[1])
	if err != nil || slot < 0 || slot >= SlotCount {
		return redirect{}, false
	}
	addr := fields[2]
	if strings.HasPrefix(addr, ":") {
		host, _, err := net.SplitHostPort(from)
		if err != nil {
			return redirect{}, false
		}
		addr = net.JoinHostPort(host, addr[1:])
	}
	return redirect{kind: fields[0], slot: slot, addr: addr}, true
}

func isTransientError(msg string) bool {
	return strings.HasPrefix(msg, "TRYAGAIN") || strings.HasPrefix(msg, "CLUSTERDOWN")
}

type router struct {
	registry *NodeRegistry
	props    *config.ClusterProperties
	metrics  metrics.ClusterMetrics
	seeds    []Endpoint

	topo  atomic.Pointer[Topology]
	group singleflight.Group
	// 用于生成命令的 trace id，方便在日志中关联同一条命令的多次重定向
	idGenerator idgenerator.IDGenerator
}

func newRouter(registry *NodeRegistry, props *config.ClusterProperties, m metrics.ClusterMetrics, seeds []Endpoint) *router {
	r := &router{
		registry:    registry,
		props:       props,
		metrics:     m,
		seeds:       seeds,
		idGenerator: idgenerator.NewRandom64(),
	}
	r.topo.Store(newTopology(nil, nil, 0))
	return r
}

func (r *router) snapshot() *Topology {
	return r.topo.Load()
}

// ensureTopology bootstraps the topology if nothing is known yet
func (r *router) ensureTopology(ctx context.Context) (*Topology, error) {
	t := r.topo.Load()
	if !t.Empty() {
		return t, nil
	}
	if err := r.refresh(ctx, t.Generation()); err != nil {
		return nil, err
	}
	return r.topo.Load(), nil
}

// refresh fetches a new topology unless one newer than observed has been installed already.
// Concurrent callers share one round trip.
func (r *router) refresh(ctx context.Context, observed uint64) error {
	if r.topo.Load().Generation() > observed {
		return nil
	}
	ch := r.group.DoChan("refresh", func() (interface{}, error) {
		cur := r.topo.Load()
		if cur.Generation() > observed {
			return nil, nil
		}
		// callers waiting on this flight must not be failed by the first caller's cancellation
		t, err := r.fetchTopology(context.WithoutCancel(ctx), cur)
		r.metrics.TopologyRefresh(err == nil)
		if err != nil {
			logger.Warnf("refresh cluster topology failed: %v", err)
			return nil, err
		}
		r.topo.Store(t)
		logger.Infof("cluster topology refreshed, generation %d, %d ranges, %d nodes",
			t.Generation(), len(t.ranges), len(t.records))
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// candidates lists the nodes to ask for the topology: known nodes that answered last, then the seeds
func (r *router) candidates(cur *Topology) []string {
	seen := make(map[string]struct{})
	var reachable, others []string
	add := func(addr string) {
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		if r.registry.Reachable(addr) {
			reachable = append(reachable, addr)
		} else {
			others = append(others, addr)
		}
	}
	for _, addr := range cur.Addrs() {
		add(addr)
	}
	for _, seed := range r.seeds {
		add(seed.Addr())
	}
	rand.Shuffle(len(reachable), func(i, j int) {
		reachable[i], reachable[j] = reachable[j], reachable[i]
	})
	return append(reachable, others...)
}

func (r *router) fetchTopology(ctx context.Context, cur *Topology) (*Topology, error) {
	var lastErr error
	for _, addr := range r.candidates(cur) {
		t, err := r.fetchTopologyFrom(ctx, addr, cur.Generation()+1)
		if err == nil {
			return t, nil
		}
		if IsServerError(err) {
			return nil, err
		}
		logger.Debugf("fetch topology from %s: %v", addr, err)
		lastErr = err
	}
	if lastErr == nil {
		return nil, ErrClusterUnreachable
	}
	return nil, fmt.Errorf("%w: %v", ErrClusterUnreachable, lastErr)
}

func (r *router) fetchTopologyFrom(ctx context.Context, addr string, generation uint64) (*Topology, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	nodesReply, err := r.call(ctx, addr, nil, utils.ToCmdLine("CLUSTER", "NODES"))
	if err != nil {
		return nil, err
	}
	if errReply, ok := nodesReply.(protocol.ErrorReply); ok {
		return nil, fmt.Errorf("cluster nodes on %s: %s", addr, errReply.Error())
	}
	text, ok := protocol.ToString(nodesReply)
	if !ok {
		return nil, fmt.Errorf("cluster nodes on %s: unexpected reply %q", addr, nodesReply.ToBytes())
	}
	records, err := parseClusterNodes(text, host)
	if err != nil {
		return nil, err
	}

	slotsReply, err := r.call(ctx, addr, nil, utils.ToCmdLine("CLUSTER", "SLOTS"))
	if err != nil {
		return nil, err
	}
	var ranges []SlotRange
	if protocol.IsErrorReply(slotsReply) {
		// CLUSTER SLOTS is deprecated on newer servers, fall back to the node list
		ranges = rangesFromNodes(records)
	} else if ranges, err = parseClusterSlots(slotsReply, host); err != nil {
		return nil, err
	}
	return newTopology(ranges, records, generation), nil
}

// resolveNode turns a node id of the current topology into its address, host:port is returned as is
func (r *router) resolveNode(ctx context.Context, node string) (string, error) {
	if _, err := endpointFromAddr(node); err == nil {
		return node, nil
	}
	t, err := r.ensureTopology(ctx)
	if err != nil {
		return "", err
	}
	record, ok := t.Node(node)
	if !ok {
		return "", &UnknownNodeError{NodeID: node}
	}
	if ref, ok := record.ref(); ok {
		return ref.Addr(), nil
	}
	return "", &UnknownNodeError{NodeID: node}
}

// call sends cmdLine to addr bounded by the per-call timeout
func (r *router) call(ctx context.Context, addr string, prefix [][]byte, cmdLine [][]byte) (redis.Reply, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.props.Timeout)
	defer cancel()
	return r.registry.Send(callCtx, addr, prefix, cmdLine)
}

type replicaReadsKey struct{}

// WithReplicaReads overrides UseReplicas for the commands run with ctx
func WithReplicaReads(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, replicaReadsKey{}, enabled)
}

func (r *router) replicaReads(ctx context.Context) bool {
	if enabled, ok := ctx.Value(replicaReadsKey{}).(bool); ok {
		return enabled
	}
	return r.props.UseReplicas
}

// pick returns the address to send a command for slot to, "" if the slot is not served.
// slot < 0 means a keyless command. replica is true when a replica was chosen.
func (r *router) pick(ctx context.Context, t *Topology, cmd *command, slot int) (addr string, replica bool) {
	if slot < 0 {
		masters := t.Masters()
		if len(masters) == 0 {
			for _, ep := range r.registry.Endpoints() {
				if r.registry.Reachable(ep.Addr()) {
					return ep.Addr(), false
				}
			}
			return "", false
		}
		return masters[rand.Intn(len(masters))].Addr(), false
	}
	sr, ok := t.Lookup(slot)
	if !ok {
		return "", false
	}
	if cmd.readOnly() && len(sr.Replicas) > 0 && r.replicaReads(ctx) {
		ref := sr.Replicas[rand.Intn(len(sr.Replicas))]
		if r.registry.Reachable(ref.Addr()) {
			return ref.Addr(), true
		}
	}
	return sr.Master.Addr(), false
}

// Execute routes one command
func (r *router) Execute(ctx context.Context, cmdLine [][]byte) (redis.Reply, error) {
	if len(cmdLine) == 0 {
		return nil, &ServerCommandError{Msg: "ERR empty command"}
	}
	cmd, ok := lookupCommand(string(cmdLine[0]))
	if !ok {
		return nil, &UnsupportedCommandError{Name: string(cmdLine[0])}
	}
	if !cmd.validateArity(cmdLine) {
		return nil, &ServerCommandError{Msg: protocol.MakeArgNumErrReply(cmd.name).Error()}
	}
	keys, err := cmd.keys(cmdLine)
	if err != nil {
		return nil, err
	}
	slot := -1
	for i, key := range keys {
		s := Slot(key)
		if i == 0 {
			slot = s
		} else if s != slot {
			return nil, &CrossSlotError{Command: cmd.name}
		}
	}

	timer := r.metrics.CommandDuration(cmd.name)
	reply, err := r.execute(ctx, cmd, slot, cmdLine)
	timer.ObserveDuration()
	r.metrics.CommandCompleted(cmd.name, err == nil)
	return reply, err
}

func (r *router) execute(ctx context.Context, cmd *command, slot int, cmdLine [][]byte) (redis.Reply, error) {
	traceID := r.idGenerator.TraceID()
	var (
		// set by a redirect, overrides the topology for the next attempt
		nextAddr  string
		asking    bool
		refreshed bool
		reconnect bool
		lastErr   error
	)
	for attempt := 0; attempt <= r.props.RetryCount; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Resolving
		t, err := r.ensureTopology(ctx)
		if err != nil {
			return nil, err
		}
		addr, replica := nextAddr, false
		if addr == "" {
			addr, replica = r.pick(ctx, t, cmd, slot)
		}
		if addr == "" {
			lastErr = &ServerCommandError{Msg: fmt.Sprintf("CLUSTERDOWN Hash slot %d not served", slot)}
			if refreshed {
				return nil, lastErr
			}
			refreshed = true
			if err := r.refresh(ctx, t.Generation()); err != nil {
				return nil, err
			}
			continue
		}

		// Dispatching
		var prefix [][]byte
		switch {
		case asking:
			prefix = askingCmd
		case replica && !r.props.UseReplicas:
			// connections only send READONLY at handshake when configured for replica reads
			prefix = readOnlyCmd
		}
		reply, err := r.call(ctx, addr, prefix, cmdLine)
		nextAddr, asking = "", false
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if IsServerError(err) {
				return nil, err
			}
			// ConnectionFailed
			r.metrics.ConnectionFailure(addr)
			r.registry.Invalidate(addr)
			logger.Warnf("[%s] %s on %s failed: %v", traceID, utils.CmdString(cmdLine), addr, err)
			if reconnect {
				return nil, &CannotConnectError{Addr: addr, Err: err}
			}
			reconnect = true
			// Refreshing, the node may have failed over
			refreshed = true
			if rerr := r.refresh(ctx, t.Generation()); rerr != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, &CannotConnectError{Addr: addr, Err: err}
			}
			lastErr = err
			// the reconnect retry has its own budget, redirects may have used up RetryCount
			attempt--
			continue
		}
		errReply, ok := reply.(protocol.ErrorReply)
		if !ok {
			return reply, nil
		}

		msg := errReply.Error()
		if rd, ok := parseRedirect(msg, addr); ok {
			// Redirected
			r.metrics.Redirect(rd.kind)
			logger.Debugf("[%s] %s slot %d redirected by %s: %s", traceID, cmd.name, slot, addr, msg)
			lastErr = &ServerCommandError{Msg: msg}
			nextAddr = rd.addr
			if rd.kind == redirectAsk {
				asking = true
				continue
			}
			// unknown target or too many patches: one full refresh, the retry still follows the redirect
			patched, known := t.withMoved(rd.slot, rd.addr)
			if refreshed || (known && patched.Patches() < movedPatchLimit) {
				if known {
					r.topo.CompareAndSwap(t, patched)
				}
				continue
			}
			refreshed = true
			if err := r.refresh(ctx, t.Generation()); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if known {
					r.topo.CompareAndSwap(t, patched)
				}
			}
			continue
		}
		if isTransientError(msg) {
			lastErr = &ServerCommandError{Msg: msg}
			logger.Debugf("[%s] %s on %s: %s, retrying", traceID, cmd.name, addr, msg)
			select {
			case <-time.After(retryBackoff * time.Duration(attempt+1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		return nil, &ServerCommandError{Msg: msg}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrTooManyRedirects, r.props.RetryCount+1, lastErr)
}
