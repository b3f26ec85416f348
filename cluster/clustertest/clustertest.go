// Package clustertest runs an in-process redis cluster for tests.
// Every node listens on a real TCP port and speaks enough of the cluster
// protocol (CLUSTER SLOTS/NODES/INFO, MOVED, ASK, READONLY) to exercise a
// cluster client, but only keeps string values in memory.
package clustertest

import (
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CodingCaius/godis-cluster/cluster"
	"github.com/CodingCaius/godis-cluster/lib/utils"
	"github.com/CodingCaius/godis-cluster/redis/server"
	"github.com/CodingCaius/godis-cluster/tcp"
)

// Cluster is a set of masters, each with its replicas
type Cluster struct {
	mu    sync.Mutex
	nodes []*Node
	owner [cluster.SlotCount]*Node
	// slot -> node importing it, while the owner answers ASK for missing keys
	migrating map[int]*Node
	epoch     int64

	omitClusterSize bool
}

// Node is one member of the cluster
type Node struct {
	ID   string
	Addr string

	c      *Cluster
	master *Node
	// masters only
	data    map[string]string
	stopped bool
	epoch   int64

	calls     sync.Map // command name -> *atomic.Int64
	closeChan chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// New starts masters * (1 + replicas) nodes and spreads the slots evenly over the masters.
// The cluster is stopped when the test ends.
func New(t testing.TB, masters int, replicas int) *Cluster {
	t.Helper()
	c := &Cluster{migrating: make(map[int]*Node)}
	var ms []*Node
	for i := 0; i < masters; i++ {
		m := c.startNode(t, nil)
		ms = append(ms, m)
		for j := 0; j < replicas; j++ {
			c.startNode(t, m)
		}
	}
	for i, m := range ms {
		start := i * cluster.SlotCount / len(ms)
		end := (i + 1) * cluster.SlotCount / len(ms)
		for slot := start; slot < end; slot++ {
			c.owner[slot] = m
		}
	}
	t.Cleanup(c.Close)
	return c
}

func (c *Cluster) startNode(t testing.TB, master *Node) *Node {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c.epoch++
	n := &Node{
		ID:        utils.RandHexString(40),
		Addr:      ln.Addr().String(),
		c:         c,
		master:    master,
		epoch:     c.epoch,
		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
	}
	if master == nil {
		n.data = make(map[string]string)
	}
	c.nodes = append(c.nodes, n)
	handler := server.MakeHandler(n)
	go func() {
		tcp.ListenAndServe(ln, handler, n.closeChan)
		close(n.done)
	}()
	return n
}

// Close stops every node
func (c *Cluster) Close() {
	c.mu.Lock()
	nodes := append([]*Node(nil), c.nodes...)
	c.mu.Unlock()
	for _, n := range nodes {
		n.Stop()
	}
}

// Nodes returns every node, masters followed by their replicas
func (c *Cluster) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Node(nil), c.nodes...)
}

// Masters returns the nodes currently acting as masters
func (c *Cluster) Masters() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []*Node
	for _, n := range c.nodes {
		if n.master == nil {
			result = append(result, n)
		}
	}
	return result
}

// Seeds returns a redis:// URI per node
func (c *Cluster) Seeds() []string {
	var seeds []string
	for _, n := range c.Nodes() {
		seeds = append(seeds, "redis://"+n.Addr)
	}
	return seeds
}

// Owner returns the master serving slot
func (c *Cluster) Owner(slot int) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner[slot]
}

// OmitClusterSize drops cluster_size from CLUSTER INFO
func (c *Cluster) OmitClusterSize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.omitClusterSize = true
}

// Calls returns how many times name (e.g. "get" or "cluster|nodes") was received by any node
func (c *Cluster) Calls(name string) int64 {
	var total int64
	for _, n := range c.Nodes() {
		total += n.Calls(name)
	}
	return total
}

// MoveSlot hands slot and its keys over to master to. Clients are not told, they get MOVED.
func (c *Cluster) MoveSlot(slot int, to *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moveSlotLocked(slot, to)
}

func (c *Cluster) moveSlotLocked(slot int, to *Node) {
	from := c.owner[slot]
	if from != nil && from != to {
		for key, value := range from.data {
			if cluster.Slot(key) == slot {
				to.data[key] = value
				delete(from.data, key)
			}
		}
	}
	c.owner[slot] = to
	delete(c.migrating, slot)
	c.epoch++
}

// MigrateSlot starts migrating slot to master to: the owner answers ASK for keys it does not have
func (c *Cluster) MigrateSlot(slot int, to *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.migrating[slot] = to
}

// FinishMigration moves the remaining keys of slot and makes the importing node its owner
func (c *Cluster) FinishMigration(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if to, ok := c.migrating[slot]; ok {
		c.moveSlotLocked(slot, to)
	}
}

// Failover stops master m and promotes its first replica, which takes over data and slots
func (c *Cluster) Failover(m *Node) *Node {
	m.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	var promoted *Node
	for _, n := range c.nodes {
		if n.master != m || n.stopped {
			continue
		}
		if promoted == nil {
			promoted = n
			n.master = nil
			n.data = m.data
			continue
		}
		n.master = promoted
	}
	if promoted == nil {
		return nil
	}
	for slot := range c.owner {
		if c.owner[slot] == m {
			c.owner[slot] = promoted
		}
	}
	c.epoch++
	promoted.epoch = c.epoch
	return promoted
}

// Stop closes the listener and every connection of the node
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.c.mu.Lock()
		n.stopped = true
		n.c.mu.Unlock()
		close(n.closeChan)
		<-n.done
	})
}

// IsMaster reports whether the node currently acts as a master
func (n *Node) IsMaster() bool {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	return n.master == nil
}

// Master returns the master of a replica, nil for masters
func (n *Node) Master() *Node {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	return n.master
}

// Replicas returns the replicas of a master
func (n *Node) Replicas() []*Node {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	var result []*Node
	for _, r := range n.c.nodes {
		if r.master == n {
			result = append(result, r)
		}
	}
	return result
}

// Keys returns the keys stored on a master, sorted
func (n *Node) Keys() []string {
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	keys := make([]string, 0, len(n.data))
	for key := range n.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Calls returns how many times the node received name
func (n *Node) Calls(name string) int64 {
	if v, ok := n.calls.Load(name); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

func (n *Node) count(name string) {
	v, _ := n.calls.LoadOrStore(name, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (n *Node) port() int {
	_, portStr, _ := net.SplitHostPort(n.Addr)
	port, _ := strconv.Atoi(portStr)
	return port
}

func (n *Node) host() string {
	host, _, _ := net.SplitHostPort(n.Addr)
	return host
}
