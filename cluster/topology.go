package cluster

/*
集群拓扑快照。
Topology 一旦构建就不再修改：刷新时构建新的快照并通过 atomic.Pointer 整体替换，
正在使用旧快照的读者不受影响。MOVED 的快速路径同样是拷贝后修改（copy-on-write），不会原地修改共享数据。
*/

import (
	"net"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// NodeRef identifies a node serving a slot range
type NodeRef struct {
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	NodeID string `json:"node_id"`
}

// Addr returns ip:port
func (n NodeRef) Addr() string {
	return net.JoinHostPort(n.IP, strconv.Itoa(n.Port))
}

// SlotRange is a run of consecutive slots served by one master
type SlotRange struct {
	Start    int       `json:"start_slot"`
	End      int       `json:"end_slot"`
	Master   NodeRef   `json:"master"`
	Replicas []NodeRef `json:"replicas"`
}

func (r SlotRange) contains(slot int) bool {
	return r.Start <= slot && slot <= r.End
}

func (r SlotRange) clone() SlotRange {
	r.Replicas = slices.Clone(r.Replicas)
	return r
}

// NodeRecord is one line of CLUSTER NODES
type NodeRecord struct {
	NodeID string `json:"node_id"`
	// IPPort is the address field as reported, e.g. 127.0.0.1:7000@17000
	IPPort       string   `json:"ip_port"`
	Flags        []string `json:"flags"`
	MasterNodeID string   `json:"master_node_id"`
	PingSent     int64    `json:"ping_sent"`
	PongRecv     int64    `json:"pong_recv"`
	ConfigEpoch  int64    `json:"config_epoch"`
	LinkState    string   `json:"link_state"`
	// Slots keeps slot specs verbatim, including migration markers like [93->-id]
	Slots []string `json:"slots"`
}

// Addr returns ip:port without the cluster bus port
func (r *NodeRecord) Addr() string {
	addr, _, _ := strings.Cut(r.IPPort, "@")
	return addr
}

// HasFlag reports whether the node carries flag
func (r *NodeRecord) HasFlag(flag string) bool {
	return slices.Contains(r.Flags, flag)
}

// IsMaster reports whether the node is a master
func (r *NodeRecord) IsMaster() bool {
	return r.HasFlag("master")
}

// IsReplica reports whether the node is a replica of another node
func (r *NodeRecord) IsReplica() bool {
	return r.HasFlag("slave") || r.HasFlag("replica")
}

// Failing reports whether the node is marked as failed or possibly failed
func (r *NodeRecord) Failing() bool {
	return r.HasFlag("fail") || r.HasFlag("fail?")
}

// Topology is an immutable snapshot of the cluster layout
type Topology struct {
	// sorted by Start, disjoint
	ranges []SlotRange
	// in CLUSTER NODES order
	records []*NodeRecord
	nodes   map[string]*NodeRecord
	// addr -> node serving slots, for MOVED targets
	refs       map[string]NodeRef
	generation uint64
	// MOVED patches applied since the last full refresh
	patches int
}

func newTopology(ranges []SlotRange, records []*NodeRecord, generation uint64) *Topology {
	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].Start < ranges[j].Start
	})
	t := &Topology{
		ranges:     ranges,
		records:    records,
		nodes:      make(map[string]*NodeRecord, len(records)),
		refs:       make(map[string]NodeRef),
		generation: generation,
	}
	for _, r := range records {
		t.nodes[r.NodeID] = r
	}
	for _, r := range ranges {
		t.refs[r.Master.Addr()] = r.Master
		for _, replica := range r.Replicas {
			t.refs[replica.Addr()] = replica
		}
	}
	return t
}

// Patches returns the number of MOVED redirects patched into this snapshot since the last full refresh
func (t *Topology) Patches() int {
	return t.patches
}

// Generation increases with every full refresh
func (t *Topology) Generation() uint64 {
	return t.generation
}

// Empty reports whether no slot is assigned
func (t *Topology) Empty() bool {
	return len(t.ranges) == 0
}

// Ranges returns a copy of the slot ranges, sorted by start slot
func (t *Topology) Ranges() []SlotRange {
	result := make([]SlotRange, len(t.ranges))
	for i, r := range t.ranges {
		result[i] = r.clone()
	}
	return result
}

// Nodes returns every node record
func (t *Topology) Nodes() []*NodeRecord {
	return slices.Clone(t.records)
}

// Node returns the record of nodeID
func (t *Topology) Node(nodeID string) (*NodeRecord, bool) {
	r, ok := t.nodes[nodeID]
	return r, ok
}

// Lookup returns the range containing slot, false if the slot is unassigned
func (t *Topology) Lookup(slot int) (SlotRange, bool) {
	i := sort.Search(len(t.ranges), func(i int) bool {
		return t.ranges[i].End >= slot
	})
	if i < len(t.ranges) && t.ranges[i].contains(slot) {
		return t.ranges[i], true
	}
	return SlotRange{}, false
}

// Masters returns the distinct masters serving at least one slot
func (t *Topology) Masters() []NodeRef {
	seen := make(map[string]struct{})
	var masters []NodeRef
	for _, r := range t.ranges {
		addr := r.Master.Addr()
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		masters = append(masters, r.Master)
	}
	return masters
}

// Size is the number of masters serving slots, as cluster_size of CLUSTER INFO
func (t *Topology) Size() int {
	return len(t.Masters())
}

// Addrs returns the addresses of every node known to serve slots
func (t *Topology) Addrs() []string {
	addrs := make([]string, 0, len(t.refs))
	for addr := range t.refs {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// withMoved returns a copy in which slot is served by the node at addr.
// ok is false when addr is not a known node, the caller should do a full refresh instead.
func (t *Topology) withMoved(slot int, addr string) (*Topology, bool) {
	target, ok := t.refs[addr]
	if !ok {
		return nil, false
	}
	var replicas []NodeRef
	for _, r := range t.ranges {
		if r.Master.Addr() == addr {
			replicas = slices.Clone(r.Replicas)
			break
		}
	}
	moved := SlotRange{Start: slot, End: slot, Master: target, Replicas: replicas}

	ranges := make([]SlotRange, 0, len(t.ranges)+2)
	inserted := false
	for _, r := range t.ranges {
		if !r.contains(slot) {
			ranges = append(ranges, r.clone())
			continue
		}
		if r.Start < slot {
			left := r.clone()
			left.End = slot - 1
			ranges = append(ranges, left)
		}
		ranges = append(ranges, moved)
		inserted = true
		if slot < r.End {
			right := r.clone()
			right.Start = slot + 1
			ranges = append(ranges, right)
		}
	}
	if !inserted {
		ranges = append(ranges, moved)
	}
	// records are recreated only by a full refresh
	patched := newTopology(mergeRanges(ranges), t.records, t.generation)
	patched.patches = t.patches + 1
	return patched, true
}

// mergeRanges joins neighbouring ranges served by the same nodes, ranges must not overlap
func mergeRanges(ranges []SlotRange) []SlotRange {
	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].Start < ranges[j].Start
	})
	merged := make([]SlotRange, 0, len(ranges))
	for _, r := range ranges {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.End+1 == r.Start && last.Master == r.Master && slices.Equal(last.Replicas, r.Replicas) {
				last.End = r.End
				continue
			}
		}
		merged = append(merged, r)
	}
	return merged
}
