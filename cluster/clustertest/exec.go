package clustertest

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/CodingCaius/godis-cluster/cluster"
	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/lib/utils"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

var keyedCommands = map[string]bool{
	"get": true, "set": true, "mget": true, "mset": true, "del": true,
	"exists": true, "incr": true, "pttl": true, "ttl": true, "type": true,
}

var readOnlyCommands = map[string]bool{
	"get": true, "mget": true, "exists": true, "pttl": true, "ttl": true, "type": true,
}

// Exec executes one command received by the node
func (n *Node) Exec(conn redis.Connection, cmdLine [][]byte) redis.Reply {
	if len(cmdLine) == 0 {
		return protocol.MakeErrReply("ERR empty command")
	}
	name := utils.CmdName(cmdLine)
	n.count(name)
	asking := conn.TakeAsking()

	switch name {
	case "ping":
		return &protocol.PongReply{}
	case "echo":
		if len(cmdLine) != 2 {
			return protocol.MakeArgNumErrReply(name)
		}
		return protocol.MakeBulkReply(cmdLine[1])
	case "asking":
		conn.SetAsking(true)
		return protocol.MakeOkReply()
	case "readonly":
		conn.SetReadOnly(true)
		return protocol.MakeOkReply()
	case "readwrite":
		conn.SetReadOnly(false)
		return protocol.MakeOkReply()
	case "select":
		if len(cmdLine) != 2 {
			return protocol.MakeArgNumErrReply(name)
		}
		if string(cmdLine[1]) != "0" {
			return protocol.MakeErrReply("ERR SELECT is not allowed in cluster mode")
		}
		return protocol.MakeOkReply()
	case "info":
		return protocol.MakeBulkReply([]byte("# Server\r\nredis_version:7.0.0\r\nredis_mode:cluster\r\n\r\n# Cluster\r\ncluster_enabled:1\r\n"))
	case "cluster":
		if len(cmdLine) < 2 {
			return protocol.MakeArgNumErrReply(name)
		}
		return n.execCluster(cmdLine)
	}

	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	switch name {
	case "dbsize":
		return protocol.MakeIntReply(int64(len(n.store())))
	case "scan":
		return n.scan(cmdLine)
	}
	return n.execKeyed(conn, name, cmdLine, asking)
}

// store returns the data a node serves, replicas share their master's
func (n *Node) store() map[string]string {
	if n.master != nil {
		return n.master.data
	}
	return n.data
}

func commandKeys(name string, cmdLine [][]byte) ([]string, bool) {
	args := cmdLine[1:]
	var keys []string
	switch name {
	case "get", "incr", "pttl", "ttl", "type":
		if len(args) != 1 {
			return nil, false
		}
		keys = append(keys, string(args[0]))
	case "set":
		if len(args) < 2 {
			return nil, false
		}
		keys = append(keys, string(args[0]))
	case "del", "exists", "mget":
		if len(args) < 1 {
			return nil, false
		}
		for _, arg := range args {
			keys = append(keys, string(arg))
		}
	case "mset":
		if len(args) < 2 || len(args)%2 != 0 {
			return nil, false
		}
		for i := 0; i < len(args); i += 2 {
			keys = append(keys, string(args[i]))
		}
	default:
		return nil, false
	}
	return keys, true
}

// invoker should hold c.mu
func (n *Node) execKeyed(conn redis.Connection, name string, cmdLine [][]byte, asking bool) redis.Reply {
	if !keyedCommands[name] {
		return protocol.MakeErrReply("ERR unknown command '" + name + "'")
	}
	keys, ok := commandKeys(name, cmdLine)
	if !ok {
		return protocol.MakeArgNumErrReply(name)
	}
	slot := cluster.Slot(keys[0])
	for _, key := range keys[1:] {
		if cluster.Slot(key) != slot {
			return protocol.MakeErrReply("CROSSSLOT Keys in request don't hash to the same slot")
		}
	}
	c := n.c
	owner := c.owner[slot]
	if owner == nil {
		return protocol.MakeErrReply("CLUSTERDOWN Hash slot not served")
	}
	moved := protocol.MakeErrReply(fmt.Sprintf("MOVED %d %s", slot, owner.Addr))
	if n.master != nil {
		if conn.IsReadOnly() && readOnlyCommands[name] && n.master == owner {
			return serve(n.master.data, name, cmdLine)
		}
		return moved
	}
	if owner == n {
		if target, ok := c.migrating[slot]; ok {
			for _, key := range keys {
				if _, exists := n.data[key]; !exists {
					return protocol.MakeErrReply(fmt.Sprintf("ASK %d %s", slot, target.Addr))
				}
			}
		}
		return serve(n.data, name, cmdLine)
	}
	if asking && c.migrating[slot] == n {
		return serve(n.data, name, cmdLine)
	}
	return moved
}

func serve(data map[string]string, name string, cmdLine [][]byte) redis.Reply {
	args := cmdLine[1:]
	switch name {
	case "get":
		value, ok := data[string(args[0])]
		if !ok {
			return protocol.MakeNullBulkReply()
		}
		return protocol.MakeBulkReply([]byte(value))
	case "set":
		data[string(args[0])] = string(args[1])
		return protocol.MakeOkReply()
	case "mset":
		for i := 0; i < len(args); i += 2 {
			data[string(args[i])] = string(args[i+1])
		}
		return protocol.MakeOkReply()
	case "mget":
		replies := make([]redis.Reply, len(args))
		for i, arg := range args {
			if value, ok := data[string(arg)]; ok {
				replies[i] = protocol.MakeBulkReply([]byte(value))
			} else {
				replies[i] = protocol.MakeNullBulkReply()
			}
		}
		return protocol.MakeMultiRawReply(replies)
	case "del", "exists":
		var count int64
		for _, arg := range args {
			if _, ok := data[string(arg)]; ok {
				count++
				if name == "del" {
					delete(data, string(arg))
				}
			}
		}
		return protocol.MakeIntReply(count)
	case "incr":
		key := string(args[0])
		value, err := strconv.ParseInt(data[key], 10, 64)
		if _, ok := data[key]; ok && err != nil {
			return protocol.MakeErrReply("ERR value is not an integer or out of range")
		}
		value++
		data[key] = strconv.FormatInt(value, 10)
		return protocol.MakeIntReply(value)
	case "pttl", "ttl":
		if _, ok := data[string(args[0])]; !ok {
			return protocol.MakeIntReply(-2)
		}
		return protocol.MakeIntReply(-1)
	case "type":
		if _, ok := data[string(args[0])]; !ok {
			return protocol.MakeStatusReply("none")
		}
		return protocol.MakeStatusReply("string")
	}
	return protocol.MakeErrReply("ERR unknown command '" + name + "'")
}

// scan returns every matching key in one batch: SCAN 0 [MATCH pattern] [COUNT n]
// invoker should hold c.mu
func (n *Node) scan(cmdLine [][]byte) redis.Reply {
	pattern := "*"
	for i := 2; i+1 < len(cmdLine); i += 2 {
		if strings.EqualFold(string(cmdLine[i]), "match") {
			pattern = string(cmdLine[i+1])
		}
	}
	var keys []string
	for key := range n.store() {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	args := make([][]byte, len(keys))
	for i, key := range keys {
		args[i] = []byte(key)
	}
	return protocol.MakeMultiRawReply([]redis.Reply{
		protocol.MakeBulkReply([]byte("0")),
		protocol.MakeMultiBulkReply(args),
	})
}

func (n *Node) execCluster(cmdLine [][]byte) redis.Reply {
	sub := strings.ToLower(string(cmdLine[1]))
	n.count("cluster|" + sub)
	switch sub {
	case "keyslot":
		if len(cmdLine) != 3 {
			return protocol.MakeArgNumErrReply("cluster|keyslot")
		}
		return protocol.MakeIntReply(int64(cluster.Slot(string(cmdLine[2]))))
	case "myid":
		return protocol.MakeBulkReply([]byte(n.ID))
	}

	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	switch sub {
	case "slots":
		return n.c.slotsReply()
	case "nodes":
		return protocol.MakeBulkReply([]byte(n.c.nodesText(n)))
	case "info":
		return protocol.MakeBulkReply([]byte(n.c.infoText()))
	}
	return protocol.MakeErrReply("ERR unknown subcommand '" + sub + "'")
}

type slotRun struct {
	start, end int
	owner      *Node
}

// invoker should hold c.mu
func (c *Cluster) runs() []slotRun {
	var runs []slotRun
	for slot := 0; slot < cluster.SlotCount; slot++ {
		owner := c.owner[slot]
		if owner == nil {
			continue
		}
		if last := len(runs) - 1; last >= 0 && runs[last].owner == owner && runs[last].end == slot-1 {
			runs[last].end = slot
			continue
		}
		runs = append(runs, slotRun{start: slot, end: slot, owner: owner})
	}
	return runs
}

func nodeEntry(n *Node) redis.Reply {
	return protocol.MakeMultiRawReply([]redis.Reply{
		protocol.MakeBulkReply([]byte(n.host())),
		protocol.MakeIntReply(int64(n.port())),
		protocol.MakeBulkReply([]byte(n.ID)),
	})
}

// invoker should hold c.mu
func (c *Cluster) slotsReply() redis.Reply {
	var entries []redis.Reply
	for _, run := range c.runs() {
		entry := []redis.Reply{
			protocol.MakeIntReply(int64(run.start)),
			protocol.MakeIntReply(int64(run.end)),
			nodeEntry(run.owner),
		}
		for _, r := range c.nodes {
			if r.master == run.owner && !r.stopped {
				entry = append(entry, nodeEntry(r))
			}
		}
		entries = append(entries, protocol.MakeMultiRawReply(entry))
	}
	return protocol.MakeMultiRawReply(entries)
}

// invoker should hold c.mu
func (c *Cluster) nodesText(self *Node) string {
	runs := c.runs()
	now := time.Now().UnixMilli()
	var sb strings.Builder
	for _, n := range c.nodes {
		role := "master"
		masterID := "-"
		if n.master != nil {
			role = "slave"
			masterID = n.master.ID
		}
		flags := role
		if n == self {
			flags = "myself," + role
		}
		link := "connected"
		if n.stopped {
			flags += ",fail"
			link = "disconnected"
		}
		fmt.Fprintf(&sb, "%s %s@%d %s %s 0 %d %d %s", n.ID, n.Addr, n.port()+10000, flags, masterID, now, n.epoch, link)
		for _, run := range runs {
			if run.owner != n {
				continue
			}
			if run.start == run.end {
				fmt.Fprintf(&sb, " %d", run.start)
			} else {
				fmt.Fprintf(&sb, " %d-%d", run.start, run.end)
			}
		}
		for _, slot := range sortedSlots(c.migrating) {
			target := c.migrating[slot]
			if c.owner[slot] == n {
				fmt.Fprintf(&sb, " [%d->-%s]", slot, target.ID)
			}
			if target == n && c.owner[slot] != nil {
				fmt.Fprintf(&sb, " [%d-<-%s]", slot, c.owner[slot].ID)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func sortedSlots(m map[int]*Node) []int {
	slots := make([]int, 0, len(m))
	for slot := range m {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	return slots
}

// invoker should hold c.mu
func (c *Cluster) infoText() string {
	assigned := 0
	ok := 0
	for _, owner := range c.owner {
		if owner != nil {
			assigned++
			if !owner.stopped {
				ok++
			}
		}
	}
	state := "ok"
	if ok < cluster.SlotCount {
		state = "fail"
	}
	masters := make(map[*Node]struct{})
	for _, run := range c.runs() {
		masters[run.owner] = struct{}{}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "cluster_state:%s\r\n", state)
	fmt.Fprintf(&sb, "cluster_slots_assigned:%d\r\n", assigned)
	fmt.Fprintf(&sb, "cluster_slots_ok:%d\r\n", ok)
	fmt.Fprintf(&sb, "cluster_known_nodes:%d\r\n", len(c.nodes))
	if !c.omitClusterSize {
		fmt.Fprintf(&sb, "cluster_size:%d\r\n", len(masters))
	}
	fmt.Fprintf(&sb, "cluster_current_epoch:%d\r\n", c.epoch)
	return sb.String()
}
