package cluster

// 解析 CLUSTER SLOTS / CLUSTER NODES / CLUSTER INFO 的返回结果

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

// parseClusterSlots parses the nested reply of CLUSTER SLOTS:
// [[start, end, [ip, port, id, ...], replica...], ...]
// An empty ip means the node that answered, whose host is queriedHost.
func parseClusterSlots(reply redis.Reply, queriedHost string) ([]SlotRange, error) {
	entries, ok := protocol.ToArray(reply)
	if !ok {
		return nil, fmt.Errorf("cluster slots: unexpected reply %q", reply.ToBytes())
	}
	ranges := make([]SlotRange, 0, len(entries))
	for _, raw := range entries {
		entry, ok := protocol.ToArray(raw)
		if !ok || len(entry) < 3 {
			return nil, fmt.Errorf("cluster slots: malformed entry %q", raw.ToBytes())
		}
		start, ok1 := protocol.ToInt(entry[0])
		end, ok2 := protocol.ToInt(entry[1])
		if !ok1 || !ok2 || start < 0 || end >= SlotCount || start > end {
			return nil, fmt.Errorf("cluster slots: bad range in %q", raw.ToBytes())
		}
		r := SlotRange{Start: int(start), End: int(end)}
		for i, rawNode := range entry[2:] {
			node, err := parseSlotsNode(rawNode, queriedHost)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				r.Master = node
			} else {
				r.Replicas = append(r.Replicas, node)
			}
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func parseSlotsNode(raw redis.Reply, queriedHost string) (NodeRef, error) {
	fields, ok := protocol.ToArray(raw)
	if !ok || len(fields) < 2 {
		return NodeRef{}, fmt.Errorf("cluster slots: malformed node %q", raw.ToBytes())
	}
	ip, _ := protocol.ToString(fields[0])
	if ip == "" || ip == "?" {
		ip = queriedHost
	}
	port, ok := protocol.ToInt(fields[1])
	if !ok {
		return NodeRef{}, fmt.Errorf("cluster slots: bad port in %q", raw.ToBytes())
	}
	ref := NodeRef{IP: ip, Port: int(port)}
	// node id is missing before redis 4.0
	if len(fields) > 2 {
		ref.NodeID, _ = protocol.ToString(fields[2])
	}
	return ref, nil
}

// parseClusterNodes parses the text of CLUSTER NODES, one node per line:
// <id> <ip:port@cport[,hostname]> <flags> <master> <ping-sent> <pong-recv> <config-epoch> <link-state> <slot> <slot> ...
func parseClusterNodes(text string, queriedHost string) ([]*NodeRecord, error) {
	var records []*NodeRecord
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			return nil, fmt.Errorf("cluster nodes: malformed line %q", line)
		}
		record := &NodeRecord{
			NodeID:       fields[0],
			Flags:        strings.Split(fields[2], ","),
			MasterNodeID: fields[3],
			LinkState:    fields[7],
			Slots:        make([]string, 0, len(fields)-8),
		}
		// drop the hostname announced by redis 7
		ipPort, _, _ := strings.Cut(fields[1], ",")
		if strings.HasPrefix(ipPort, ":") && record.HasFlag("myself") {
			ipPort = queriedHost + ipPort
		}
		record.IPPort = ipPort

		var err error
		if record.PingSent, err = strconv.ParseInt(fields[4], 10, 64); err != nil {
			return nil, fmt.Errorf("cluster nodes: bad ping-sent in %q", line)
		}
		if record.PongRecv, err = strconv.ParseInt(fields[5], 10, 64); err != nil {
			return nil, fmt.Errorf("cluster nodes: bad pong-recv in %q", line)
		}
		if record.ConfigEpoch, err = strconv.ParseInt(fields[6], 10, 64); err != nil {
			return nil, fmt.Errorf("cluster nodes: bad config-epoch in %q", line)
		}
		for _, spec := range fields[8:] {
			if _, _, _, err := parseSlotSpec(spec); err != nil {
				return nil, fmt.Errorf("cluster nodes: %w in %q", err, line)
			}
			record.Slots = append(record.Slots, spec)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// parseSlotSpec parses "n", "a-b" or a migration marker "[n->-id]" / "[n-<-id]".
// Migration markers report migrating = true and own no slots.
func parseSlotSpec(spec string) (start, end int, migrating bool, err error) {
	if strings.HasPrefix(spec, "[") {
		if !strings.HasSuffix(spec, "]") {
			return 0, 0, false, fmt.Errorf("bad slot spec '%s'", spec)
		}
		return 0, 0, true, nil
	}
	lo, hi, isRange := strings.Cut(spec, "-")
	start, err = strconv.Atoi(lo)
	if err != nil {
		return 0, 0, false, fmt.Errorf("bad slot spec '%s'", spec)
	}
	end = start
	if isRange {
		end, err = strconv.Atoi(hi)
		if err != nil {
			return 0, 0, false, fmt.Errorf("bad slot spec '%s'", spec)
		}
	}
	if start < 0 || end >= SlotCount || start > end {
		return 0, 0, false, fmt.Errorf("slot spec '%s' out of range", spec)
	}
	return start, end, false, nil
}

// rangesFromNodes derives slot ranges from CLUSTER NODES records, for nodes that do not answer CLUSTER SLOTS
func rangesFromNodes(records []*NodeRecord) []SlotRange {
	replicas := make(map[string][]NodeRef)
	for _, r := range records {
		if r.IsReplica() && !r.Failing() {
			if ref, ok := r.ref(); ok {
				replicas[r.MasterNodeID] = append(replicas[r.MasterNodeID], ref)
			}
		}
	}
	var ranges []SlotRange
	for _, r := range records {
		if !r.IsMaster() {
			continue
		}
		master, ok := r.ref()
		if !ok {
			continue
		}
		for _, spec := range r.Slots {
			start, end, migrating, err := parseSlotSpec(spec)
			if err != nil || migrating {
				continue
			}
			ranges = append(ranges, SlotRange{
				Start:    start,
				End:      end,
				Master:   master,
				Replicas: replicas[r.NodeID],
			})
		}
	}
	return ranges
}

func (r *NodeRecord) ref() (NodeRef, bool) {
	host, portStr, err := net.SplitHostPort(r.Addr())
	if err != nil || host == "" {
		return NodeRef{}, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port == 0 {
		return NodeRef{}, false
	}
	return NodeRef{IP: host, Port: port, NodeID: r.NodeID}, true
}

// parseInfo parses "key:value" lines as returned by INFO and CLUSTER INFO, '#' lines are section headers
func parseInfo(text string) map[string]string {
	result := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		if key, value, ok := strings.Cut(line, ":"); ok {
			result[key] = value
		}
	}
	return result
}
