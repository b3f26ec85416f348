package cluster

// 集群自省：slots / nodes / slaves / info / keyslot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/CodingCaius/godis-cluster/lib/utils"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

// Slots returns the slot ranges sorted by start slot
func (c *Client) Slots(ctx context.Context) ([]SlotRange, error) {
	t, err := c.router.ensureTopology(ctx)
	if err != nil {
		return nil, err
	}
	return t.Ranges(), nil
}

// Nodes returns every node record of the current topology
func (c *Client) Nodes(ctx context.Context) ([]NodeRecord, error) {
	t, err := c.router.ensureTopology(ctx)
	if err != nil {
		return nil, err
	}
	return copyRecords(t.Nodes(), nil), nil
}

// Slaves returns the replicas of the master masterID
func (c *Client) Slaves(ctx context.Context, masterID string) ([]NodeRecord, error) {
	t, err := c.router.ensureTopology(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := t.Node(masterID); !ok {
		return nil, &UnknownNodeError{NodeID: masterID}
	}
	return copyRecords(t.Nodes(), func(r *NodeRecord) bool {
		return r.MasterNodeID == masterID && r.IsReplica()
	}), nil
}

func copyRecords(records []*NodeRecord, filter func(*NodeRecord) bool) []NodeRecord {
	result := make([]NodeRecord, 0, len(records))
	for _, r := range records {
		if filter != nil && !filter(r) {
			continue
		}
		cp := *r
		cp.Flags = slices.Clone(r.Flags)
		cp.Slots = slices.Clone(r.Slots)
		result = append(result, cp)
	}
	return result
}

// Info returns CLUSTER INFO of any master. cluster_size is always present.
func (c *Client) Info(ctx context.Context) (map[string]string, error) {
	reply, err := c.Do(ctx, "CLUSTER", "INFO")
	if err != nil {
		return nil, err
	}
	text, ok := protocol.ToString(reply)
	if !ok {
		return nil, fmt.Errorf("cluster info: unexpected reply %q", reply.ToBytes())
	}
	info := parseInfo(text)
	if _, ok := info["cluster_size"]; !ok {
		info["cluster_size"] = strconv.Itoa(c.router.snapshot().Size())
	}
	return info, nil
}

// ServerInfo returns INFO of any master as a flat map
func (c *Client) ServerInfo(ctx context.Context, sections ...string) (map[string]string, error) {
	reply, err := c.Exec(ctx, utils.ToCmdLine2("INFO", sections...))
	if err != nil {
		return nil, err
	}
	text, ok := protocol.ToString(reply)
	if !ok {
		return nil, fmt.Errorf("info: unexpected reply %q", reply.ToBytes())
	}
	return parseInfo(text), nil
}

// Keyslot returns the slot of key
func (c *Client) Keyslot(key string) int {
	return Slot(key)
}

// Cluster dispatches a CLUSTER sub-command by name. slots, nodes, slaves, info and keyslot
// return structured results; other sub-commands are sent to any master and return the raw reply.
func (c *Client) Cluster(ctx context.Context, sub string, args ...string) (any, error) {
	switch strings.ToLower(sub) {
	case "slots":
		return c.Slots(ctx)
	case "nodes":
		return c.Nodes(ctx)
	case "slaves", "replicas":
		if len(args) != 1 {
			return nil, &ServerCommandError{Msg: "ERR wrong number of arguments for 'cluster|" + strings.ToLower(sub) + "' command"}
		}
		return c.Slaves(ctx, args[0])
	case "info":
		return c.Info(ctx)
	case "keyslot":
		if len(args) != 1 {
			return nil, &ServerCommandError{Msg: "ERR wrong number of arguments for 'cluster|keyslot' command"}
		}
		return c.Keyslot(args[0]), nil
	}
	return c.Exec(ctx, utils.ToCmdLine2("CLUSTER", append([]string{sub}, args...)...))
}
