package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/CodingCaius/godis-cluster/cluster"
	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

func TestFormatReply(t *testing.T) {
	assert.Equal(t, "OK\n", formatReply(protocol.MakeOkReply()))
	assert.Equal(t, "(integer) 3\n", formatReply(protocol.MakeIntReply(3)))
	assert.Equal(t, "\"bar\"\n", formatReply(protocol.MakeBulkReply([]byte("bar"))))
	assert.Equal(t, "(nil)\n", formatReply(protocol.MakeNullBulkReply()))
	assert.Equal(t, "(error) ERR boom\n", formatReply(protocol.MakeErrReply("ERR boom")))
	assert.Equal(t, "(empty array)\n", formatReply(protocol.MakeEmptyMultiBulkReply()))

	nested := protocol.MakeMultiRawReply([]redis.Reply{
		protocol.MakeBulkReply([]byte("0")),
		protocol.MakeMultiBulkReply([][]byte{[]byte("a"), []byte("b")}),
	})
	assert.Equal(t, "1) \"0\"\n2) 1) \"a\"\n   2) \"b\"\n", formatReply(nested))
}

func TestPrintSlotsAndNodes(t *testing.T) {
	master := cluster.NodeRef{IP: "127.0.0.1", Port: 7000, NodeID: "m1"}
	replica := cluster.NodeRef{IP: "127.0.0.1", Port: 7001, NodeID: "r1"}
	var buf bytes.Buffer
	printSlots(&buf, []cluster.SlotRange{{Start: 0, End: 16383, Master: master, Replicas: []cluster.NodeRef{replica}}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[1], "0-16383")
	assert.Contains(t, lines[1], "127.0.0.1:7001")

	now := time.Now()
	buf.Reset()
	printNodes(&buf, []cluster.NodeRecord{{
		NodeID: "m1", IPPort: "127.0.0.1:7000@17000", Flags: []string{"myself", "master"}, MasterNodeID: "-",
		PongRecv: now.Add(-time.Minute).UnixMilli(), ConfigEpoch: 1, LinkState: "connected", Slots: []string{"0-16383"},
	}}, now)
	assert.Contains(t, buf.String(), "1 minute ago")
	assert.Contains(t, buf.String(), "myself,master")
}
