package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodingCaius/godis-cluster/lib/utils"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

func TestSupports(t *testing.T) {
	assert.True(t, Supports("set"))
	assert.True(t, Supports("SET"))
	assert.True(t, Supports("get"))
	assert.True(t, Supports("Get"))
	assert.False(t, Supports("unknown_method"))
	assert.False(t, Supports("not_yet_implemented_command"))
}

func TestCommandKeys(t *testing.T) {
	cases := []struct {
		cmdLine []string
		keys    []string
	}{
		{[]string{"GET", "a"}, []string{"a"}},
		{[]string{"SET", "a", "1", "EX", "10"}, []string{"a"}},
		{[]string{"MGET", "a", "b", "c"}, []string{"a", "b", "c"}},
		{[]string{"MSET", "a", "1", "b", "2"}, []string{"a", "b"}},
		{[]string{"RENAME", "a", "b"}, []string{"a", "b"}},
		{[]string{"EVAL", "return 1", "2", "k1", "k2", "arg"}, []string{"k1", "k2"}},
		{[]string{"EVAL", "return 1", "0"}, []string{}},
		{[]string{"PING"}, nil},
		{[]string{"SELECT", "1"}, nil},
	}
	for _, c := range cases {
		cmd, ok := lookupCommand(c.cmdLine[0])
		require.True(t, ok, c.cmdLine[0])
		cmdLine := utils.ToCmdLine(c.cmdLine...)
		require.True(t, cmd.validateArity(cmdLine), c.cmdLine)
		keys, err := cmd.keys(cmdLine)
		require.NoError(t, err)
		assert.Equal(t, c.keys, keys, c.cmdLine)
	}

	cmd, _ := lookupCommand("eval")
	_, err := cmd.keys(utils.ToCmdLine("EVAL", "s", "3", "k1"))
	assert.Error(t, err)
}

func TestValidateArity(t *testing.T) {
	get, _ := lookupCommand("get")
	assert.False(t, get.validateArity(utils.ToCmdLine("GET")))
	assert.False(t, get.validateArity(utils.ToCmdLine("GET", "a", "b")))
	mget, _ := lookupCommand("mget")
	assert.False(t, mget.validateArity(utils.ToCmdLine("MGET")))
	assert.True(t, mget.validateArity(utils.ToCmdLine("MGET", "a", "b")))
}

func TestReadOnlyCommands(t *testing.T) {
	for name, want := range map[string]bool{"get": true, "MGET": true, "set": false, "eval": false} {
		cmd, ok := lookupCommand(name)
		require.True(t, ok, name)
		assert.Equal(t, want, cmd.readOnly(), name)
	}
}

func TestCommandInfo(t *testing.T) {
	reply := CommandInfo("get", "nope")
	items, ok := protocol.ToArray(reply)
	require.True(t, ok)
	require.Len(t, items, 2)
	desc, ok := protocol.ToArray(items[0])
	require.True(t, ok)
	name, _ := protocol.ToString(desc[0])
	assert.Equal(t, "get", name)
	arity, _ := protocol.ToInt(desc[1])
	assert.Equal(t, int64(2), arity)
	assert.Equal(t, protocol.MakeNullBulkReply(), items[1])

	all, ok := protocol.ToArray(CommandInfo())
	require.True(t, ok)
	assert.Len(t, all, len(cmdTable))
}

func TestParseRedirect(t *testing.T) {
	rd, ok := parseRedirect("MOVED 3999 127.0.0.1:6381", "127.0.0.1:6379")
	require.True(t, ok)
	assert.Equal(t, redirect{kind: redirectMoved, slot: 3999, addr: "127.0.0.1:6381"}, rd)

	rd, ok = parseRedirect("ASK 3999 127.0.0.1:6381", "127.0.0.1:6379")
	require.True(t, ok)
	assert.Equal(t, redirectAsk, rd.kind)

	// empty host is the replying node's host
	rd, ok = parseRedirect("MOVED 1 :7000", "10.0.0.1:6379")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:7000", rd.addr)

	for _, msg := range []string{"ERR foo", "MOVED x 127.0.0.1:1", "MOVED 16384 h:1", "ASK 1", "TRYAGAIN Multiple keys request during rehashing of slot"} {
		_, ok = parseRedirect(msg, "h:1")
		assert.False(t, ok, msg)
	}
	assert.True(t, isTransientError("TRYAGAIN Multiple keys request during rehashing of slot"))
	assert.True(t, isTransientError("CLUSTERDOWN The cluster is down"))
	assert.False(t, isTransientError("ERR x"))
}
