package cluster_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodingCaius/godis-cluster/cluster"
	"github.com/CodingCaius/godis-cluster/cluster/clustertest"
	"github.com/CodingCaius/godis-cluster/config"
	promadapter "github.com/CodingCaius/godis-cluster/lib/metrics/prometheus"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

func newClient(t *testing.T, c *clustertest.Cluster, mutate func(*config.ClusterProperties), opts ...cluster.Option) *cluster.Client {
	t.Helper()
	props := config.Default()
	props.Timeout = time.Second
	if mutate != nil {
		mutate(props)
	}
	client, err := cluster.MakeClient(context.Background(), c.Seeds(), props, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// deadAddr returns an address nobody listens on
func deadAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// otherMaster returns a master different from n
func otherMaster(c *clustertest.Cluster, n *clustertest.Node) *clustertest.Node {
	for _, m := range c.Masters() {
		if m != n {
			return m
		}
	}
	return nil
}

func TestWellKnownCommandsWork(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	nodes := c.Nodes()
	_, port2, _ := net.SplitHostPort(nodes[2].Addr)
	_, port3, _ := net.SplitHostPort(nodes[3].Addr)
	port3Int, _ := strconv.Atoi(port3)
	seeds := []any{
		"redis://" + nodes[0].Addr,
		"redis://" + nodes[1].Addr,
		map[string]any{"host": "127.0.0.1", "port": port2},
		map[any]any{"host": "127.0.0.1", "port": port3Int},
		"redis://" + nodes[4].Addr,
		"redis://" + nodes[5].Addr,
	}
	ctx := context.Background()
	client, err := cluster.MakeClient(ctx, seeds, nil)
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, client.Set(ctx, strconv.Itoa(i), fmt.Sprintf("hogehoge%d", i)))
	}
	for i := 0; i < 100; i++ {
		value, err := client.Get(ctx, strconv.Itoa(i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("hogehoge%d", i), value)
	}
	// keys are spread over every shard
	for _, m := range c.Masters() {
		assert.NotEmpty(t, m.Keys())
	}

	info, err := client.ServerInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", info["cluster_enabled"])

	_, err = client.Get(ctx, "missing")
	assert.ErrorIs(t, err, cluster.ErrNil)
	n, err := client.Del(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClusterSlots(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)

	slots, err := client.Slots(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, 0, slots[0].Start)
	assert.Equal(t, cluster.SlotCount-1, slots[2].End)
	for _, r := range slots {
		assert.NotEmpty(t, r.Master.IP)
		assert.NotZero(t, r.Master.Port)
		assert.NotEmpty(t, r.Master.NodeID)
		require.NotEmpty(t, r.Replicas)
		for _, replica := range r.Replicas {
			assert.NotEmpty(t, replica.IP)
			assert.NotZero(t, replica.Port)
			assert.NotEmpty(t, replica.NodeID)
		}
	}

	raw, err := client.Cluster(context.Background(), "SLOTS")
	require.NoError(t, err)
	assert.Equal(t, slots, raw)
}

func TestClusterNodesAndSlaves(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)
	ctx := context.Background()

	nodes, err := client.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 6)
	var masterID string
	for _, n := range nodes {
		assert.NotEmpty(t, n.NodeID)
		assert.NotEmpty(t, n.IPPort)
		assert.NotEmpty(t, n.Flags)
		assert.NotEmpty(t, n.MasterNodeID)
		assert.NotZero(t, n.PongRecv)
		assert.NotZero(t, n.ConfigEpoch)
		assert.Equal(t, "connected", n.LinkState)
		if n.MasterNodeID == "-" {
			assert.NotEmpty(t, n.Slots)
			masterID = n.NodeID
		} else {
			assert.Empty(t, n.Slots)
		}
	}
	require.NotEmpty(t, masterID)

	slaves, err := client.Slaves(ctx, masterID)
	require.NoError(t, err)
	require.Len(t, slaves, 1)
	assert.Contains(t, slaves[0].Flags, "slave")
	assert.True(t, slaves[0].IsReplica())
	assert.Equal(t, masterID, slaves[0].MasterNodeID)

	_, err = client.Slaves(ctx, "0000000000000000000000000000000000000000")
	var unknown *cluster.UnknownNodeError
	assert.ErrorAs(t, err, &unknown)
}

func TestClusterInfo(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)

	info, err := client.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3", info["cluster_size"])
	assert.Equal(t, "ok", info["cluster_state"])

	// computed from the topology when the node leaves it out
	c.OmitClusterSize()
	raw, err := client.Cluster(context.Background(), "info")
	require.NoError(t, err)
	assert.Equal(t, "3", raw.(map[string]string)["cluster_size"])
}

func TestClusterKeyslot(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)
	ctx := context.Background()

	for _, key := range []string{"hogehoge", "12345", "antirez.is.cool"} {
		slot, err := client.Cluster(ctx, "keyslot", key)
		require.NoError(t, err)
		assert.Equal(t, cluster.Slot(key), slot)

		// same answer as the node itself
		reply, err := client.Do(ctx, "CLUSTER", "KEYSLOT", key)
		require.NoError(t, err)
		n, _ := protocol.ToInt(reply)
		assert.Equal(t, int64(cluster.Slot(key)), n)
	}
	assert.Equal(t, cluster.Slot("foo"), client.Keyslot("boo{foo}woo"))
}

func TestRefreshIsIdempotent(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)
	ctx := context.Background()

	first, err := client.Slots(ctx)
	require.NoError(t, err)
	generation := client.Topology().Generation()

	require.NoError(t, client.Refresh(ctx))
	second, err := client.Slots(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, generation+1, client.Topology().Generation())
}

func TestConcurrentRefreshIsCoalesced(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)
	ctx := context.Background()

	const callers = 50
	before := c.Calls("cluster|nodes")
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, client.Refresh(ctx))
		}()
	}
	close(start)
	wg.Wait()
	fetched := c.Calls("cluster|nodes") - before
	assert.GreaterOrEqual(t, fetched, int64(1))
	assert.Less(t, fetched, int64(callers))
}

func TestConstructionToleratesUnreachableSeed(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	dead := deadAddr(t)
	seeds := []string{"redis://" + c.Nodes()[0].Addr, "redis://" + dead}
	client, err := cluster.MakeClient(context.Background(), seeds, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "a", "b"))
	assert.False(t, client.Reachable(dead))
	assert.True(t, client.Reachable(c.Nodes()[0].Addr))
}

func TestConstructionFailsWithoutReachableSeed(t *testing.T) {
	seeds := []string{"redis://" + deadAddr(t)}
	_, err := cluster.MakeClient(context.Background(), seeds, nil)
	assert.ErrorIs(t, err, cluster.ErrClusterUnreachable)
	assert.Equal(t, "could not connect to any nodes", err.Error())
}

func TestConstructionRejectsDBPath(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	seeds := []string{"redis://" + c.Nodes()[0].Addr + "/1/namespace"}
	_, err := cluster.MakeClient(context.Background(), seeds, nil)
	var serverErr *cluster.ServerCommandError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "ERR SELECT is not allowed in cluster mode", err.Error())
}

func TestConstructionValidatesConfig(t *testing.T) {
	ctx := context.Background()
	var schemeErr *cluster.InvalidURISchemeError
	_, err := cluster.MakeClient(ctx, []string{"http://127.0.0.1:80"}, nil)
	require.ErrorAs(t, err, &schemeErr)
	assert.Equal(t, "http", schemeErr.Scheme)

	for _, entry := range []any{"", true, nil, []any{}} {
		_, err = cluster.MakeClient(ctx, []any{entry}, nil)
		require.ErrorAs(t, err, &schemeErr)
		assert.Equal(t, "", schemeErr.Scheme)
	}

	var missing *cluster.MissingKeyError
	_, err = cluster.MakeClient(ctx, []any{map[string]any{}}, nil)
	assert.ErrorAs(t, err, &missing)

	var unsupported *cluster.UnsupportedNodeConfigTypeError
	_, err = cluster.MakeClient(ctx, []any{struct{}{}}, nil)
	assert.ErrorAs(t, err, &unsupported)

	var typeErr *cluster.InvalidConfigTypeError
	_, err = cluster.MakeClient(ctx, "not_array", nil)
	assert.ErrorAs(t, err, &typeErr)
}

func TestSelectIsRejectedByServer(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)

	_, err := client.Do(context.Background(), "SELECT", "1")
	var serverErr *cluster.ServerCommandError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "ERR SELECT is not allowed in cluster mode", serverErr.Msg)
}

func TestUnsupportedCommand(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)
	before := c.Calls("not_yet_implemented_command")

	assert.True(t, client.Supports("set"))
	assert.True(t, client.Supports("GET"))
	assert.False(t, client.Supports("unknown_method"))

	_, err := client.Do(context.Background(), "not_yet_implemented_command", "boo", "foo")
	var unsupported *cluster.UnsupportedCommandError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "not_yet_implemented_command", unsupported.Name)
	assert.Equal(t, before, c.Calls("not_yet_implemented_command"))
}

func TestCrossSlot(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)
	ctx := context.Background()
	require.NotEqual(t, cluster.Slot("a"), cluster.Slot("b"))

	_, err := client.Do(ctx, "MGET", "a", "b")
	var crossSlot *cluster.CrossSlotError
	assert.ErrorAs(t, err, &crossSlot)

	require.NoError(t, client.Set(ctx, "{user}a", "1"))
	require.NoError(t, client.Set(ctx, "{user}b", "2"))
	reply, err := client.Do(ctx, "MGET", "{user}a", "{user}b", "{user}c")
	require.NoError(t, err)
	items, ok := protocol.ToArray(reply)
	require.True(t, ok)
	require.Len(t, items, 3)
	first, _ := protocol.ToString(items[0])
	assert.Equal(t, "1", first)
	_, ok = protocol.ToString(items[2])
	assert.False(t, ok)

	n, err := client.Del(ctx, "{user}a", "{user}b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMovedPatchesTopology(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	reg := prometheus.NewRegistry()
	client := newClient(t, c, nil, cluster.WithMetrics(promadapter.NewClusterMetrics(reg)))
	ctx := context.Background()

	key := "moved-key"
	slot := cluster.Slot(key)
	require.NoError(t, client.Set(ctx, key, "v1"))
	owner := c.Owner(slot)
	target := otherMaster(c, owner)
	c.MoveSlot(slot, target)
	refreshes := c.Calls("cluster|nodes")

	value, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v1", value)

	r, ok := client.Topology().Lookup(slot)
	require.True(t, ok)
	assert.Equal(t, target.Addr, r.Master.Addr())
	// the target was known, no full refresh was needed
	assert.Equal(t, refreshes, c.Calls("cluster|nodes"))

	// the next command goes straight to the new owner
	getsOnOwner := owner.Calls("get")
	_, err = client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, getsOnOwner, owner.Calls("get"))

	count, err := testutil.GatherAndCount(reg, "godis_cluster_redirects_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReshardConvergesToFullRefresh(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)
	ctx := context.Background()

	from := c.Masters()[0]
	to := c.Masters()[1]
	var keys []string
	for i := 0; len(keys) < 200; i++ {
		key := "reshard:" + strconv.Itoa(i)
		if c.Owner(cluster.Slot(key)) == from {
			keys = append(keys, key)
		}
	}
	for slot := 0; slot < cluster.SlotCount; slot++ {
		if c.Owner(slot) == from {
			c.MoveSlot(slot, to)
		}
	}
	generation := client.Topology().Generation()
	refreshes := c.Calls("cluster|nodes")

	for _, key := range keys {
		_, err := client.Do(ctx, "GET", key)
		require.NoError(t, err)
	}

	topo := client.Topology()
	assert.Equal(t, generation+1, topo.Generation())
	assert.Equal(t, refreshes+1, c.Calls("cluster|nodes"))
	assert.Len(t, topo.Ranges(), 2)
	assert.Equal(t, 2, topo.Size())
	for _, m := range topo.Masters() {
		assert.NotEqual(t, from.Addr, m.Addr())
	}
}

func TestAskDoesNotChangeTopology(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)
	ctx := context.Background()

	oldKey, newKey := "{ask}old", "{ask}new"
	slot := cluster.Slot("ask")
	require.NoError(t, client.Set(ctx, oldKey, "old"))
	owner := c.Owner(slot)
	target := otherMaster(c, owner)
	c.MigrateSlot(slot, target)

	require.NoError(t, client.Set(ctx, newKey, "new"))
	assert.Contains(t, target.Keys(), newKey)
	assert.NotContains(t, owner.Keys(), newKey)
	assert.GreaterOrEqual(t, target.Calls("asking"), int64(1))

	value, err := client.Get(ctx, newKey)
	require.NoError(t, err)
	assert.Equal(t, "new", value)
	value, err = client.Get(ctx, oldKey)
	require.NoError(t, err)
	assert.Equal(t, "old", value)

	r, ok := client.Topology().Lookup(slot)
	require.True(t, ok)
	assert.Equal(t, owner.Addr, r.Master.Addr())

	c.FinishMigration(slot)
	value, err = client.Get(ctx, oldKey)
	require.NoError(t, err)
	assert.Equal(t, "old", value)
	r, _ = client.Topology().Lookup(slot)
	assert.Equal(t, target.Addr, r.Master.Addr())
}

func TestFailover(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)
	ctx := context.Background()

	key := "failover-key"
	require.NoError(t, client.Set(ctx, key, "v"))
	owner := c.Owner(cluster.Slot(key))
	promoted := c.Failover(owner)
	require.NotNil(t, promoted)

	value, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v", value)
	r, _ := client.Topology().Lookup(cluster.Slot(key))
	assert.Equal(t, promoted.Addr, r.Master.Addr())
	assert.False(t, client.Reachable(owner.Addr))
}

func TestCannotConnect(t *testing.T) {
	c := clustertest.New(t, 2, 0)
	client := newClient(t, c, nil)
	ctx := context.Background()

	key := "lost-key"
	owner := c.Owner(cluster.Slot(key))
	owner.Stop()

	_, err := client.Get(ctx, key)
	var cannotConnect *cluster.CannotConnectError
	require.ErrorAs(t, err, &cannotConnect)
	assert.Equal(t, owner.Addr, cannotConnect.Addr)

	// other shards keep working
	other := otherMaster(c, owner)
	var otherKey string
	for i := 0; ; i++ {
		otherKey = "k" + strconv.Itoa(i)
		if c.Owner(cluster.Slot(otherKey)) == other {
			break
		}
	}
	require.NoError(t, client.Set(ctx, otherKey, "ok"))
}

func TestCannotConnectAfterRedirects(t *testing.T) {
	c := clustertest.New(t, 3, 0)
	client := newClient(t, c, func(p *config.ClusterProperties) {
		p.RetryCount = 1
	})
	ctx := context.Background()

	key := "redirected-lost-key"
	slot := cluster.Slot(key)
	target := otherMaster(c, c.Owner(slot))
	c.MoveSlot(slot, target)
	target.Stop()

	// MOVED uses the whole redirect budget, the reconnect retry still happens
	_, err := client.Get(ctx, key)
	var cannotConnect *cluster.CannotConnectError
	require.ErrorAs(t, err, &cannotConnect)
	assert.Equal(t, target.Addr, cannotConnect.Addr)
	assert.NotErrorIs(t, err, cluster.ErrTooManyRedirects)
}

func TestUseReplicas(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, func(p *config.ClusterProperties) {
		p.UseReplicas = true
	})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, client.Set(ctx, strconv.Itoa(i), "v"))
	}
	var masterGets int64
	for _, m := range c.Masters() {
		masterGets += m.Calls("get")
	}
	for i := 0; i < 20; i++ {
		value, err := client.Get(ctx, strconv.Itoa(i))
		require.NoError(t, err)
		assert.Equal(t, "v", value)
	}
	var replicaGets, afterMasterGets int64
	for _, m := range c.Masters() {
		afterMasterGets += m.Calls("get")
		for _, r := range m.Replicas() {
			replicaGets += r.Calls("get")
		}
	}
	assert.Equal(t, int64(20), replicaGets)
	assert.Equal(t, masterGets, afterMasterGets)
	assert.Positive(t, c.Calls("readonly"))
}

func TestReplicaReadsFromContext(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, client.Set(ctx, strconv.Itoa(i), "v"))
	}
	assert.Zero(t, c.Calls("readonly"))

	readCtx := cluster.WithReplicaReads(ctx, true)
	for i := 0; i < 20; i++ {
		value, err := client.Get(readCtx, strconv.Itoa(i))
		require.NoError(t, err)
		assert.Equal(t, "v", value)
	}
	var replicaGets int64
	for _, m := range c.Masters() {
		for _, r := range m.Replicas() {
			replicaGets += r.Calls("get")
		}
	}
	assert.Equal(t, int64(20), replicaGets)
	assert.Positive(t, c.Calls("readonly"))

	// writes still go to masters
	require.NoError(t, client.Set(readCtx, "0", "w"))
	value, err := client.Get(ctx, "0")
	require.NoError(t, err)
	assert.Equal(t, "w", value)
}

func TestForEachMaster(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		require.NoError(t, client.Set(ctx, "key:"+strconv.Itoa(i), "v"))
	}

	var total int64
	masters := 0
	err := client.ForEachMaster(ctx, func(ctx context.Context, master cluster.NodeRef) error {
		masters++
		reply, err := client.DoNode(ctx, master.Addr(), "DBSIZE")
		if err != nil {
			return err
		}
		n, _ := protocol.ToInt(reply)
		total += n
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, masters)
	assert.Equal(t, int64(30), total)

	boom := errors.New("boom")
	err = client.ForEachMaster(ctx, func(context.Context, cluster.NodeRef) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestDoNodeByID(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)
	ctx := context.Background()

	key := "node-id-key"
	require.NoError(t, client.Set(ctx, key, "v"))
	owner := c.Owner(cluster.Slot(key))

	reply, err := client.DoNode(ctx, owner.ID, "GET", key)
	require.NoError(t, err)
	value, _ := protocol.ToString(reply)
	assert.Equal(t, "v", value)

	_, err = client.DoNode(ctx, "0000000000000000000000000000000000000000", "PING")
	var unknown *cluster.UnknownNodeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "0000000000000000000000000000000000000000", unknown.NodeID)

	require.NoError(t, client.Invalidate(ctx, owner.ID))
	reply, err = client.DoNode(ctx, owner.ID, "GET", key)
	require.NoError(t, err)
	value, _ = protocol.ToString(reply)
	assert.Equal(t, "v", value)
	assert.ErrorAs(t, client.Invalidate(ctx, "missing"), &unknown)
}

func TestCancelledContext(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Do(ctx, "GET", "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentCommands(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, func(p *config.ClusterProperties) {
		p.PoolMaxActive = 4
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				key := fmt.Sprintf("w%d:%d", w, i)
				if !assert.NoError(t, client.Set(ctx, key, key)) {
					return
				}
				value, err := client.Get(ctx, key)
				assert.NoError(t, err)
				assert.Equal(t, key, value)
			}
		}(w)
	}
	wg.Wait()
}

func TestPeriodicRefresh(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c, func(p *config.ClusterProperties) {
		p.RefreshInterval = 200 * time.Millisecond
	})

	slot := cluster.Slot("periodic")
	owner := c.Owner(slot)
	target := otherMaster(c, owner)
	c.MoveSlot(slot, target)

	// picked up without any command being redirected
	assert.Eventually(t, func() bool {
		r, ok := client.Topology().Lookup(slot)
		return ok && r.Master.Addr() == target.Addr
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, client.Close())
	// let a refresh already in flight finish
	time.Sleep(100 * time.Millisecond)
	generation := client.Topology().Generation()
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, generation, client.Topology().Generation())
	// closing twice is harmless
	require.NoError(t, client.Close())
}
