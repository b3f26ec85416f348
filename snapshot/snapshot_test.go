package snapshot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodingCaius/godis-cluster/cluster"
	"github.com/CodingCaius/godis-cluster/cluster/clustertest"
	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

func newClient(t *testing.T, c *clustertest.Cluster) *cluster.Client {
	t.Helper()
	client, err := cluster.MakeClient(context.Background(), c.Seeds(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func loadAll(t *testing.T, data []byte) map[string]string {
	t.Helper()
	result := make(map[string]string)
	err := Load(bytes.NewReader(data), func(key string, value []byte, expireAt *time.Time) error {
		assert.Nil(t, expireAt)
		result[key] = string(value)
		return nil
	})
	require.NoError(t, err)
	return result
}

func TestExportAndLoad(t *testing.T) {
	c := clustertest.New(t, 3, 1)
	client := newClient(t, c)
	ctx := context.Background()
	want := make(map[string]string)
	for i := 0; i < 50; i++ {
		key := "user:" + strconv.Itoa(i)
		want[key] = "value" + strconv.Itoa(i)
		require.NoError(t, client.Set(ctx, key, want[key]))
	}
	require.NoError(t, client.Set(ctx, "other", "x"))

	var buf bytes.Buffer
	stats, err := Export(ctx, client, &buf, Options{Match: "user:*"})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Masters)
	assert.Equal(t, 50, stats.Keys)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, want, loadAll(t, buf.Bytes()))
}

func TestExportFileAndRestore(t *testing.T) {
	src := clustertest.New(t, 3, 1)
	srcClient := newClient(t, src)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, srcClient.Set(ctx, "k"+strconv.Itoa(i), "v"+strconv.Itoa(i)))
	}

	filename := filepath.Join(t.TempDir(), "dump.rdb")
	stats, err := ExportFile(ctx, srcClient, filename, Options{})
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Keys)
	entries, err := os.ReadDir(filepath.Dir(filename))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is renamed")

	dst := clustertest.New(t, 2, 0)
	dstClient := newClient(t, dst)
	file, err := os.Open(filename)
	require.NoError(t, err)
	defer file.Close()
	n, err := Restore(ctx, dstClient, file)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	for i := 0; i < 20; i++ {
		value, err := dstClient.Get(ctx, "k"+strconv.Itoa(i))
		require.NoError(t, err)
		assert.Equal(t, "v"+strconv.Itoa(i), value)
	}
}

func TestEncodeWithTTL(t *testing.T) {
	expireAt := time.Now().Add(time.Hour).UnixMilli()
	var buf bytes.Buffer
	require.NoError(t, encode(&buf, []entry{
		{key: "a", value: []byte("1")},
		{key: "b", value: []byte("2"), expireAt: expireAt},
	}))

	expirations := make(map[string]*time.Time)
	err := Load(&buf, func(key string, value []byte, exp *time.Time) error {
		expirations[key] = exp
		return nil
	})
	require.NoError(t, err)
	require.Len(t, expirations, 2)
	assert.Nil(t, expirations["a"])
	require.NotNil(t, expirations["b"])
	assert.Equal(t, expireAt, expirations["b"].UnixMilli())
}

func TestParseScanReplyRejectsGarbage(t *testing.T) {
	_, _, err := parseScanReply(nil)
	assert.Error(t, err)
	_, _, err = parseScanReply(protocol.MakeIntReply(1))
	assert.Error(t, err)

	cursor, keys, err := parseScanReply(protocol.MakeMultiRawReply([]redis.Reply{
		protocol.MakeBulkReply([]byte("17")),
		protocol.MakeMultiBulkReply([][]byte{[]byte("a"), []byte("b")}),
	}))
	require.NoError(t, err)
	assert.Equal(t, "17", cursor)
	assert.Equal(t, []string{"a", "b"}, keys)
}
