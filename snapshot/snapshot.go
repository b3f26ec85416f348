// Package snapshot dumps the string keys of a cluster into an RDB file and loads them back.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	rdb "github.com/hdt3213/rdb/encoder"
	rdbparser "github.com/hdt3213/rdb/parser"

	"github.com/CodingCaius/godis-cluster/cluster"
	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/lib/logger"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

// 导出时逐个 master 执行 SCAN，只导出 string 类型的 key。
// RDB 的 db header 需要事先知道 key 数量，所以先把数据收集到内存再编码。

const defaultScanCount = 100

// Source is the part of *cluster.Client an export reads from
type Source interface {
	ForEachMaster(ctx context.Context, fn func(ctx context.Context, master cluster.NodeRef) error) error
	DoNode(ctx context.Context, addr string, args ...string) (redis.Reply, error)
}

// Target is the part of *cluster.Client a restore writes to
type Target interface {
	Do(ctx context.Context, args ...string) (redis.Reply, error)
}

// Options of Export
type Options struct {
	// Match is a SCAN MATCH pattern, empty means every key
	Match string
	// Count is the SCAN COUNT hint
	Count int
}

// Stats summarizes an export
type Stats struct {
	Masters int
	Keys    int
	// keys that are not strings or vanished while exporting
	Skipped int
}

type entry struct {
	key      string
	value    []byte
	expireAt int64 // unix ms, 0 means no ttl
}

// Export writes every matching string key of the cluster to w in RDB format
func Export(ctx context.Context, src Source, w io.Writer, opts Options) (*Stats, error) {
	if opts.Count <= 0 {
		opts.Count = defaultScanCount
	}
	stats := &Stats{}
	var entries []entry
	err := src.ForEachMaster(ctx, func(ctx context.Context, master cluster.NodeRef) error {
		stats.Masters++
		got, skipped, err := dumpNode(ctx, src, master.Addr(), opts)
		if err != nil {
			return fmt.Errorf("export %s: %w", master.Addr(), err)
		}
		entries = append(entries, got...)
		stats.Skipped += skipped
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := encode(w, entries); err != nil {
		return nil, err
	}
	stats.Keys = len(entries)
	return stats, nil
}

// ExportFile exports into filename atomically: the data goes to a temp file which is renamed at last
func ExportFile(ctx context.Context, src Source, filename string, opts Options) (*Stats, error) {
	tmp, err := os.CreateTemp(filepath.Dir(filename), "*.rdb.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp rdb failed: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	stats, err := Export(ctx, src, tmp, opts)
	if err != nil {
		_ = tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return nil, err
	}
	logger.Infof("exported %d keys from %d masters to %s", stats.Keys, stats.Masters, filename)
	return stats, nil
}

func dumpNode(ctx context.Context, src Source, addr string, opts Options) ([]entry, int, error) {
	var (
		entries []entry
		skipped int
	)
	cursor := "0"
	for {
		args := []string{"SCAN", cursor, "COUNT", strconv.Itoa(opts.Count)}
		if opts.Match != "" {
			args = append(args, "MATCH", opts.Match)
		}
		reply, err := src.DoNode(ctx, addr, args...)
		if err != nil {
			return nil, 0, err
		}
		next, keys, err := parseScanReply(reply)
		if err != nil {
			return nil, 0, err
		}
		for _, key := range keys {
			e, ok, err := dumpKey(ctx, src, addr, key)
			if err != nil {
				return nil, 0, err
			}
			if !ok {
				skipped++
				continue
			}
			entries = append(entries, e)
		}
		if next == "0" {
			return entries, skipped, nil
		}
		cursor = next
	}
}

func parseScanReply(reply redis.Reply) (string, []string, error) {
	if reply == nil {
		return "", nil, fmt.Errorf("empty scan reply")
	}
	parts, ok := protocol.ToArray(reply)
	if !ok || len(parts) != 2 {
		return "", nil, fmt.Errorf("unexpected scan reply %q", reply.ToBytes())
	}
	cursor, ok := protocol.ToString(parts[0])
	if !ok {
		return "", nil, fmt.Errorf("unexpected scan cursor %q", parts[0].ToBytes())
	}
	items, ok := protocol.ToArray(parts[1])
	if !ok {
		return "", nil, fmt.Errorf("unexpected scan keys %q", parts[1].ToBytes())
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		if key, ok := protocol.ToString(item); ok {
			keys = append(keys, key)
		}
	}
	return cursor, keys, nil
}

// dumpKey reads value and ttl of a string key, ok is false when the key must be skipped
func dumpKey(ctx context.Context, src Source, addr string, key string) (entry, bool, error) {
	reply, err := src.DoNode(ctx, addr, "GET", key)
	if err != nil {
		if cluster.IsServerError(err) {
			// WRONGTYPE, or the slot is being migrated
			logger.Debugf("skip key %s on %s: %v", key, addr, err)
			return entry{}, false, nil
		}
		return entry{}, false, err
	}
	bulk, ok := reply.(*protocol.BulkReply)
	if !ok || bulk.Arg == nil {
		return entry{}, false, nil
	}
	e := entry{key: key, value: bulk.Arg}

	reply, err = src.DoNode(ctx, addr, "PTTL", key)
	if err != nil {
		if cluster.IsServerError(err) {
			return e, true, nil
		}
		return entry{}, false, err
	}
	ttl, _ := protocol.ToInt(reply)
	switch {
	case ttl == -2:
		// expired between GET and PTTL
		return entry{}, false, nil
	case ttl > 0:
		e.expireAt = time.Now().UnixMilli() + ttl
	}
	return e, true, nil
}

func encode(w io.Writer, entries []entry) error {
	enc := rdb.NewEncoder(w)
	if err := enc.WriteHeader(); err != nil {
		return err
	}
	auxMap := map[string]string{
		"redis-ver":    "7.0.0",
		"redis-bits":   "64",
		"aof-preamble": "0",
		"ctime":        strconv.FormatInt(time.Now().Unix(), 10),
	}
	for k, v := range auxMap {
		if err := enc.WriteAux(k, v); err != nil {
			return err
		}
	}
	ttlCount := 0
	for _, e := range entries {
		if e.expireAt > 0 {
			ttlCount++
		}
	}
	if err := enc.WriteDBHeader(0, uint64(len(entries)), uint64(ttlCount)); err != nil {
		return err
	}
	for _, e := range entries {
		var err error
		if e.expireAt > 0 {
			err = enc.WriteStringObject(e.key, e.value, rdb.WithTTL(uint64(e.expireAt)))
		} else {
			err = enc.WriteStringObject(e.key, e.value)
		}
		if err != nil {
			return err
		}
	}
	return enc.WriteEnd()
}

// Load decodes an RDB stream and calls fn for every string key. expireAt is nil for keys without ttl.
func Load(r io.Reader, fn func(key string, value []byte, expireAt *time.Time) error) error {
	decoder := rdbparser.NewDecoder(r)
	var cbErr error
	err := decoder.Parse(func(o rdbparser.RedisObject) bool {
		str, ok := o.(*rdbparser.StringObject)
		if !ok {
			logger.Debugf("skip %s key %s", o.GetType(), o.GetKey())
			return true
		}
		if cbErr = fn(str.GetKey(), str.Value, str.GetExpiration()); cbErr != nil {
			return false
		}
		return true
	})
	if cbErr != nil {
		return cbErr
	}
	return err
}

// Restore writes every string key of an RDB stream into the cluster and returns the number written.
// Keys already expired are skipped.
func Restore(ctx context.Context, dst Target, r io.Reader) (int, error) {
	n := 0
	err := Load(r, func(key string, value []byte, expireAt *time.Time) error {
		args := []string{"SET", key, string(value)}
		if expireAt != nil {
			ttl := time.Until(*expireAt).Milliseconds()
			if ttl <= 0 {
				return nil
			}
			args = append(args, "PX", strconv.FormatInt(ttl, 10))
		}
		if _, err := dst.Do(ctx, args...); err != nil {
			return fmt.Errorf("restore %s: %w", key, err)
		}
		n++
		return nil
	})
	return n, err
}
