// Package discovery finds the seed nodes a cluster client starts from.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/CodingCaius/godis-cluster/config"
	"github.com/CodingCaius/godis-cluster/lib/logger"
)

// ErrNoSeeds means neither static nodes nor a zookeeper ensemble are configured
var ErrNoSeeds = errors.New("no seed nodes configured")

const defaultScheme = "redis://"

// Source lists seed node URIs
type Source interface {
	Seeds(ctx context.Context) ([]string, error)
	Close() error
}

// Normalize trims entries, drops empty ones and turns bare host:port pairs into redis:// URIs
func Normalize(entries []string) []string {
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "://") {
			entry = defaultScheme + entry
		}
		result = append(result, entry)
	}
	return result
}

// Static is a fixed list of seeds
type Static []string

// Seeds returns the normalized list
func (s Static) Seeds(ctx context.Context) ([]string, error) {
	seeds := Normalize(s)
	if len(seeds) == 0 {
		return nil, ErrNoSeeds
	}
	return seeds, nil
}

// Close does nothing
func (s Static) Close() error {
	return nil
}

type zkConn interface {
	Children(path string) ([]string, *zk.Stat, error)
	State() zk.State
	Close()
}

// ZooKeeper reads seeds from the children of a znode, each child named host:port
type ZooKeeper struct {
	conn        zkConn
	path        string
	waitTimeout time.Duration
}

// DialZooKeeper connects to the ensemble
func DialZooKeeper(servers []string, path string, timeout time.Duration) (*ZooKeeper, error) {
	conn, _, err := zk.Connect(servers, timeout)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return &ZooKeeper{
		conn:        conn,
		path:        path,
		waitTimeout: timeout,
	}, nil
}

// Seeds lists the children of the znode
func (z *ZooKeeper) Seeds(ctx context.Context) ([]string, error) {
	if err := z.waitConnected(ctx); err != nil {
		return nil, err
	}
	children, _, err := z.conn.Children(z.path)
	if err != nil {
		return nil, fmt.Errorf("zk children of %s: %w", z.path, err)
	}
	sort.Strings(children)
	seeds := Normalize(children)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: %s has no children", ErrNoSeeds, z.path)
	}
	logger.Infof("discovered %d seed nodes from zookeeper %s", len(seeds), z.path)
	return seeds, nil
}

func (z *ZooKeeper) waitConnected(ctx context.Context) error {
	deadline := time.Now().Add(z.waitTimeout)
	for {
		st := z.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", z.waitTimeout, st)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Close closes the zookeeper session
func (z *ZooKeeper) Close() error {
	z.conn.Close()
	return nil
}

// FromConfig picks the source configured in props: static nodes win over zookeeper
func FromConfig(props *config.ClusterProperties) (Source, error) {
	if len(Normalize(props.Nodes)) > 0 {
		return Static(props.Nodes), nil
	}
	if len(props.ZKServers) > 0 {
		return DialZooKeeper(props.ZKServers, props.ZKPath, props.DialTimeout*5)
	}
	return nil, ErrNoSeeds
}

// Resolve returns the seeds configured in props
func Resolve(ctx context.Context, props *config.ClusterProperties) ([]string, error) {
	src, err := FromConfig(props)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return src.Seeds(ctx)
}
