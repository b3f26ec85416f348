package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/redis/parser"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

// ErrClosed is returned by Send after the connection was closed or broken
var ErrClosed = errors.New("connection closed")

// Client is a single connection to one redis node.
// Only one request is in flight at a time; callers needing parallelism use a pool of clients.
type Client struct {
	conn net.Conn
	addr string
	ch   <-chan *parser.Payload

	mu        sync.Mutex // serializes requests
	closeOnce sync.Once
	broken    atomic.Bool
}

var _ redis.Client = (*Client)(nil)

// MakeClient dials addr. dialTimeout bounds the TCP handshake in addition to ctx.
func MakeClient(ctx context.Context, addr string, dialTimeout time.Duration) (*Client, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect with %s failed: %w", addr, err)
	}
	return &Client{
		conn: conn,
		addr: addr,
		ch:   parser.ParseStream(conn),
	}, nil
}

// RemoteAddr returns the address this client was dialed with
func (c *Client) RemoteAddr() string {
	return c.addr
}

// Send writes one command and waits for its reply.
// A cancelled ctx breaks the connection: the pending reply would otherwise be
// read as the answer of the next command.
func (c *Client) Send(ctx context.Context, args [][]byte) (redis.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken.Load() {
		return nil, ErrClosed
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		c.markBroken()
		return nil, err
	}
	req := protocol.MakeMultiBulkReply(args)
	if _, err := c.conn.Write(req.ToBytes()); err != nil {
		c.markBroken()
		return nil, fmt.Errorf("send to %s: %w", c.addr, err)
	}

	select {
	case payload, ok := <-c.ch:
		if !ok {
			c.markBroken()
			return nil, ErrClosed
		}
		if payload.Err != nil {
			c.markBroken()
			return nil, fmt.Errorf("read from %s: %w", c.addr, payload.Err)
		}
		return payload.Data, nil
	case <-ctx.Done():
		c.markBroken()
		return nil, ctx.Err()
	}
}

// Broken reports whether the connection can no longer be used
func (c *Client) Broken() bool {
	return c.broken.Load()
}

func (c *Client) markBroken() {
	c.broken.Store(true)
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		// parse0 may still be blocked on sending a payload
		go func(ch <-chan *parser.Payload) {
			for range ch {
			}
		}(c.ch)
	})
}

// Close closes the connection, failing a request that is still waiting for its reply
func (c *Client) Close() error {
	c.markBroken()
	return nil
}
