package connection

// 服务端的客户端会话：代理和测试集群接收到的每个 TCP 连接对应一个 Connection

import (
	"net"
	"sync"
	"time"

	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/lib/logger"
	"github.com/CodingCaius/godis-cluster/lib/sync/wait"
)

const (
	// 客户端发送了 READONLY，允许在从节点上读取
	flagReadOnly = uint64(1 << iota)
	// 客户端发送了 ASKING，仅对下一条命令有效
	flagAsking
)

// Connection represents a client session
type Connection struct {
	// 底层的网络连接，测试用的假连接为 nil
	conn net.Conn

	// 用于等待数据发送完成，通常用于优雅关闭连接时确保所有数据都已发送
	sendingData wait.Wait

	// 服务器发送响应时锁定
	mu    sync.Mutex
	flags uint64
}

var _ redis.Connection = (*Connection)(nil)

// 用于存储和重用 Connection 对象
var connPool = sync.Pool{
	New: func() interface{} {
		return &Connection{}
	},
}

// NewConn 用于创建一个新的 Connection 实例
func NewConn(conn net.Conn) *Connection {
	c, ok := connPool.Get().(*Connection)
	if !ok {
		logger.Error("connection pool make wrong type")
		return &Connection{
			conn: conn,
		}
	}
	c.conn = conn
	return c
}

// NewFakeConn creates a session without a network connection, replies are discarded
func NewFakeConn() *Connection {
	return &Connection{}
}

// RemoteAddr 返回远程网络地址
func (c *Connection) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Close 断开与客户端的连接
func (c *Connection) Close() error {
	c.sendingData.WaitWithTimeout(10 * time.Second)
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.mu.Unlock()
	c.flags = 0
	connPool.Put(c)
	return nil
}

// Shutdown closes the network connection but keeps the session, the goroutine serving it releases it
func (c *Connection) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Write 通过 TCP 连接向客户端发送响应
func (c *Connection) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	c.sendingData.Add(1)
	defer func() {
		c.sendingData.Done()
	}()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return len(b), nil
	}
	return c.conn.Write(b)
}

// Name 返回连接的远程地址（通常是客户端的 IP 地址和端口）
func (c *Connection) Name() string {
	return c.RemoteAddr()
}

// SetReadOnly 设置 READONLY 状态
func (c *Connection) SetReadOnly(readOnly bool) {
	if readOnly {
		c.flags |= flagReadOnly
	} else {
		c.flags &= ^flagReadOnly
	}
}

// IsReadOnly 检查连接是否允许从节点读取
func (c *Connection) IsReadOnly() bool {
	return c.flags&flagReadOnly > 0
}

// SetAsking 设置 ASKING 状态
func (c *Connection) SetAsking(asking bool) {
	if asking {
		c.flags |= flagAsking
	} else {
		c.flags &= ^flagAsking
	}
}

// TakeAsking 返回 ASKING 状态并清除它
func (c *Connection) TakeAsking() bool {
	asking := c.flags&flagAsking > 0
	c.flags &= ^flagAsking
	return asking
}
