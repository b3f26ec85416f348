package server

/*
RESP 服务端的连接处理：为每个 TCP 连接创建会话，解析请求并把命令交给 Executor 执行。
代理把命令转发到集群，测试集群的节点在本地执行。
*/

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/lib/logger"
	"github.com/CodingCaius/godis-cluster/redis/connection"
	"github.com/CodingCaius/godis-cluster/redis/parser"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

var unknownErrReplyBytes = []byte("-ERR unknown\r\n")

// Executor executes one command of a session
type Executor interface {
	Exec(c redis.Connection, cmdLine [][]byte) redis.Reply
}

// Handler implements tcp.Handler and serves as a redis server
type Handler struct {
	activeConn sync.Map // *client -> placeholder
	executor   Executor
	closing    atomic.Bool // refusing new client and new request
}

// MakeHandler creates a Handler instance
func MakeHandler(executor Executor) *Handler {
	return &Handler{
		executor: executor,
	}
}

func (h *Handler) closeClient(client *connection.Connection) {
	h.activeConn.Delete(client)
	_ = client.Close()
}

// Handle receives and executes redis commands
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	if h.closing.Load() {
		// closing handler refuse new connection
		_ = conn.Close()
		return
	}

	client := connection.NewConn(conn)
	h.activeConn.Store(client, struct{}{})

	ch := parser.ParseStream(conn)
	for payload := range ch {
		if payload.Err != nil {
			if payload.Err == io.EOF ||
				errors.Is(payload.Err, io.ErrUnexpectedEOF) ||
				errors.Is(payload.Err, net.ErrClosed) ||
				strings.Contains(payload.Err.Error(), "use of closed network connection") {
				// connection closed
				logger.Debug("connection closed: " + client.RemoteAddr())
				h.closeClient(client)
				return
			}
			// protocol err, the parser stops after it
			errReply := protocol.MakeErrReply(payload.Err.Error())
			_, _ = client.Write(errReply.ToBytes())
			h.closeClient(client)
			return
		}
		if payload.Data == nil {
			continue
		}
		r, ok := payload.Data.(*protocol.MultiBulkReply)
		if !ok {
			logger.Error("require multi bulk protocol")
			continue
		}
		result := h.executor.Exec(client, r.Args)
		if result != nil {
			_, _ = client.Write(result.ToBytes())
		} else {
			_, _ = client.Write(unknownErrReplyBytes)
		}
	}
	h.closeClient(client)
}

// Close stops handler
func (h *Handler) Close() error {
	logger.Info("handler shutting down...")
	h.closing.Store(true)
	h.activeConn.Range(func(key interface{}, val interface{}) bool {
		client := key.(*connection.Connection)
		// the session goroutine sees the closed connection and releases the session
		client.Shutdown()
		return true
	})
	return nil
}
