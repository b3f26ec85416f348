// Package proxy serves plain redis clients and forwards their commands to a cluster.
package proxy

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/CodingCaius/godis-cluster/cluster"
	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/lib/logger"
	"github.com/CodingCaius/godis-cluster/lib/utils"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
	"github.com/CodingCaius/godis-cluster/redis/server"
	"github.com/CodingCaius/godis-cluster/tcp"
)

// Router routes one command line to the cluster, *cluster.Client implements it
type Router interface {
	Exec(ctx context.Context, cmdLine [][]byte) (redis.Reply, error)
}

// Proxy implements server.Executor
type Proxy struct {
	router Router
}

// MakeProxy creates a proxy in front of router
func MakeProxy(router Router) *Proxy {
	return &Proxy{router: router}
}

// Exec answers connection-level commands locally and forwards everything else
func (p *Proxy) Exec(c redis.Connection, cmdLine [][]byte) redis.Reply {
	if len(cmdLine) == 0 {
		return protocol.MakeErrReply("ERR empty command")
	}
	cmdName := utils.CmdName(cmdLine)
	switch cmdName {
	case "ping":
		// answered by the proxy so clients can health check it without the cluster
		if len(cmdLine) == 1 {
			return &protocol.PongReply{}
		}
		if len(cmdLine) == 2 {
			return protocol.MakeBulkReply(cmdLine[1])
		}
		return protocol.MakeArgNumErrReply(cmdName)
	case "command":
		return execCommand(cmdLine)
	case "readonly":
		c.SetReadOnly(true)
		return protocol.MakeOkReply()
	case "readwrite":
		c.SetReadOnly(false)
		return protocol.MakeOkReply()
	}

	ctx := context.Background()
	if c.IsReadOnly() {
		// READONLY sessions may read from replicas even if the client is not configured to
		ctx = cluster.WithReplicaReads(ctx, true)
	}
	reply, err := p.router.Exec(ctx, cmdLine)
	if err != nil {
		return toErrReply(err)
	}
	return reply
}

// COMMAND [INFO name...] | COMMAND COUNT
func execCommand(cmdLine [][]byte) redis.Reply {
	if len(cmdLine) == 1 {
		return cluster.CommandInfo()
	}
	sub := strings.ToLower(string(cmdLine[1]))
	switch sub {
	case "info":
		names := make([]string, 0, len(cmdLine)-2)
		for _, arg := range cmdLine[2:] {
			names = append(names, string(arg))
		}
		return cluster.CommandInfo(names...)
	case "count":
		replies, _ := protocol.ToArray(cluster.CommandInfo())
		return protocol.MakeIntReply(int64(len(replies)))
	}
	return protocol.MakeErrReply("ERR unknown subcommand '" + sub + "'")
}

// toErrReply turns a routing error back into the reply a redis server would send
func toErrReply(err error) redis.Reply {
	var (
		serverErr     *cluster.ServerCommandError
		unsupported   *cluster.UnsupportedCommandError
		crossSlot     *cluster.CrossSlotError
		cannotConnect *cluster.CannotConnectError
	)
	switch {
	case errors.As(err, &serverErr):
		return protocol.MakeErrReply(serverErr.Msg)
	case errors.As(err, &unsupported):
		return protocol.MakeErrReply("ERR unknown command '" + unsupported.Name + "'")
	case errors.As(err, &crossSlot):
		return protocol.MakeErrReply("CROSSSLOT Keys in request don't hash to the same slot")
	case errors.As(err, &cannotConnect), errors.Is(err, cluster.ErrClusterUnreachable):
		logger.Warnf("proxy: %v", err)
		return protocol.MakeErrReply("CLUSTERDOWN " + err.Error())
	}
	logger.Warnf("proxy: %v", err)
	return protocol.MakeErrReply("ERR " + err.Error())
}

// ListenAndServe serves the proxy on cfg.Address until the process receives a stop signal
func (p *Proxy) ListenAndServe(cfg *tcp.Config) error {
	return tcp.ListenAndServeWithSignal(cfg, server.MakeHandler(p))
}

// Serve serves the proxy on listener until closeChan is signalled or closed
func (p *Proxy) Serve(listener net.Listener, closeChan <-chan struct{}) {
	tcp.ListenAndServe(listener, server.MakeHandler(p), closeChan)
}
