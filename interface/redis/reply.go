package redis

import "context"

// Reply is the interface of redis serialization protocol message
type Reply interface {
	ToBytes() []byte
}

// Client sends one command to a single node and waits for its reply.
// Connection-level failures are returned as error, server-side rejections
// come back as an error reply value.
type Client interface {
	Send(ctx context.Context, args [][]byte) (Reply, error)
	RemoteAddr() string
	Close() error
}
