package cluster

import (
	"errors"
	"fmt"
)

// 集群客户端的错误类型。
// 配置校验类错误在构造时立即返回，不会重试；连接和重定向类错误在 Router 内部有限次重试后才返回给调用方。

// ErrClusterUnreachable means none of the seed nodes accepted a connection
var ErrClusterUnreachable = errors.New("could not connect to any nodes")

// InvalidConfigTypeError means the node config is not a slice or an array
type InvalidConfigTypeError struct{}

func (e *InvalidConfigTypeError) Error() string {
	return "node config must be an array-like sequence"
}

// InvalidURISchemeError means a node entry is not a redis:// or rediss:// URI.
// Scheme is empty when the entry is not a URI at all.
type InvalidURISchemeError struct {
	Scheme string
}

func (e *InvalidURISchemeError) Error() string {
	return fmt.Sprintf("invalid uri scheme '%s'", e.Scheme)
}

// MissingKeyError means a mapping node entry lacks a required key
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return "key not found: " + e.Key
}

// UnsupportedNodeConfigTypeError means a node entry is neither a string nor a mapping
type UnsupportedNodeConfigTypeError struct {
	Value any
}

func (e *UnsupportedNodeConfigTypeError) Error() string {
	return "node config must include a string or a mapping"
}

// CannotConnectError means a node stayed unreachable after one refresh and retry
type CannotConnectError struct {
	Addr string
	Err  error
}

func (e *CannotConnectError) Error() string {
	return fmt.Sprintf("could not connect to %s: %v", e.Addr, e.Err)
}

func (e *CannotConnectError) Unwrap() error {
	return e.Err
}

// CrossSlotError means the keys of a command hash to different slots
type CrossSlotError struct {
	Command string
}

func (e *CrossSlotError) Error() string {
	return fmt.Sprintf("CROSSSLOT keys of '%s' don't hash to the same slot", e.Command)
}

// ServerCommandError carries an error reply of a node verbatim
type ServerCommandError struct {
	Msg string
}

func (e *ServerCommandError) Error() string {
	return e.Msg
}

// UnknownNodeError means a node id is absent from the current topology
type UnknownNodeError struct {
	NodeID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown node '%s'", e.NodeID)
}

// UnsupportedCommandError means the command is not in the command table
type UnsupportedCommandError struct {
	Name string
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("unknown command '%s'", e.Name)
}

// IsServerError reports whether err is an error reply passed through from a node
func IsServerError(err error) bool {
	var serverErr *ServerCommandError
	return errors.As(err, &serverErr)
}

// ErrTooManyRedirects means a command was still redirected after RetryCount attempts
var ErrTooManyRedirects = errors.New("too many cluster redirections")

// ErrNil is returned by typed helpers such as Get when the key does not exist
var ErrNil = errors.New("nil reply")
