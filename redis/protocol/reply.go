/*
实现了 Redis 协议中的几种回复类型，并提供了将这些回复序列化为字节数组的功能。
客户端一侧同样使用这些类型：解析器把节点返回的数据还原为这些回复，集群路由再根据类型判断成功、重定向或错误。
*/

package protocol

import (
	"bytes"
	"strconv"

	"github.com/CodingCaius/godis-cluster/interface/redis"
)

var (
	CRLF = "\r\n"
)

/* ---- Bulk Reply ---- */

// BulkReply stores a binary-safe string
type BulkReply struct {
	Arg []byte
}

// MakeBulkReply creates  BulkReply
func MakeBulkReply(arg []byte) *BulkReply {
	return &BulkReply{Arg: arg}
}

// ToBytes marshal redis.Reply
func (r *BulkReply) ToBytes() []byte {
	if r.Arg == nil {
		return nullBulkBytes
	}
	return []byte("$" + strconv.Itoa(len(r.Arg)) + CRLF + string(r.Arg) + CRLF)
}

/* ---- Multi Bulk Reply ---- */

// MultiBulkReply stores a list of string
type MultiBulkReply struct {
	Args [][]byte
}

// MakeMultiBulkReply creates MultiBulkReply
func MakeMultiBulkReply(args [][]byte) *MultiBulkReply {
	return &MultiBulkReply{Args: args}
}

// ToBytes marshal redis.Reply
func (r *MultiBulkReply) ToBytes() []byte {
	var buf bytes.Buffer
	argLen := len(r.Args)
	bufLen := 1 + len(strconv.Itoa(argLen)) + 2
	for _, arg := range r.Args {
		if arg == nil {
			bufLen += 3 + 2
		} else {
			bufLen += 1 + len(strconv.Itoa(len(arg))) + 2 + len(arg) + 2
		}
	}
	buf.Grow(bufLen)
	buf.WriteString("*")
	buf.WriteString(strconv.Itoa(argLen))
	buf.WriteString(CRLF)
	for _, arg := range r.Args {
		if arg == nil {
			buf.WriteString("$-1")
			buf.WriteString(CRLF)
		} else {
			buf.WriteString("$")
			buf.WriteString(strconv.Itoa(len(arg)))
			buf.WriteString(CRLF)
			buf.Write(arg)
			buf.WriteString(CRLF)
		}
	}
	return buf.Bytes()
}

/* ---- Multi Raw Reply ---- */

// MultiRawReply store complex list structure, for example GeoPos command
// and the nested arrays returned by CLUSTER SLOTS
type MultiRawReply struct {
	Replies []redis.Reply
}

// MakeMultiRawReply creates MultiRawReply
func MakeMultiRawReply(replies []redis.Reply) *MultiRawReply {
	return &MultiRawReply{Replies: replies}
}

// ToBytes marshal redis.Reply
func (r *MultiRawReply) ToBytes() []byte {
	argLen := len(r.Replies)
	var buf bytes.Buffer
	buf.WriteString("*" + strconv.Itoa(argLen) + CRLF)
	for _, arg := range r.Replies {
		buf.Write(arg.ToBytes())
	}
	return buf.Bytes()
}

/* ---- Status Reply ---- */

// StatusReply stores a simple status string
type StatusReply struct {
	Status string
}

// MakeStatusReply creates StatusReply
func MakeStatusReply(status string) *StatusReply {
	return &StatusReply{
		Status: status,
	}
}

// ToBytes marshal redis.Reply
func (r *StatusReply) ToBytes() []byte {
	return []byte("+" + r.Status + CRLF)
}

// IsOKReply returns true if the given protocol is +OK
func IsOKReply(reply redis.Reply) bool {
	switch r := reply.(type) {
	case *OkReply:
		return true
	case *StatusReply:
		return r.Status == "OK"
	}
	return reply != nil && string(reply.ToBytes()) == "+OK\r\n"
}

/* ---- Int Reply ---- */

// IntReply stores an int64 number
type IntReply struct {
	Code int64
}

// MakeIntReply creates int protocol
func MakeIntReply(code int64) *IntReply {
	return &IntReply{
		Code: code,
	}
}

// ToBytes marshal redis.Reply
func (r *IntReply) ToBytes() []byte {
	return []byte(":" + strconv.FormatInt(r.Code, 10) + CRLF)
}

/* ---- Error Reply ---- */

// ErrorReply is an error and redis.Reply
type ErrorReply interface {
	Error() string
	ToBytes() []byte
}

// StandardErrReply represents server error
type StandardErrReply struct {
	Status string
}

// MakeErrReply creates StandardErrReply
func MakeErrReply(status string) *StandardErrReply {
	return &StandardErrReply{
		Status: status,
	}
}

// IsErrorReply returns true if the given protocol is error
func IsErrorReply(reply redis.Reply) bool {
	if _, ok := reply.(ErrorReply); ok {
		return true
	}
	b := reply.ToBytes()
	return len(b) > 0 && b[0] == '-'
}

// ToBytes marshal redis.Reply
func (r *StandardErrReply) ToBytes() []byte {
	return []byte("-" + r.Status + CRLF)
}

func (r *StandardErrReply) Error() string {
	return r.Status
}

/* ---- helpers ---- */

// 把常见的回复类型转换为字符串，供集群自省命令解析使用

// ToString returns the textual content of a status, bulk or int reply.
// ok is false for null bulk, arrays and errors.
func ToString(reply redis.Reply) (string, bool) {
	switch r := reply.(type) {
	case *StatusReply:
		return r.Status, true
	case *BulkReply:
		if r.Arg == nil {
			return "", false
		}
		return string(r.Arg), true
	case *IntReply:
		return strconv.FormatInt(r.Code, 10), true
	}
	return "", false
}

// ToInt returns the integer content of an int reply or a numeric string reply
func ToInt(reply redis.Reply) (int64, bool) {
	if r, ok := reply.(*IntReply); ok {
		return r.Code, true
	}
	s, ok := ToString(reply)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ToArray flattens MultiBulkReply and MultiRawReply into a list of replies
func ToArray(reply redis.Reply) ([]redis.Reply, bool) {
	switch r := reply.(type) {
	case *MultiRawReply:
		return r.Replies, true
	case *MultiBulkReply:
		result := make([]redis.Reply, len(r.Args))
		for i, arg := range r.Args {
			result[i] = MakeBulkReply(arg)
		}
		return result, true
	case *EmptyMultiBulkReply:
		return nil, true
	}
	return nil, false
}
