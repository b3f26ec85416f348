package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"

	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/lib/logger"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

// redis 协议解析器
// 服务端（代理）用它把 "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n" 还原为 ['SET', 'key', 'value']，
// 客户端用它解析节点返回的回复，包括 CLUSTER SLOTS 这种嵌套数组

// Payload stores redis.Reply or error
type Payload struct {
	Data redis.Reply
	Err  error
}

// ErrProtocol is returned (wrapped) when the stream is not valid RESP
var ErrProtocol = errors.New("protocol error")

const (
	// MaxBulkLen is the largest bulk string accepted, same as proto-max-bulk-len of redis
	MaxBulkLen = 512 * 1024 * 1024
	// MaxArrayLen bounds the element count of one array
	MaxArrayLen = 1024 * 1024
)

// ParseStream reads data from io.Reader and send payloads through channel
func ParseStream(reader io.Reader) <-chan *Payload {
	ch := make(chan *Payload)
	go parse0(reader, ch)
	return ch
}

// ParseBytes reads data from []byte and return all replies
func ParseBytes(data []byte) ([]redis.Reply, error) {
	ch := make(chan *Payload)
	reader := bytes.NewReader(data)
	go parse0(reader, ch)
	var results []redis.Reply
	for payload := range ch {
		if payload == nil {
			return nil, errors.New("no protocol")
		}
		if payload.Err != nil {
			if payload.Err == io.EOF {
				break
			}
			return nil, payload.Err
		}
		results = append(results, payload.Data)
	}
	return results, nil
}

// ParseOne reads data from []byte and return the first payload
func ParseOne(data []byte) (redis.Reply, error) {
	reader := bufio.NewReader(bytes.NewReader(data))
	return readReply(reader)
}

// parse0 从输入流中循环读取回复，任何错误（包括协议错误）都会结束解析并关闭通道
func parse0(rawReader io.Reader, ch chan<- *Payload) {
	defer func() {
		if err := recover(); err != nil {
			logger.Error(err, string(debug.Stack()))
			ch <- &Payload{Err: protocolError(fmt.Sprint(err))}
			close(ch)
		}
	}()
	reader := bufio.NewReader(rawReader)
	for {
		reply, err := readReply(reader)
		if err != nil {
			ch <- &Payload{Err: err}
			close(ch)
			return
		}
		if reply == nil {
			// blank line, e.g. keepalive newlines of replication traffic
			continue
		}
		ch <- &Payload{Data: reply}
	}
}

func readLine(reader *bufio.Reader) ([]byte, error) {
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	length := len(line)
	if length < 2 || line[length-2] != '\r' {
		return nil, protocolError("line without CRLF terminator")
	}
	return line[:length-2], nil
}

// readReply reads exactly one reply. It returns (nil, nil) for an empty line.
func readReply(reader *bufio.Reader) (redis.Reply, error) {
	line, err := readLine(reader)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, nil
	}
	switch line[0] {
	case '+':
		return protocol.MakeStatusReply(string(line[1:])), nil
	case '-':
		return protocol.MakeErrReply(string(line[1:])), nil
	case ':':
		value, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil {
			return nil, protocolError("illegal number " + string(line[1:]))
		}
		return protocol.MakeIntReply(value), nil
	case '$':
		return parseBulkString(line, reader)
	case '*':
		return parseArray(line, reader)
	default:
		// inline command, e.g. "PING" typed into telnet
		args := bytes.Fields(line)
		return protocol.MakeMultiBulkReply(args), nil
	}
}

// 解析字符串类型
func parseBulkString(header []byte, reader *bufio.Reader) (redis.Reply, error) {
	strLen, err := strconv.ParseInt(string(header[1:]), 10, 64)
	if err != nil || strLen < -1 || strLen > MaxBulkLen {
		return nil, protocolError("illegal bulk string header: " + string(header))
	} else if strLen == -1 {
		return protocol.MakeNullBulkReply(), nil
	}
	body := make([]byte, strLen+2)
	_, err = io.ReadFull(reader, body)
	if err != nil {
		return nil, err
	}
	if body[strLen] != '\r' || body[strLen+1] != '\n' {
		return nil, protocolError("bulk string without CRLF terminator")
	}
	return protocol.MakeBulkReply(body[:strLen]), nil
}

// parseArray 递归解析数组。全部元素都是非空 bulk string 时返回 MultiBulkReply（命令行就是这种形式），
// 否则返回 MultiRawReply 以保留嵌套结构
func parseArray(header []byte, reader *bufio.Reader) (redis.Reply, error) {
	nStrs, err := strconv.ParseInt(string(header[1:]), 10, 64)
	if err != nil || nStrs < -1 || nStrs > MaxArrayLen {
		return nil, protocolError("illegal array header " + string(header[1:]))
	} else if nStrs == -1 {
		return protocol.MakeNullMultiBulkReply(), nil
	} else if nStrs == 0 {
		return protocol.MakeEmptyMultiBulkReply(), nil
	}
	replies := make([]redis.Reply, 0, nStrs)
	allBulk := true
	for i := int64(0); i < nStrs; i++ {
		item, err := readReply(reader)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, protocolError("empty line inside array")
		}
		if _, ok := item.(*protocol.BulkReply); !ok {
			allBulk = false
		}
		replies = append(replies, item)
	}
	if !allBulk {
		return protocol.MakeMultiRawReply(replies), nil
	}
	lines := make([][]byte, len(replies))
	for i, item := range replies {
		lines[i] = item.(*protocol.BulkReply).Arg
	}
	return protocol.MakeMultiBulkReply(lines), nil
}

func protocolError(msg string) error {
	return fmt.Errorf("%w: %s", ErrProtocol, msg)
}
