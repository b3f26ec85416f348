package cluster

// 命令表：记录每个命令的参数个数、键的位置和是否只读。
// Router 根据命令表提取键并计算槽；不在表中的命令直接拒绝，不会发送到任何节点。

import (
	"strconv"
	"strings"

	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

var cmdTable = make(map[string]*command)

type command struct {
	name string
	// arity means allowed number of cmdArgs, arity < 0 means len(args) >= -arity.
	// for example: the arity of `get` is 2, `mget` is -2
	arity int
	flags int
	// position of keys in cmdLine, lastKey < 0 counts from the end
	firstKey int
	lastKey  int
	keyStep  int
}

const flagWrite = 0

const (
	flagReadOnly = 1 << iota
	// 没有键的命令，发送到任意一个主节点
	flagKeyless
	// 键的数量由 numkeys 参数给出，如 EVAL script numkeys key [key ...]
	flagMovableKeys
)

func registerCommand(name string, arity int, flags int) *command {
	name = strings.ToLower(name)
	cmd := &command{
		name:     name,
		arity:    arity,
		flags:    flags,
		firstKey: 1,
		lastKey:  1,
		keyStep:  1,
	}
	if flags&(flagKeyless|flagMovableKeys) > 0 {
		cmd.firstKey, cmd.lastKey, cmd.keyStep = 0, 0, 0
	}
	cmdTable[name] = cmd
	return cmd
}

func (cmd *command) attachKeys(firstKey int, lastKey int, keyStep int) *command {
	cmd.firstKey = firstKey
	cmd.lastKey = lastKey
	cmd.keyStep = keyStep
	return cmd
}

// Supports reports whether name is a command the cluster client can route
func Supports(name string) bool {
	_, ok := cmdTable[strings.ToLower(name)]
	return ok
}

func lookupCommand(name string) (*command, bool) {
	cmd, ok := cmdTable[strings.ToLower(name)]
	return cmd, ok
}

// readOnly commands may be served by replicas
func (cmd *command) readOnly() bool {
	return cmd.flags&flagReadOnly > 0
}

func (cmd *command) validateArity(cmdLine [][]byte) bool {
	argNum := len(cmdLine)
	if cmd.arity >= 0 {
		return argNum == cmd.arity
	}
	return argNum >= -cmd.arity
}

// keys returns the keys of cmdLine. Keyless commands return nil.
func (cmd *command) keys(cmdLine [][]byte) ([]string, error) {
	if cmd.flags&flagKeyless > 0 {
		return nil, nil
	}
	if cmd.flags&flagMovableKeys > 0 {
		// EVAL script numkeys key [key ...] arg [arg ...]
		numKeys, err := strconv.Atoi(string(cmdLine[2]))
		if err != nil || numKeys < 0 || 3+numKeys > len(cmdLine) {
			return nil, &ServerCommandError{Msg: "ERR Number of keys can't be greater than number of args"}
		}
		keys := make([]string, numKeys)
		for i := range keys {
			keys[i] = string(cmdLine[3+i])
		}
		return keys, nil
	}
	last := cmd.lastKey
	if last < 0 {
		last = len(cmdLine) + last
	}
	var keys []string
	for i := cmd.firstKey; i <= last && i < len(cmdLine); i += cmd.keyStep {
		keys = append(keys, string(cmdLine[i]))
	}
	return keys, nil
}

// toDescReply describes the command the way COMMAND INFO does
func (cmd *command) toDescReply() redis.Reply {
	var flags [][]byte
	if cmd.readOnly() {
		flags = append(flags, []byte("readonly"))
	} else {
		flags = append(flags, []byte("write"))
	}
	if cmd.flags&flagMovableKeys > 0 {
		flags = append(flags, []byte("movablekeys"))
	}
	return protocol.MakeMultiRawReply([]redis.Reply{
		protocol.MakeBulkReply([]byte(cmd.name)),
		protocol.MakeIntReply(int64(cmd.arity)),
		protocol.MakeMultiBulkReply(flags),
		protocol.MakeIntReply(int64(cmd.firstKey)),
		protocol.MakeIntReply(int64(cmd.lastKey)),
		protocol.MakeIntReply(int64(cmd.keyStep)),
	})
}

// CommandInfo returns COMMAND INFO style descriptions of the given commands,
// a null entry for each unknown one, or of every command when names is empty
func CommandInfo(names ...string) redis.Reply {
	var replies []redis.Reply
	if len(names) == 0 {
		for _, cmd := range cmdTable {
			replies = append(replies, cmd.toDescReply())
		}
		return protocol.MakeMultiRawReply(replies)
	}
	for _, name := range names {
		if cmd, ok := lookupCommand(name); ok {
			replies = append(replies, cmd.toDescReply())
		} else {
			replies = append(replies, protocol.MakeNullBulkReply())
		}
	}
	return protocol.MakeMultiRawReply(replies)
}

func init() {
	// keyless
	registerCommand("Ping", -1, flagKeyless|flagReadOnly)
	registerCommand("Echo", 2, flagKeyless|flagReadOnly)
	registerCommand("Info", -1, flagKeyless|flagReadOnly)
	registerCommand("DBSize", 1, flagKeyless|flagReadOnly)
	registerCommand("Time", 1, flagKeyless|flagReadOnly)
	registerCommand("RandomKey", 1, flagKeyless|flagReadOnly)
	registerCommand("Scan", -2, flagKeyless|flagReadOnly)
	registerCommand("Cluster", -2, flagKeyless|flagReadOnly)
	// the node rejects SELECT in cluster mode, the reply is passed through
	registerCommand("Select", 2, flagKeyless)

	// keys
	registerCommand("Del", -2, flagWrite).attachKeys(1, -1, 1)
	registerCommand("Unlink", -2, flagWrite).attachKeys(1, -1, 1)
	registerCommand("Exists", -2, flagReadOnly).attachKeys(1, -1, 1)
	registerCommand("Touch", -2, flagReadOnly).attachKeys(1, -1, 1)
	registerCommand("Type", 2, flagReadOnly)
	registerCommand("TTL", 2, flagReadOnly)
	registerCommand("PTTL", 2, flagReadOnly)
	registerCommand("Expire", 3, flagWrite)
	registerCommand("PExpire", 3, flagWrite)
	registerCommand("ExpireAt", 3, flagWrite)
	registerCommand("PExpireAt", 3, flagWrite)
	registerCommand("Persist", 2, flagWrite)
	registerCommand("Dump", 2, flagReadOnly)
	registerCommand("Restore", -4, flagWrite)
	registerCommand("Rename", 3, flagWrite).attachKeys(1, 2, 1)
	registerCommand("RenameNx", 3, flagWrite).attachKeys(1, 2, 1)

	// string
	registerCommand("Get", 2, flagReadOnly)
	registerCommand("Set", -3, flagWrite)
	registerCommand("SetNx", 3, flagWrite)
	registerCommand("SetEx", 4, flagWrite)
	registerCommand("PSetEx", 4, flagWrite)
	registerCommand("GetSet", 3, flagWrite)
	registerCommand("GetDel", 2, flagWrite)
	registerCommand("GetEx", -2, flagWrite)
	registerCommand("Append", 3, flagWrite)
	registerCommand("StrLen", 2, flagReadOnly)
	registerCommand("Incr", 2, flagWrite)
	registerCommand("IncrBy", 3, flagWrite)
	registerCommand("IncrByFloat", 3, flagWrite)
	registerCommand("Decr", 2, flagWrite)
	registerCommand("DecrBy", 3, flagWrite)
	registerCommand("GetRange", 4, flagReadOnly)
	registerCommand("SetRange", 4, flagWrite)
	registerCommand("MGet", -2, flagReadOnly).attachKeys(1, -1, 1)
	registerCommand("MSet", -3, flagWrite).attachKeys(1, -1, 2)
	registerCommand("MSetNX", -3, flagWrite).attachKeys(1, -1, 2)
	registerCommand("SetBit", 4, flagWrite)
	registerCommand("GetBit", 3, flagReadOnly)
	registerCommand("BitCount", -2, flagReadOnly)

	// hash
	registerCommand("HSet", -4, flagWrite)
	registerCommand("HSetNX", 4, flagWrite)
	registerCommand("HGet", 3, flagReadOnly)
	registerCommand("HMSet", -4, flagWrite)
	registerCommand("HMGet", -3, flagReadOnly)
	registerCommand("HDel", -3, flagWrite)
	registerCommand("HExists", 3, flagReadOnly)
	registerCommand("HLen", 2, flagReadOnly)
	registerCommand("HStrLen", 3, flagReadOnly)
	registerCommand("HKeys", 2, flagReadOnly)
	registerCommand("HVals", 2, flagReadOnly)
	registerCommand("HGetAll", 2, flagReadOnly)
	registerCommand("HIncrBy", 4, flagWrite)
	registerCommand("HIncrByFloat", 4, flagWrite)
	registerCommand("HScan", -3, flagReadOnly)

	// list
	registerCommand("LPush", -3, flagWrite)
	registerCommand("RPush", -3, flagWrite)
	registerCommand("LPushX", -3, flagWrite)
	registerCommand("RPushX", -3, flagWrite)
	registerCommand("LPop", -2, flagWrite)
	registerCommand("RPop", -2, flagWrite)
	registerCommand("LLen", 2, flagReadOnly)
	registerCommand("LIndex", 3, flagReadOnly)
	registerCommand("LRange", 4, flagReadOnly)
	registerCommand("LSet", 4, flagWrite)
	registerCommand("LRem", 4, flagWrite)
	registerCommand("LTrim", 4, flagWrite)
	registerCommand("LInsert", 5, flagWrite)
	registerCommand("RPopLPush", 3, flagWrite).attachKeys(1, 2, 1)
	registerCommand("LMove", 5, flagWrite).attachKeys(1, 2, 1)

	// set
	registerCommand("SAdd", -3, flagWrite)
	registerCommand("SRem", -3, flagWrite)
	registerCommand("SIsMember", 3, flagReadOnly)
	registerCommand("SMembers", 2, flagReadOnly)
	registerCommand("SCard", 2, flagReadOnly)
	registerCommand("SPop", -2, flagWrite)
	registerCommand("SRandMember", -2, flagReadOnly)
	registerCommand("SMove", 4, flagWrite).attachKeys(1, 2, 1)
	registerCommand("SInter", -2, flagReadOnly).attachKeys(1, -1, 1)
	registerCommand("SUnion", -2, flagReadOnly).attachKeys(1, -1, 1)
	registerCommand("SDiff", -2, flagReadOnly).attachKeys(1, -1, 1)
	registerCommand("SInterStore", -3, flagWrite).attachKeys(1, -1, 1)
	registerCommand("SUnionStore", -3, flagWrite).attachKeys(1, -1, 1)
	registerCommand("SDiffStore", -3, flagWrite).attachKeys(1, -1, 1)
	registerCommand("SScan", -3, flagReadOnly)

	// sorted set
	registerCommand("ZAdd", -4, flagWrite)
	registerCommand("ZScore", 3, flagReadOnly)
	registerCommand("ZIncrBy", 4, flagWrite)
	registerCommand("ZRank", 3, flagReadOnly)
	registerCommand("ZRevRank", 3, flagReadOnly)
	registerCommand("ZCount", 4, flagReadOnly)
	registerCommand("ZCard", 2, flagReadOnly)
	registerCommand("ZRange", -4, flagReadOnly)
	registerCommand("ZRevRange", -4, flagReadOnly)
	registerCommand("ZRangeByScore", -4, flagReadOnly)
	registerCommand("ZRevRangeByScore", -4, flagReadOnly)
	registerCommand("ZRem", -3, flagWrite)
	registerCommand("ZRemRangeByScore", 4, flagWrite)
	registerCommand("ZRemRangeByRank", 4, flagWrite)
	registerCommand("ZScan", -3, flagReadOnly)

	// scripting
	registerCommand("Eval", -3, flagMovableKeys)
	registerCommand("EvalSha", -3, flagMovableKeys)
}
