package cluster

/*
键到哈希槽的映射。
集群把键空间划分为 16384 个槽，槽号 = CRC16(key) mod 16384。
如果键中包含 hash tag（第一个 '{' 与其后第一个 '}' 之间的非空内容），只对 tag 计算，
这样 {user1000}.following 和 {user1000}.followers 会落在同一个槽上。
*/

import "strings"

// SlotCount is the number of hash slots of a cluster
const SlotCount = 16384

// crc16tab is the CRC16/XMODEM table (poly 0x1021)
var crc16tab [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		crc16tab[i] = crc
	}
}

func crc16(key string) uint16 {
	var crc uint16
	for i := 0; i < len(key); i++ {
		crc = crc<<8 ^ crc16tab[byte(crc>>8)^key[i]]
	}
	return crc
}

// ExtractHashTag returns the hash tag of key, or "" if key has none.
// Only the first '{' and the first '}' after it matter; an empty tag such as "foo{}{bar}" means no tag.
func ExtractHashTag(key string) string {
	beg := strings.IndexByte(key, '{')
	if beg == -1 {
		return ""
	}
	end := strings.IndexByte(key[beg+1:], '}')
	if end <= 0 {
		return ""
	}
	return key[beg+1 : beg+1+end]
}

// Slot returns the hash slot of key, in [0, SlotCount)
func Slot(key string) int {
	if tag := ExtractHashTag(key); tag != "" {
		key = tag
	}
	return int(crc16(key)) % SlotCount
}
