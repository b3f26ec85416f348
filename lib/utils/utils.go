package utils

import (
	"math/rand"
	"strings"
)

// ToCmdLine convert strings to [][]byte
func ToCmdLine(cmd ...string) [][]byte {
	args := make([][]byte, len(cmd))
	for i, s := range cmd {
		args[i] = []byte(s)
	}
	return args
}

// ToCmdLine2 convert commandName and string-type argument to [][]byte
func ToCmdLine2(commandName string, args ...string) [][]byte {
	result := make([][]byte, len(args)+1)
	result[0] = []byte(commandName)
	for i, s := range args {
		result[i+1] = []byte(s)
	}
	return result
}

// CmdName returns the lower-cased command name of a command line
func CmdName(cmdLine [][]byte) string {
	if len(cmdLine) == 0 {
		return ""
	}
	return strings.ToLower(string(cmdLine[0]))
}

// CmdString renders a command line for logs, truncating long arguments
func CmdString(cmdLine [][]byte) string {
	parts := make([]string, len(cmdLine))
	for i, arg := range cmdLine {
		if len(arg) > 32 {
			parts[i] = string(arg[:32]) + "..."
		} else {
			parts[i] = string(arg)
		}
	}
	return strings.Join(parts, " ")
}

var hexLetters = []rune("0123456789abcdef")

// RandHexString create a random hex string of length n
func RandHexString(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = hexLetters[rand.Intn(len(hexLetters))]
	}
	return string(b)
}
