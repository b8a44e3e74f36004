package room

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

const (
	// CodeAlphabet 房间码字符集，去掉了 0/O/1/I/L
	CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	// CodeLength 房间码长度
	CodeLength = 6
)

// 拒绝采样上界，保证每个字符等概率
var codeLimit = byte(256 - 256%len(CodeAlphabet))

// newCode 生成随机房间码
func newCode(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, CodeLength*2)
	for sb.Len() < CodeLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= codeLimit {
				continue
			}
			sb.WriteByte(CodeAlphabet[int(b)%len(CodeAlphabet)])
			if sb.Len() == CodeLength {
				break
			}
		}
	}
	return sb.String(), nil
}

// newSeed 生成题目种子
func newSeed(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// NormalizeCode 去空白并转大写
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode 是否为合法格式的房间码
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
