// Package token generates the random alphanumeric identifiers used as
// content keys and modification keys, and validates keys taken from request
// paths before they are resolved against the storage directory.
package token

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Alphabet 为 token 可使用的 62 个字符。
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// rejectAbove 是 256 以内 len(Alphabet) 的最大整数倍，超出的字节需要丢弃以保持均匀分布。
const rejectAbove = 256 - 256%len(Alphabet)

// Generator 生成固定长度的随机 token，可被多个 goroutine 并发使用。
type Generator struct {
	length int
	source io.Reader
}

// NewGenerator 创建长度为 length 的生成器，length 必须大于 1。
func NewGenerator(length int) (*Generator, error) {
	if length <= 1 {
		return nil, fmt.Errorf("token length must be greater than 1, got %d", length)
	}
	return &Generator{length: length, source: rand.Reader}, nil
}

// Generate 返回一个新的随机 token。随机源不可读时 panic。
func (g *Generator) Generate() string {
	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length*2)
	for len(out) < g.length {
		if _, err := io.ReadFull(g.source, buf); err != nil {
			panic(fmt.Sprintf("token: read random source: %v", err))
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == g.length {
				break
			}
		}
	}
	return string(out)
}

// ValidKey 判断请求路径中的 key 是否可安全映射到存储文件：非空、不含 '.'，且只包含字母数字。
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
