package content

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Compress 使用 gzip 压缩正文。
func Compress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(p) / 2)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(p); err != nil {
		zw.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress 解压 gzip 正文。
func Decompress(p []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}

// AcceptsGzip 判断 Accept-Encoding 头是否包含 gzip。
func AcceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(coding), "gzip") {
			return true
		}
	}
	return false
}
