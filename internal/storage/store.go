package storage

import (
	"errors"
	"time"
)

// ErrInvalidKey 表示 key 无法安全映射为存储目录下的文件名。
var ErrInvalidKey = errors.New("storage: invalid content key")

// SaveRequest 描述一次新建内容的写入。AuthKey 非空时条目可修改。
type SaveRequest struct {
	Key              string
	ContentType      string
	Payload          []byte
	Expiry           time.Time
	AuthKey          string
	NeedsCompression bool
}

// SweepReport 汇总一次过期清理的结果。
type SweepReport struct {
	Scanned    int
	Expired    int
	Corrupt    int
	Unreadable int
	StaleTemp  int
}
