package content

import (
	"crypto/subtle"
	"time"
)

// MegabyteLength 为 1MB 对应的字节数，配置中的 Mb 单位均以此换算。
const MegabyteLength = 1024 * 1024

// Entry 表示一条持久化内容。字段在构造后只读，Payload 返回的切片不得被调用方修改。
type Entry struct {
	key          string
	contentType  string
	expiry       time.Time
	lastModified time.Time
	modifiable   bool
	authKey      string
	payload      []byte
}

// NewEntry 构造不可修改的条目。
func NewEntry(key, contentType string, expiry, lastModified time.Time, payload []byte) Entry {
	return Entry{
		key:          key,
		contentType:  contentType,
		expiry:       expiry,
		lastModified: lastModified,
		payload:      payload,
	}
}

// NewModifiableEntry 构造携带修改密钥的条目，持有 authKey 的客户端可以原地替换内容。
func NewModifiableEntry(key, contentType string, expiry, lastModified time.Time, authKey string, payload []byte) Entry {
	e := NewEntry(key, contentType, expiry, lastModified, payload)
	e.modifiable = true
	e.authKey = authKey
	return e
}

func (e Entry) Key() string             { return e.key }
func (e Entry) ContentType() string     { return e.contentType }
func (e Entry) Expiry() time.Time       { return e.expiry }
func (e Entry) LastModified() time.Time { return e.lastModified }
func (e Entry) Modifiable() bool        { return e.modifiable }
func (e Entry) Payload() []byte         { return e.payload }

// AuthKey 返回修改密钥；不可修改的条目返回 ok=false。
func (e Entry) AuthKey() (string, bool) {
	return e.authKey, e.modifiable
}

// Weight 为缓存计重使用的字节数。
func (e Entry) Weight() int64 {
	return int64(len(e.payload))
}

// Expired 判断条目在 now 时刻是否已过期。
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.expiry)
}

// Authorize 以常量时间比较修改密钥，不可修改的条目永远返回 false。
func (e Entry) Authorize(candidate string) bool {
	if !e.modifiable || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(e.authKey), []byte(candidate)) == 1
}

// WithUpdate 返回替换了内容类型、过期时间、修改时间与正文的新条目；key、modifiable 与 authKey 保持不变。
func (e Entry) WithUpdate(contentType string, expiry, lastModified time.Time, payload []byte) Entry {
	next := e
	next.contentType = contentType
	next.expiry = expiry
	next.lastModified = lastModified
	next.payload = payload
	return next
}

// withoutPayload 用于元数据解码结果。
func (e Entry) withoutPayload() Entry {
	e.payload = []byte{}
	return e
}
