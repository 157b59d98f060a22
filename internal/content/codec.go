package content

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// FormatVersion 是当前写入的磁盘格式版本。
const FormatVersion int32 = 1

// 磁盘布局（大端序）：
//
//	int32  version
//	utf    key                 (uint16 长度前缀)
//	int32  content type 长度
//	bytes  content type
//	int64  expiry (epoch ms)
//	int64  last modified (epoch ms)
//	bool   modifiable          (1 字节)
//	utf    auth key            (仅 modifiable 时存在)
//	int32  payload 长度
//	bytes  payload

var (
	// ErrCorrupt 表示字节流在某个字段读完之前结束，条目不可恢复。
	ErrCorrupt = errors.New("content: truncated or corrupt entry")
	// ErrUnsupportedVersion 表示文件来自未知的格式版本。
	ErrUnsupportedVersion = errors.New("content: unsupported format version")
)

// payloadChunk 限制按长度字段预分配的内存，长度字段损坏时不会一次性申请超大缓冲区。
const payloadChunk = 1 << 20

// Encode 将条目按当前版本写入 w。
func Encode(w io.Writer, e Entry) error {
	enc := encoder{w: w}
	enc.int32(FormatVersion)
	enc.utf(e.key)
	enc.int32(int32(len(e.contentType)))
	enc.bytes([]byte(e.contentType))
	enc.int64(e.expiry.UnixMilli())
	enc.int64(e.lastModified.UnixMilli())
	enc.bool(e.modifiable)
	if e.modifiable {
		enc.utf(e.authKey)
	}
	if len(e.payload) > math.MaxInt32 {
		return fmt.Errorf("content: payload of %d bytes exceeds format limit", len(e.payload))
	}
	enc.int32(int32(len(e.payload)))
	enc.bytes(e.payload)
	return enc.err
}

// Decode 读取完整条目（含正文）。
func Decode(r io.Reader) (Entry, error) {
	return decode(r, true)
}

// DecodeMeta 只读取正文之前的头部字段，返回条目的 Payload 为空。
func DecodeMeta(r io.Reader) (Entry, error) {
	return decode(r, false)
}

func decode(r io.Reader, withPayload bool) (Entry, error) {
	dec := decoder{r: r}

	version := dec.int32()
	if dec.err == nil && version != FormatVersion {
		return Entry{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	var e Entry
	e.key = dec.utf()
	e.contentType = string(dec.sized(int64(dec.int32())))
	e.expiry = time.UnixMilli(dec.int64())
	e.lastModified = time.UnixMilli(dec.int64())
	e.modifiable = dec.bool()
	if e.modifiable {
		e.authKey = dec.utf()
	}
	if dec.err != nil {
		return Entry{}, dec.err
	}
	if !withPayload {
		return e.withoutPayload(), nil
	}

	e.payload = dec.sized(int64(dec.int32()))
	if dec.err != nil {
		return Entry{}, dec.err
	}
	return e, nil
}

type encoder struct {
	w   io.Writer
	err error
	buf [8]byte
}

func (e *encoder) bytes(p []byte) {
	if e.err != nil || len(p) == 0 {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *encoder) int32(v int32) {
	binary.BigEndian.PutUint32(e.buf[:4], uint32(v))
	e.bytes(e.buf[:4])
}

func (e *encoder) int64(v int64) {
	binary.BigEndian.PutUint64(e.buf[:8], uint64(v))
	e.bytes(e.buf[:8])
}

func (e *encoder) bool(v bool) {
	if v {
		e.buf[0] = 1
	} else {
		e.buf[0] = 0
	}
	e.bytes(e.buf[:1])
}

func (e *encoder) utf(s string) {
	if e.err != nil {
		return
	}
	if len(s) > math.MaxUint16 {
		e.err = fmt.Errorf("content: string of %d bytes exceeds format limit", len(s))
		return
	}
	binary.BigEndian.PutUint16(e.buf[:2], uint16(len(s)))
	e.bytes(e.buf[:2])
	e.bytes([]byte(s))
}

// decoder 在第一次失败后短路后续读取；EOF 类错误统一转换为 ErrCorrupt，其余 I/O 错误原样保留。
type decoder struct {
	r   io.Reader
	err error
	buf [8]byte
}

func (d *decoder) fill(p []byte) bool {
	if d.err != nil {
		return false
	}
	if _, err := io.ReadFull(d.r, p); err != nil {
		d.fail(err)
		return false
	}
	return true
}

func (d *decoder) fail(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		d.err = ErrCorrupt
		return
	}
	d.err = err
}

func (d *decoder) int32() int32 {
	if !d.fill(d.buf[:4]) {
		return 0
	}
	return int32(binary.BigEndian.Uint32(d.buf[:4]))
}

func (d *decoder) int64() int64 {
	if !d.fill(d.buf[:8]) {
		return 0
	}
	return int64(binary.BigEndian.Uint64(d.buf[:8]))
}

func (d *decoder) bool() bool {
	if !d.fill(d.buf[:1]) {
		return false
	}
	return d.buf[0] != 0
}

func (d *decoder) utf() string {
	if !d.fill(d.buf[:2]) {
		return ""
	}
	return string(d.sized(int64(binary.BigEndian.Uint16(d.buf[:2]))))
}

func (d *decoder) sized(n int64) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 {
		d.err = fmt.Errorf("%w: negative length %d", ErrCorrupt, n)
		return nil
	}
	var out bytes.Buffer
	out.Grow(int(min(n, payloadChunk)))
	copied, err := io.CopyN(&out, d.r, n)
	if err != nil {
		d.fail(err)
		return nil
	}
	if copied < n {
		d.err = ErrCorrupt
		return nil
	}
	return out.Bytes()
}
