package content

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"
)

func sampleEntries() []Entry {
	expiry := time.UnixMilli(1_900_000_000_123)
	modified := time.UnixMilli(1_700_000_000_456)
	return []Entry{
		NewEntry("abc1234", "text/plain", expiry, modified, []byte("hello world")),
		NewModifiableEntry("Zx9Qw2e", "application/json; charset=utf-8", expiry, modified, "0123456789abcdefghijABCDEFGHIJkl", bytes.Repeat([]byte{0x1f, 0x8b, 0x00}, 4096)),
		NewEntry("emptyct", "", expiry, modified, []byte{1}),
	}
}

func encodeEntry(t *testing.T, e Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, e); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func assertSameHeader(t *testing.T, want, got Entry) {
	t.Helper()
	if got.Key() != want.Key() {
		t.Fatalf("key mismatch: %q vs %q", got.Key(), want.Key())
	}
	if got.ContentType() != want.ContentType() {
		t.Fatalf("content type mismatch: %q vs %q", got.ContentType(), want.ContentType())
	}
	if !got.Expiry().Equal(want.Expiry()) {
		t.Fatalf("expiry mismatch: %v vs %v", got.Expiry(), want.Expiry())
	}
	if !got.LastModified().Equal(want.LastModified()) {
		t.Fatalf("last modified mismatch: %v vs %v", got.LastModified(), want.LastModified())
	}
	if got.Modifiable() != want.Modifiable() {
		t.Fatalf("modifiable mismatch: %v vs %v", got.Modifiable(), want.Modifiable())
	}
	gotKey, gotOK := got.AuthKey()
	wantKey, wantOK := want.AuthKey()
	if gotKey != wantKey || gotOK != wantOK {
		t.Fatalf("auth key mismatch: (%q,%v) vs (%q,%v)", gotKey, gotOK, wantKey, wantOK)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	for _, entry := range sampleEntries() {
		decoded, err := Decode(bytes.NewReader(encodeEntry(t, entry)))
		if err != nil {
			t.Fatalf("decode %s: %v", entry.Key(), err)
		}
		assertSameHeader(t, entry, decoded)
		if !bytes.Equal(decoded.Payload(), entry.Payload()) {
			t.Fatalf("payload mismatch for %s", entry.Key())
		}
	}
}

func TestDecodeMetaOmitsPayload(t *testing.T) {
	for _, entry := range sampleEntries() {
		decoded, err := DecodeMeta(bytes.NewReader(encodeEntry(t, entry)))
		if err != nil {
			t.Fatalf("decode meta %s: %v", entry.Key(), err)
		}
		assertSameHeader(t, entry, decoded)
		if len(decoded.Payload()) != 0 {
			t.Fatalf("metadata decode should not carry payload, got %d bytes", len(decoded.Payload()))
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	entry := NewEntry("k1", "t", time.UnixMilli(2), time.UnixMilli(3), []byte("p"))
	got := encodeEntry(t, entry)

	var want bytes.Buffer
	binary.Write(&want, binary.BigEndian, int32(1))
	binary.Write(&want, binary.BigEndian, uint16(2))
	want.WriteString("k1")
	binary.Write(&want, binary.BigEndian, int32(1))
	want.WriteString("t")
	binary.Write(&want, binary.BigEndian, int64(2))
	binary.Write(&want, binary.BigEndian, int64(3))
	want.WriteByte(0)
	binary.Write(&want, binary.BigEndian, int32(1))
	want.WriteString("p")

	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("layout mismatch:\n got %x\nwant %x", got, want.Bytes())
	}
}

func TestDecodeTruncatedIsCorrupt(t *testing.T) {
	entry := sampleEntries()[1]
	raw := encodeEntry(t, entry)
	authKey, _ := entry.AuthKey()
	// everything up to and including the payload length field
	headerLen := 4 + 2 + len(entry.Key()) + 4 + len(entry.ContentType()) + 8 + 8 + 1 + 2 + len(authKey) + 4

	for offset := 0; offset < headerLen; offset++ {
		_, err := Decode(bytes.NewReader(raw[:offset]))
		if !errors.Is(err, ErrCorrupt) {
			t.Fatalf("offset %d: expected ErrCorrupt, got %v", offset, err)
		}
	}
	for _, offset := range []int{headerLen, headerLen + 1, len(raw) - 1} {
		if _, err := Decode(bytes.NewReader(raw[:offset])); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("payload truncated at %d: expected ErrCorrupt, got %v", offset, err)
		}
	}
}

func TestDecodeMetaTruncatedHeaderIsCorrupt(t *testing.T) {
	raw := encodeEntry(t, sampleEntries()[0])
	for offset := 0; offset < 20; offset++ {
		if _, err := DecodeMeta(bytes.NewReader(raw[:offset])); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("offset %d: expected ErrCorrupt, got %v", offset, err)
		}
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestDecodeIOFailureIsNotCorrupt(t *testing.T) {
	raw := encodeEntry(t, sampleEntries()[0])
	boom := errors.New("device unavailable")
	_, err := Decode(&failingReader{data: raw[:10], err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	if errors.Is(err, ErrCorrupt) {
		t.Fatalf("I/O failure must not be reported as corruption")
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	raw := encodeEntry(t, sampleEntries()[0])
	binary.BigEndian.PutUint32(raw[:4], 7)
	_, err := Decode(bytes.NewReader(raw))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeNegativeLengthIsCorrupt(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int32(1))
	binary.Write(&buf, binary.BigEndian, uint16(1))
	buf.WriteString("k")
	binary.Write(&buf, binary.BigEndian, int32(-5))
	if _, err := Decode(&buf); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestDecodeLeavesTrailingBytes(t *testing.T) {
	raw := encodeEntry(t, sampleEntries()[0])
	reader := bytes.NewReader(append(raw, 0xff, 0xfe))
	if _, err := Decode(reader); err != nil {
		t.Fatalf("decode: %v", err)
	}
	rest, _ := io.ReadAll(reader)
	if len(rest) != 2 {
		t.Fatalf("expected trailing bytes untouched, got %d", len(rest))
	}
}
