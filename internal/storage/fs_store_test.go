package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wastebin/wastebin/internal/content"
	"github.com/wastebin/wastebin/internal/worker"
)

// inlineExecutor runs tasks on the calling goroutine so tests observe results deterministically.
type inlineExecutor struct{}

func (inlineExecutor) Submit(_ string, task worker.Task) error {
	return task(context.Background())
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	return newTestHandlerWithOptions(t, Options{})
}

func newTestHandlerWithOptions(t *testing.T, opts Options) *Handler {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if opts.BasePath == "" {
		opts.BasePath = t.TempDir()
	}
	opts.Logger = logger
	if opts.Executor == nil {
		opts.Executor = inlineExecutor{}
	}
	h, err := NewHandler(opts)
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}
	return h
}

func writeEntry(t *testing.T, h *Handler, e content.Entry) {
	t.Helper()
	if err := h.Write(context.Background(), e); err != nil {
		t.Fatalf("write %s: %v", e.Key(), err)
	}
}

func TestNewHandlerCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "content")
	h := newTestHandlerWithOptions(t, Options{BasePath: dir})
	info, err := os.Stat(h.BasePath())
	if err != nil || !info.IsDir() {
		t.Fatalf("expected storage directory to exist: %v", err)
	}
}

func TestWriteAndLoad(t *testing.T) {
	h := newTestHandler(t)
	expiry := time.UnixMilli(time.Now().Add(time.Hour).UnixMilli())
	modified := time.UnixMilli(time.Now().UnixMilli())
	entry := content.NewModifiableEntry("abc123", "text/plain", expiry, modified, "secret", []byte("payload"))
	writeEntry(t, h, entry)

	loaded, found, err := h.Load(context.Background(), "abc123")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if loaded.Key() != "abc123" || loaded.ContentType() != "text/plain" || !bytes.Equal(loaded.Payload(), []byte("payload")) {
		t.Fatalf("loaded entry mismatch")
	}
	if key, ok := loaded.AuthKey(); !ok || key != "secret" {
		t.Fatalf("auth key not persisted")
	}
	if !loaded.Expiry().Equal(expiry) || !loaded.LastModified().Equal(modified) {
		t.Fatalf("timestamps not persisted")
	}
}

func TestLoadMissingIsNotAnError(t *testing.T) {
	h := newTestHandler(t)
	_, found, err := h.Load(context.Background(), "missing")
	if err != nil || found {
		t.Fatalf("expected found=false and nil error, got found=%v err=%v", found, err)
	}
	_, found, err = h.LoadMeta(context.Background(), filepath.Join(h.BasePath(), "missing"))
	if err != nil || found {
		t.Fatalf("expected meta found=false and nil error, got found=%v err=%v", found, err)
	}
}

func TestLoadCorruptFails(t *testing.T) {
	h := newTestHandler(t)
	if err := os.WriteFile(filepath.Join(h.BasePath(), "broken"), []byte{0, 0, 0, 1, 0}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := h.Load(context.Background(), "broken")
	if !errors.Is(err, content.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadRejectsInvalidKey(t *testing.T) {
	h := newTestHandler(t)
	for _, key := range []string{"", "..", "../etc", "a/b", "a.b"} {
		if _, _, err := h.Load(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestLoadIgnoresDirectories(t *testing.T) {
	h := newTestHandler(t)
	if err := os.Mkdir(filepath.Join(h.BasePath(), "folder"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, found, err := h.Load(context.Background(), "folder"); err != nil || found {
		t.Fatalf("directory should read as absent, got found=%v err=%v", found, err)
	}
}

func TestSaveCompressesPublishesAndPersists(t *testing.T) {
	h := newTestHandler(t)
	sink := content.NewFuture()
	raw := bytes.Repeat([]byte("hello "), 100)
	expiry := time.Now().Add(time.Hour)

	err := h.Save(SaveRequest{
		Key:              "k1",
		ContentType:      "text/plain",
		Payload:          raw,
		Expiry:           expiry,
		AuthKey:          "modkey",
		NeedsCompression: true,
	}, sink)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	published, found, err := sink.Wait(context.Background())
	if err != nil || !found {
		t.Fatalf("sink not completed: %v", err)
	}
	restored, err := content.Decompress(published.Payload())
	if err != nil || !bytes.Equal(restored, raw) {
		t.Fatalf("published payload should be gzip of input: %v", err)
	}
	if !published.Modifiable() {
		t.Fatalf("auth key should make entry modifiable")
	}

	loaded, found, err := h.Load(context.Background(), "k1")
	if err != nil || !found {
		t.Fatalf("load after save: found=%v err=%v", found, err)
	}
	if !bytes.Equal(loaded.Payload(), published.Payload()) {
		t.Fatalf("disk payload differs from published payload")
	}
}

func TestSaveKeepsPrecompressedPayload(t *testing.T) {
	h := newTestHandler(t)
	sink := content.NewFuture()
	gz, _ := content.Compress([]byte("already"))
	if err := h.Save(SaveRequest{Key: "k2", ContentType: "text/plain", Payload: gz, Expiry: time.Now().Add(time.Hour)}, sink); err != nil {
		t.Fatalf("save: %v", err)
	}
	entry, _, _ := sink.Result()
	if !bytes.Equal(entry.Payload(), gz) {
		t.Fatalf("pre-compressed payload must be stored as-is")
	}
	if entry.Modifiable() {
		t.Fatalf("entry without auth key must not be modifiable")
	}
}

func TestSaveEntryOverwrites(t *testing.T) {
	h := newTestHandler(t)
	now := time.UnixMilli(time.Now().UnixMilli())
	orig := content.NewModifiableEntry("k3", "text/plain", now.Add(time.Hour), now, "m", []byte("one"))
	writeEntry(t, h, orig)

	updated := orig.WithUpdate("text/html", now.Add(2*time.Hour), now.Add(time.Second), []byte("two"))
	if err := h.SaveEntry(updated); err != nil {
		t.Fatalf("save entry: %v", err)
	}
	loaded, _, err := h.Load(context.Background(), "k3")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ContentType() != "text/html" || !bytes.Equal(loaded.Payload(), []byte("two")) {
		t.Fatalf("overwrite not persisted")
	}
}

func TestWriteSkipsOlderEntry(t *testing.T) {
	h := newTestHandler(t)
	now := time.UnixMilli(time.Now().UnixMilli())
	first := content.NewModifiableEntry("k4", "text/plain", now.Add(time.Hour), now, "m", []byte("first"))
	second := first.WithUpdate("text/plain", now.Add(2*time.Hour), now.Add(time.Second), []byte("second"))

	// 两次更新的写盘任务乱序执行：较新的先落盘。
	if err := h.SaveEntry(second); err != nil {
		t.Fatalf("save second: %v", err)
	}
	if err := h.SaveEntry(first); err != nil {
		t.Fatalf("save first: %v", err)
	}

	loaded, _, err := h.Load(context.Background(), "k4")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(loaded.Payload(), []byte("second")) {
		t.Fatalf("older write must not replace newer content, got %q", loaded.Payload())
	}
}

func TestSaveReportsWriteFailure(t *testing.T) {
	var failedKey string
	h := newTestHandlerWithOptions(t, Options{
		OnWriteFailure: func(key string, err error) { failedKey = key },
	})
	if err := os.RemoveAll(h.BasePath()); err != nil {
		t.Fatalf("remove base: %v", err)
	}
	sink := content.NewFuture()
	h.Save(SaveRequest{Key: "lost", ContentType: "text/plain", Payload: []byte("x"), Expiry: time.Now().Add(time.Hour)}, sink)

	if _, found, _ := sink.Result(); !found {
		t.Fatalf("entry should be published before the write is attempted")
	}
	if failedKey != "lost" {
		t.Fatalf("expected write failure callback for lost, got %q", failedKey)
	}
}

func TestSavePanicFailsSink(t *testing.T) {
	h := newTestHandler(t)
	h.now = func() time.Time { panic("clock stopped") }

	sink := content.NewFuture()
	if err := h.Save(SaveRequest{Key: "boom", ContentType: "text/plain", Payload: []byte("x"), Expiry: time.Now().Add(time.Hour)}, sink); err == nil {
		t.Fatalf("expected panic to surface as a task error")
	}
	if !sink.Ready() {
		t.Fatalf("sink must be resolved after a panic")
	}
	if _, found, err := sink.Result(); err == nil || found {
		t.Fatalf("expected failed sink, got found=%v err=%v", found, err)
	}
}

func TestSaveRejectsInvalidKey(t *testing.T) {
	h := newTestHandler(t)
	sink := content.NewFuture()
	if err := h.Save(SaveRequest{Key: "../x"}, sink); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, _, err := sink.Result(); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("sink should fail with ErrInvalidKey, got %v", err)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	h := newTestHandler(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		writeEntry(t, h, content.NewEntry("same", "text/plain", now.Add(time.Hour), now, []byte{byte(i)}))
	}
	entries, err := os.ReadDir(h.BasePath())
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "same" {
		t.Fatalf("expected only the entry file, got %v", entries)
	}
}
