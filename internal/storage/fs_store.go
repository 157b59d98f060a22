package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wastebin/wastebin/internal/content"
	"github.com/wastebin/wastebin/internal/metrics"
	"github.com/wastebin/wastebin/internal/token"
	"github.com/wastebin/wastebin/internal/worker"
)

const tempPrefix = ".tmp-"

// Options 汇总 Handler 的依赖。
type Options struct {
	BasePath string
	Logger   *logrus.Logger
	Executor worker.Executor
	// OnWriteFailure 在异步写盘失败时回调，通常用于让缓存丢弃尚未落盘的条目。
	OnWriteFailure func(key string, err error)
}

// Handler 负责内容目录的读写与过期清理，整站复用一份实例。
type Handler struct {
	basePath       string
	logger         *logrus.Logger
	executor       worker.Executor
	onWriteFailure func(key string, err error)
	now            func() time.Time
	openFile       func(name string) (*os.File, error)

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewHandler 以 opts.BasePath 为根目录构建存储处理器，目录不存在时自动创建。
func NewHandler(opts Options) (*Handler, error) {
	if opts.BasePath == "" {
		return nil, errors.New("storage path required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}

	abs, err := filepath.Abs(opts.BasePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &Handler{
		basePath:       abs,
		logger:         opts.Logger,
		executor:       opts.Executor,
		onWriteFailure: opts.OnWriteFailure,
		now:            time.Now,
		openFile:       os.Open,
		locks:          make(map[string]*entryLock),
	}, nil
}

// BasePath 返回内容目录的绝对路径。
func (h *Handler) BasePath() string {
	return h.basePath
}

// Load 读取 key 对应的完整条目。文件不存在时返回 found=false 且无错误；
// 截断或损坏返回 content.ErrCorrupt，其余 I/O 错误原样向上传递。
func (h *Handler) Load(ctx context.Context, key string) (content.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return content.Entry{}, false, err
	}
	started := time.Now()
	defer metrics.StorageLatency.WithValues("load").UpdateSince(started)

	filePath, err := h.path(key)
	if err != nil {
		return content.Entry{}, false, err
	}

	h.logger.WithFields(logrus.Fields{"action": "storage_load", "key": key}).Debug("loading from disk")

	entry, found, err := h.decodeFile(filePath, content.Decode)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{"action": "storage_load", "key": key}).Error("storage_load_failed")
		return content.Entry{}, false, fmt.Errorf("load %s: %w", key, err)
	}
	return entry, found, nil
}

// LoadMeta 只解码 filePath 的头部字段，供过期清理使用。
func (h *Handler) LoadMeta(ctx context.Context, filePath string) (content.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return content.Entry{}, false, err
	}
	return h.decodeFile(filePath, content.DecodeMeta)
}

func (h *Handler) decodeFile(filePath string, decode func(io.Reader) (content.Entry, error)) (content.Entry, bool, error) {
	f, err := h.openFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return content.Entry{}, false, nil
		}
		return content.Entry{}, false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return content.Entry{}, false, err
	}
	if info.IsDir() {
		return content.Entry{}, false, nil
	}

	entry, err := decode(bufio.NewReader(f))
	if err != nil {
		return content.Entry{}, false, err
	}
	return entry, true, nil
}

// Save 在 worker pool 上压缩（按需）并构造新条目，先通过 sink 发布给缓存，再写入磁盘。
// 返回值仅反映任务能否提交；写盘失败通过日志与 OnWriteFailure 报告。
func (h *Handler) Save(req SaveRequest, sink *content.Future) error {
	if !token.ValidKey(req.Key) {
		sink.Fail(ErrInvalidKey)
		return ErrInvalidKey
	}
	err := h.executor.Submit("storage_save", func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("save %s panicked: %v", req.Key, r)
				if !sink.Fail(err) && h.onWriteFailure != nil {
					h.onWriteFailure(req.Key, err)
				}
			}
		}()
		payload := req.Payload
		if req.NeedsCompression {
			compressed, err := content.Compress(payload)
			if err != nil {
				sink.Fail(err)
				return fmt.Errorf("compress %s: %w", req.Key, err)
			}
			payload = compressed
		}

		var entry content.Entry
		if req.AuthKey != "" {
			entry = content.NewModifiableEntry(req.Key, req.ContentType, req.Expiry, h.now(), req.AuthKey, payload)
		} else {
			entry = content.NewEntry(req.Key, req.ContentType, req.Expiry, h.now(), payload)
		}
		sink.Complete(entry)

		return h.persist(ctx, entry)
	})
	if err != nil {
		sink.Fail(err)
		return err
	}
	return nil
}

// SaveEntry 在 worker pool 上重写一个已存在条目（原地更新路径）。
func (h *Handler) SaveEntry(entry content.Entry) error {
	return h.executor.Submit("storage_save_entry", func(ctx context.Context) error {
		return h.persist(ctx, entry)
	})
}

func (h *Handler) persist(ctx context.Context, entry content.Entry) error {
	if err := h.Write(ctx, entry); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action": "storage_save",
			"key":    entry.Key(),
		}).Error("storage_save_failed")
		if h.onWriteFailure != nil {
			h.onWriteFailure(entry.Key(), err)
		}
		return err
	}
	return nil
}

// Write 同步编码并覆盖写入条目文件，通过临时文件 + rename 保证原子性。
// 比磁盘上现有版本更旧（LastModified 更早）的条目会被跳过。
func (h *Handler) Write(ctx context.Context, entry content.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	started := time.Now()
	defer metrics.StorageLatency.WithValues("write").UpdateSince(started)

	filePath, err := h.path(entry.Key())
	if err != nil {
		return err
	}

	unlock := h.lockEntry(entry.Key())
	defer unlock()

	// 队列中的写入可能乱序执行；磁盘上已有更新的版本时丢弃较旧的写入。
	if current, found, err := h.decodeFile(filePath, content.DecodeMeta); err == nil && found &&
		current.LastModified().UnixMilli() > entry.LastModified().UnixMilli() {
		h.logger.WithFields(logrus.Fields{
			"action": "storage_save",
			"key":    entry.Key(),
		}).Debug("storage_save_stale_skipped")
		return nil
	}

	tempFile, err := os.CreateTemp(h.basePath, tempPrefix+entry.Key()+"-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	w := bufio.NewWriter(tempFile)
	err = content.Encode(w, entry)
	if err == nil {
		err = w.Flush()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (h *Handler) lockEntry(key string) func() {
	h.mu.Lock()
	lock := h.locks[key]
	if lock == nil {
		lock = &entryLock{}
		h.locks[key] = lock
	}
	lock.refs++
	h.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		h.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(h.locks, key)
		}
		h.mu.Unlock()
	}
}

func (h *Handler) path(key string) (string, error) {
	if !token.ValidKey(key) {
		return "", ErrInvalidKey
	}
	return filepath.Join(h.basePath, key), nil
}
