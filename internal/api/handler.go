package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/wastebin/wastebin/internal/content"
	"github.com/wastebin/wastebin/internal/storage"
)

// ContentCache is the subset of cache.ContentCache the handlers use.
type ContentCache interface {
	Get(key string) *content.Future
	Put(key string, f *content.Future)
	CompareAndSwap(key string, expected *content.Future, next content.Entry) (*content.Future, bool)
	Invalidate(key string)
}

// ContentStore persists entries on the worker pool.
type ContentStore interface {
	Save(req storage.SaveRequest, sink *content.Future) error
	SaveEntry(entry content.Entry) error
}

// KeyGenerator issues random tokens.
type KeyGenerator interface {
	Generate() string
}

// Limiter reports whether an identity has exceeded its budget.
type Limiter interface {
	Check(identity string) bool
}

// Options wires the handler's collaborators.
type Options struct {
	Cache            ContentCache
	Store            ContentStore
	Logger           *logrus.Logger
	Keys             KeyGenerator
	ModificationKeys KeyGenerator

	PostLimiter   Limiter
	UpdateLimiter Limiter
	ReadLimiter   Limiter

	// MaxContentLength caps request bodies in bytes.
	MaxContentLength int
	// Lifetime resolves the lifetime of a new entry from the User-Agent and
	// Origin headers.
	Lifetime func(userAgent, origin string) time.Duration
	// UpdateLifetime is applied from the moment of an authorized update.
	UpdateLifetime time.Duration
}

// Handler serves the create, read and update endpoints.
type Handler struct {
	cache            ContentCache
	store            ContentStore
	logger           *logrus.Logger
	keys             KeyGenerator
	modificationKeys KeyGenerator
	postLimiter      Limiter
	updateLimiter    Limiter
	readLimiter      Limiter
	maxContentLength int
	lifetime         func(userAgent, origin string) time.Duration
	updateLifetime   time.Duration
	now              func() time.Time
}

// New validates opts and builds a Handler.
func New(opts Options) (*Handler, error) {
	switch {
	case opts.Cache == nil:
		return nil, errors.New("cache is required")
	case opts.Store == nil:
		return nil, errors.New("store is required")
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	case opts.Keys == nil || opts.ModificationKeys == nil:
		return nil, errors.New("key generators are required")
	case opts.PostLimiter == nil || opts.UpdateLimiter == nil || opts.ReadLimiter == nil:
		return nil, errors.New("rate limiters are required")
	case opts.MaxContentLength <= 0:
		return nil, errors.New("max content length must be positive")
	case opts.Lifetime == nil:
		return nil, errors.New("lifetime resolver is required")
	case opts.UpdateLifetime <= 0:
		return nil, errors.New("update lifetime must be positive")
	}

	return &Handler{
		cache:            opts.Cache,
		store:            opts.Store,
		logger:           opts.Logger,
		keys:             opts.Keys,
		modificationKeys: opts.ModificationKeys,
		postLimiter:      opts.PostLimiter,
		updateLimiter:    opts.UpdateLimiter,
		readLimiter:      opts.ReadLimiter,
		maxContentLength: opts.MaxContentLength,
		lifetime:         opts.Lifetime,
		updateLifetime:   opts.UpdateLifetime,
		now:              time.Now,
	}, nil
}

// Register mounts the content routes on app. The catch-all key routes must be
// registered after any fixed path such as "/" or "/-/...".
func (h *Handler) Register(app *fiber.App) {
	app.Post("/post", h.Create)
	app.Get("/:key", h.Read)
	app.Put("/:key", h.Update)
}
