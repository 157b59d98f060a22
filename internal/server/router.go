package server

import (
	_ "embed"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

//go:embed index.html
var defaultIndexPage []byte

// RouteRegistrar mounts a group of routes on the application.
type RouteRegistrar interface {
	Register(app *fiber.App)
}

// RegistrarFunc adapts a function to the RouteRegistrar interface.
type RegistrarFunc func(app *fiber.App)

// Register makes RegistrarFunc satisfy RouteRegistrar.
func (f RegistrarFunc) Register(app *fiber.App) {
	f(app)
}

// AppOptions controls how the Fiber application is assembled.
type AppOptions struct {
	Logger *logrus.Logger
	// Content mounts POST /post, GET /:key and PUT /:key.
	Content RouteRegistrar
	// Diagnostics mounts the /-/ routes; optional.
	Diagnostics RouteRegistrar
	// IndexPage is served on GET /. Empty means the embedded page.
	IndexPage []byte
	// BodyLimit caps request bodies read by fasthttp. 0 keeps Fiber's default.
	BodyLimit int
}

const contextKeyRequestID = "_wastebin_request_id"

// NewApp builds a Fiber application with panic recovery, request ids, CORS and
// structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Content == nil {
		return nil, errors.New("content routes are required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     opts.BodyLimit,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodPut},
		AllowHeaders:  []string{fiber.HeaderContentType, fiber.HeaderContentEncoding, "Modification-Key", "Allow-Modification"},
		ExposeHeaders: []string{fiber.HeaderLocation, "Modification-Key"},
		MaxAge:        86400,
	}))

	index := opts.IndexPage
	if len(index) == 0 {
		index = defaultIndexPage
	}
	app.Get("/", func(c fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.Send(index)
	})

	if opts.Diagnostics != nil {
		opts.Diagnostics.Register(app)
	}
	opts.Content.Register(app)

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID，写入 Locals 与响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// errorHandler 保留 fiber.Error 的状态码，其余未处理错误记录日志后统一返回 404 "Invalid path"。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
			return c.Status(fiberErr.Code).SendString(fiberErr.Message)
		}

		logger.WithError(err).WithFields(logrus.Fields{
			"action":     "handler_error",
			"method":     c.Method(),
			"path":       c.Path(),
			"request_id": RequestID(c),
		}).Error("handler_error")

		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(fiber.StatusNotFound).SendString("Invalid path")
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
