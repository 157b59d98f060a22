package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/wastebin/wastebin/internal/content"
	"github.com/wastebin/wastebin/internal/logging"
	"github.com/wastebin/wastebin/internal/metrics"
	"github.com/wastebin/wastebin/internal/storage"
	"github.com/wastebin/wastebin/internal/token"
)

const (
	headerModificationKey   = "Modification-Key"
	headerAllowModification = "Allow-Modification"
	headerRealIP            = "X-Real-IP"
	headerRequestID         = "X-Request-ID"

	defaultContentType = "text/plain"
	immutableCaching   = "public, max-age=86400"
)

const (
	opCreate = "create"
	opRead   = "read"
	opUpdate = "update"
)

// Create 处理 POST /post：生成 key，先把待定 Future 放入缓存，再交给 worker pool 压缩并落盘。
func (h *Handler) Create(c fiber.Ctx) error {
	body := c.Request().Body()
	clientIP := ClientIP(c)

	if len(body) == 0 {
		return h.plain(c, opCreate, fiber.StatusBadRequest, "Missing content")
	}
	if h.postLimiter.Check(clientIP) {
		return h.rateLimited(c, opCreate)
	}
	if len(body) > h.maxContentLength {
		return h.plain(c, opCreate, fiber.StatusRequestEntityTooLarge, "Content too large")
	}

	key := h.keys.Generate()
	contentType := c.Get(fiber.HeaderContentType, defaultContentType)
	compressed := c.Get(fiber.HeaderContentEncoding) == "gzip"
	userAgent := c.Get(fiber.HeaderUserAgent)
	origin := c.Get(fiber.HeaderOrigin)

	var authKey string
	if allow, _ := strconv.ParseBool(c.Get(headerAllowModification)); allow {
		authKey = h.modificationKeys.Generate()
	}

	fields := logging.RequestFields("content_post", key, clientIP, requestID(c))
	fields["content_type"] = contentType
	fields["user_agent"] = userAgent
	fields["size"] = len(body)
	fields["compressed"] = compressed
	fields["modifiable"] = authKey != ""
	if origin != "" {
		fields["origin"] = origin
	}
	h.logger.WithFields(fields).Info("content_post")

	// fasthttp 会复用请求缓冲区，异步任务必须持有副本。
	payload := append([]byte(nil), body...)

	sink := content.NewFuture()
	h.cache.Put(key, sink)
	err := h.store.Save(storage.SaveRequest{
		Key:              key,
		ContentType:      contentType,
		Payload:          payload,
		Expiry:           h.now().Add(h.lifetime(userAgent, origin)),
		AuthKey:          authKey,
		NeedsCompression: !compressed,
	}, sink)
	if err != nil {
		h.logger.WithError(err).WithFields(fields).Error("content_post_failed")
		return h.plain(c, opCreate, fiber.StatusServiceUnavailable, "Unable to store content")
	}

	c.Set(fiber.HeaderLocation, key)
	if authKey != "" {
		c.Set(headerModificationKey, authKey)
	}
	h.count(opCreate, fiber.StatusCreated)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"key": key})
}

// Read 处理 GET /:key，等待缓存 Future 完成后返回正文。
func (h *Handler) Read(c fiber.Ctx) error {
	key := c.Params("key")
	if !token.ValidKey(key) {
		return h.plain(c, opRead, fiber.StatusNotFound, "Invalid path")
	}

	clientIP := ClientIP(c)
	if h.readLimiter.Check(clientIP) {
		return h.rateLimited(c, opRead)
	}

	fields := logging.RequestFields("content_get", key, clientIP, requestID(c))
	fields["user_agent"] = c.Get(fiber.HeaderUserAgent)
	if origin := c.Get(fiber.HeaderOrigin); origin != "" {
		fields["origin"] = origin
	}
	h.logger.WithFields(fields).Debug("content_get")

	entry, found, err := h.cache.Get(key).Wait(c.Context())
	if err != nil && !errors.Is(err, content.ErrCorrupt) {
		h.logger.WithError(err).WithFields(fields).Error("content_get_failed")
		return h.plain(c, opRead, fiber.StatusInternalServerError, "Unable to read content")
	}
	if !found || len(entry.Payload()) == 0 || entry.Expired(h.now()) {
		return h.plain(c, opRead, fiber.StatusNotFound, "Invalid path")
	}

	c.Set(fiber.HeaderLastModified, entry.LastModified().UTC().Format(http.TimeFormat))
	if entry.Modifiable() {
		c.Set(fiber.HeaderCacheControl, "no-cache")
	} else {
		c.Set(fiber.HeaderCacheControl, immutableCaching)
	}

	payload := entry.Payload()
	if content.AcceptsGzip(c.Get(fiber.HeaderAcceptEncoding)) {
		c.Set(fiber.HeaderContentEncoding, "gzip")
	} else {
		payload, err = content.Decompress(payload)
		if err != nil {
			h.logger.WithError(err).WithFields(fields).Warn("content_decompress_failed")
			return h.plain(c, opRead, fiber.StatusNotFound, "Unable to uncompress data")
		}
	}

	c.Set(fiber.HeaderContentType, entry.ContentType())
	h.count(opRead, fiber.StatusOK)
	return c.Status(fiber.StatusOK).Send(payload)
}

// Update 处理 PUT /:key：校验修改密钥后构造新的不可变条目，以 CAS 方式替换缓存并异步落盘。
func (h *Handler) Update(c fiber.Ctx) error {
	key := c.Params("key")
	if !token.ValidKey(key) {
		return h.plain(c, opUpdate, fiber.StatusNotFound, "Invalid path")
	}

	body := c.Request().Body()
	clientIP := ClientIP(c)
	if len(body) == 0 {
		return h.plain(c, opUpdate, fiber.StatusBadRequest, "Missing content")
	}
	if h.updateLimiter.Check(clientIP) {
		return h.rateLimited(c, opUpdate)
	}

	authKey := c.Get(headerModificationKey)
	if authKey == "" {
		return h.plain(c, opUpdate, fiber.StatusForbidden, "Modification-Key header not present")
	}

	fields := logging.RequestFields("content_put", key, clientIP, requestID(c))

	current := h.cache.Get(key)
	old, found, err := current.Wait(c.Context())
	if err != nil && !errors.Is(err, content.ErrCorrupt) {
		h.logger.WithError(err).WithFields(fields).Error("content_put_failed")
		return h.plain(c, opUpdate, fiber.StatusInternalServerError, "Unable to read content")
	}
	if !found || len(old.Payload()) == 0 || old.Expired(h.now()) {
		return h.plain(c, opUpdate, fiber.StatusForbidden, "Incorrect modification key")
	}
	if !old.Modifiable() || !old.Authorize(authKey) {
		h.logger.WithFields(fields).Warn("content_put_unauthorized")
		return h.plain(c, opUpdate, fiber.StatusForbidden, "Incorrect modification key")
	}

	contentType := c.Get(fiber.HeaderContentType, old.ContentType())
	payload := append([]byte(nil), body...)
	if c.Get(fiber.HeaderContentEncoding) != "gzip" {
		payload, err = content.Compress(payload)
		if err != nil {
			h.logger.WithError(err).WithFields(fields).Error("content_compress_failed")
			return h.plain(c, opUpdate, fiber.StatusInternalServerError, "Unable to compress content")
		}
	}
	if len(payload) > h.maxContentLength {
		return h.plain(c, opUpdate, fiber.StatusRequestEntityTooLarge, "Content too large")
	}

	now := h.now()
	next := old.WithUpdate(contentType, now.Add(h.updateLifetime), now, payload)
	if _, ok := h.cache.CompareAndSwap(key, current, next); !ok {
		return h.plain(c, opUpdate, fiber.StatusConflict, "Concurrent modification")
	}

	fields["content_type"] = contentType
	fields["old_size"] = len(old.Payload())
	fields["new_size"] = len(payload)
	h.logger.WithFields(fields).Info("content_put")

	if err := h.store.SaveEntry(next); err != nil {
		h.cache.Invalidate(key)
		h.logger.WithError(err).WithFields(fields).Error("content_put_failed")
		return h.plain(c, opUpdate, fiber.StatusServiceUnavailable, "Unable to store content")
	}

	h.count(opUpdate, fiber.StatusOK)
	return c.Status(fiber.StatusOK).Send(nil)
}

// ClientIP 优先使用反向代理写入的 X-Real-IP，否则取连接地址。
func ClientIP(c fiber.Ctx) string {
	if ip := c.Get(headerRealIP); ip != "" {
		return ip
	}
	return c.IP()
}

func requestID(c fiber.Ctx) string {
	return c.GetRespHeader(headerRequestID)
}

func (h *Handler) rateLimited(c fiber.Ctx, op string) error {
	metrics.RateLimited.WithValues(op).Inc(1)
	h.logger.WithFields(logrus.Fields{
		"action":    "rate_limited",
		"operation": op,
		"client_ip": ClientIP(c),
	}).Debug("rate_limited")
	return h.plain(c, op, fiber.StatusTooManyRequests, "Rate limit exceeded")
}

func (h *Handler) plain(c fiber.Ctx, op string, code int, msg string) error {
	h.count(op, code)
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(code).SendString(msg)
}

func (h *Handler) count(op string, code int) {
	metrics.Requests.WithValues(op, strconv.Itoa(code)).Inc(1)
}
