package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/wastebin/wastebin/internal/cache"
	"github.com/wastebin/wastebin/internal/metrics"
	"github.com/wastebin/wastebin/internal/version"
)

// CacheStats 由 cache.ContentCache 实现。
type CacheStats interface {
	Stats() cache.Stats
}

// PoolStats 由 worker.Pool 实现。
type PoolStats interface {
	Pending() int64
}

// Diagnostics 暴露 /-/metrics 与 /-/stats 诊断接口，供运维查询缓存与队列状态。
type Diagnostics struct {
	Cache CacheStats
	Pool  PoolStats
}

type statsPayload struct {
	Version      string      `json:"version"`
	Cache        cache.Stats `json:"cache"`
	PendingTasks int64       `json:"pending_tasks"`
}

// Register 挂载诊断路由。
func (d Diagnostics) Register(app *fiber.App) {
	if app == nil {
		return
	}

	app.Get("/-/metrics", adaptor.HTTPHandler(metrics.Handler()))

	app.Get("/-/stats", func(c fiber.Ctx) error {
		payload := statsPayload{Version: version.Full()}
		if d.Cache != nil {
			payload.Cache = d.Cache.Stats()
		}
		if d.Pool != nil {
			payload.PendingTasks = d.Pool.Pending()
		}
		return c.JSON(payload)
	})
}
