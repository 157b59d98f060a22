// Package metrics declares the prometheus namespaces shared by the cache,
// storage, rate limiter and HTTP layers.
package metrics

import (
	"net/http"
	"sync"

	"github.com/docker/go-metrics"
)

const (
	// NamespacePrefix is the namespace of prometheus metrics
	NamespacePrefix = "wastebin"
)

var (
	// CacheNamespace covers the in-memory content cache.
	CacheNamespace = metrics.NewNamespace(NamespacePrefix, "cache", nil)

	// StorageNamespace covers disk persistence and the expiry sweep.
	StorageNamespace = metrics.NewNamespace(NamespacePrefix, "storage", nil)

	// HTTPNamespace covers request outcomes and rate limiting.
	HTTPNamespace = metrics.NewNamespace(NamespacePrefix, "http", nil)
)

var (
	// CacheRequests counts cache lookups by result (hit, miss).
	CacheRequests = CacheNamespace.NewLabeledCounter("requests", "The number of cache lookups", "result")
	// CacheEvictions counts removals by cause (weight, idle, invalidate).
	CacheEvictions = CacheNamespace.NewLabeledCounter("evictions", "The number of cache evictions", "cause")
	// CacheWeight tracks resident payload bytes.
	CacheWeight = CacheNamespace.NewGauge("weight", "The payload bytes held in memory", metrics.Bytes)

	// StorageLatency times disk operations.
	StorageLatency = StorageNamespace.NewLabeledTimer("latency", "The latency of disk operations", "operation")
	// SweepRemovals counts files deleted by the sweep by reason (expired, corrupt).
	SweepRemovals = StorageNamespace.NewLabeledCounter("sweep_removals", "The number of files deleted by the expiry sweep", "reason")

	// Requests counts handled requests by operation and status code.
	Requests = HTTPNamespace.NewLabeledCounter("requests", "The number of handled requests", "operation", "code")
	// RateLimited counts requests rejected by a limiter.
	RateLimited = HTTPNamespace.NewLabeledCounter("rate_limited", "The number of requests rejected by rate limiting", "operation")
)

var registerOnce sync.Once

// Register exposes every namespace on the default prometheus registry. Safe
// to call more than once.
func Register() {
	registerOnce.Do(func() {
		metrics.Register(CacheNamespace)
		metrics.Register(StorageNamespace)
		metrics.Register(HTTPNamespace)
	})
}

// Handler serves the default prometheus registry in exposition format.
func Handler() http.Handler {
	return metrics.Handler()
}
