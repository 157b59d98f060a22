package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/wastebin/wastebin/internal/content"
	"github.com/wastebin/wastebin/internal/metrics"
	"github.com/wastebin/wastebin/internal/worker"
)

// ErrNoExecutor 表示未提供执行加载任务的 worker pool。
var ErrNoExecutor = errors.New("executor is required")

// Loader 是缓存未命中时的数据来源，storage.Handler 即其实现。
type Loader interface {
	Load(ctx context.Context, key string) (content.Entry, bool, error)
}

// LoaderFunc 将函数适配为 Loader。
type LoaderFunc func(ctx context.Context, key string) (content.Entry, bool, error)

// Load 使 LoaderFunc 满足 Loader。
func (f LoaderFunc) Load(ctx context.Context, key string) (content.Entry, bool, error) {
	return f(ctx, key)
}

// Options 控制缓存容量与淘汰策略。
type Options struct {
	Loader   Loader
	Executor worker.Executor
	Logger   *logrus.Logger
	// ExpireAfterAccess 为条目自最后一次访问起的存活时间，<=0 表示不按时间淘汰。
	ExpireAfterAccess time.Duration
	// MaxWeight 为常驻正文字节数上限。
	MaxWeight int64
}

// Stats 是缓存的即时快照。
type Stats struct {
	Entries   int   `json:"entries"`
	Pending   int   `json:"pending"`
	Weight    int64 `json:"weight"`
	MaxWeight int64 `json:"max_weight"`
}

// ContentCache 是按 key 单飞加载、按权重与空闲时间淘汰的异步缓存。
type ContentCache struct {
	loader    Loader
	executor  worker.Executor
	logger    *logrus.Logger
	ttl       time.Duration
	maxWeight int64
	now       func() time.Time
	group     singleflight.Group

	mu     sync.Mutex
	items  map[string]*list.Element
	order  *list.List // front = most recently accessed
	weight int64
}

type item struct {
	key        string
	future     *content.Future
	weight     int64
	lastAccess time.Time
	settled    bool
}

type loadResult struct {
	entry content.Entry
	found bool
}

// New 构建缓存。
func New(opts Options) (*ContentCache, error) {
	if opts.Loader == nil {
		return nil, errors.New("loader is required")
	}
	if opts.Executor == nil {
		return nil, ErrNoExecutor
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.MaxWeight <= 0 {
		return nil, errors.New("max weight must be positive")
	}
	return &ContentCache{
		loader:    opts.Loader,
		executor:  opts.Executor,
		logger:    opts.Logger,
		ttl:       opts.ExpireAfterAccess,
		maxWeight: opts.MaxWeight,
		now:       time.Now,
		items:     make(map[string]*list.Element),
		order:     list.New(),
	}, nil
}

// Get 返回 key 对应的 Future。命中时直接返回缓存中的 Future；未命中时安装一个待定 Future，
// 并在 worker pool 上发起唯一一次加载，期间的并发调用共享同一个 Future。
func (c *ContentCache) Get(key string) *content.Future {
	now := c.now()

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		it := el.Value.(*item)
		if !c.idle(it, now) {
			it.lastAccess = now
			c.order.MoveToFront(el)
			c.mu.Unlock()
			metrics.CacheRequests.WithValues("hit").Inc(1)
			return it.future
		}
		c.removeElement(el)
		metrics.CacheEvictions.WithValues("idle").Inc(1)
	}
	f := content.NewFuture()
	c.install(key, f, now)
	c.mu.Unlock()

	metrics.CacheRequests.WithValues("miss").Inc(1)
	f.OnComplete(func() { c.settle(key, f) })
	c.load(key, f)
	return f
}

// Put 强制安装 key 的 Future（可尚未完成），覆盖已有条目。
func (c *ContentCache) Put(key string, f *content.Future) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	c.install(key, f, c.now())
	c.mu.Unlock()

	f.OnComplete(func() { c.settle(key, f) })
}

// CompareAndSwap 仅当缓存中 key 仍持有 expected（或已不在缓存中）时，以 next 替换之。
// 读者要么看到旧条目，要么看到新条目。
func (c *ContentCache) CompareAndSwap(key string, expected *content.Future, next content.Entry) (*content.Future, bool) {
	f := content.Completed(next)

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		if el.Value.(*item).future != expected {
			c.mu.Unlock()
			return nil, false
		}
		c.removeElement(el)
	}
	c.install(key, f, c.now())
	c.mu.Unlock()

	c.settle(key, f)
	return f, true
}

// Invalidate 丢弃 key 的缓存副本，磁盘文件不受影响。
func (c *ContentCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
		metrics.CacheEvictions.WithValues("invalidate").Inc(1)
	}
}

// CleanUp 主动淘汰所有空闲超时的条目，返回淘汰数量。
func (c *ContentCache) CleanUp() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.idle(el.Value.(*item), now) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	if removed > 0 {
		metrics.CacheEvictions.WithValues("idle").Inc(float64(removed))
	}
	return removed
}

// Stats 返回条目数量与当前权重。
func (c *ContentCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := 0
	for _, el := range c.items {
		if !el.Value.(*item).settled {
			pending++
		}
	}
	return Stats{
		Entries:   len(c.items),
		Pending:   pending,
		Weight:    c.weight,
		MaxWeight: c.maxWeight,
	}
}

func (c *ContentCache) load(key string, f *content.Future) {
	err := c.executor.Submit("cache_load", func(ctx context.Context) (err error) {
		// loader panic 时也要让 Future 失败，否则该 key 会一直挂着未完成的槽位。
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("load %s panicked: %v", key, r)
				f.Fail(err)
			}
		}()
		v, err, _ := c.group.Do(key, func() (interface{}, error) {
			entry, found, err := c.loader.Load(ctx, key)
			return loadResult{entry: entry, found: found}, err
		})
		if err != nil {
			f.Fail(err)
			return err
		}
		result := v.(loadResult)
		if result.found {
			f.Complete(result.entry)
		} else {
			f.CompleteAbsent()
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_load", "key": key}).Error("cache_load_submit_failed")
		f.Fail(err)
	}
}

// settle 在 Future 完成后计入权重；失败或不存在的结果直接移除，不做负缓存。
func (c *ContentCache) settle(key string, f *content.Future) {
	entry, found, err := f.Result()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return
	}
	it := el.Value.(*item)
	if it.future != f || it.settled {
		return
	}
	if err != nil || !found {
		c.removeElement(el)
		return
	}
	it.weight = entry.Weight()
	it.settled = true
	c.weight += it.weight
	c.evictOverweight()
	metrics.CacheWeight.Set(float64(c.weight))
}

func (c *ContentCache) install(key string, f *content.Future, now time.Time) {
	c.items[key] = c.order.PushFront(&item{key: key, future: f, lastAccess: now})
}

func (c *ContentCache) idle(it *item, now time.Time) bool {
	return c.ttl > 0 && it.settled && now.Sub(it.lastAccess) >= c.ttl
}

// evictOverweight 从最久未访问的一端淘汰已完成条目，直到总权重回到上限以内。
func (c *ContentCache) evictOverweight() {
	for el := c.order.Back(); el != nil && c.weight > c.maxWeight; {
		prev := el.Prev()
		if el.Value.(*item).settled {
			c.removeElement(el)
			metrics.CacheEvictions.WithValues("weight").Inc(1)
		}
		el = prev
	}
}

func (c *ContentCache) removeElement(el *list.Element) {
	it := c.order.Remove(el).(*item)
	delete(c.items, it.key)
	if it.settled {
		c.weight -= it.weight
		metrics.CacheWeight.Set(float64(c.weight))
	}
}
