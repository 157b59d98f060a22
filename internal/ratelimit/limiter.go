// Package ratelimit implements the per-identity request counter that gates
// create, read and update operations.
//
// Each identity owns a counter whose lifetime is one period measured from the
// most recent Check. A counter therefore only resets after the identity has
// been idle for a full period; steady traffic keeps extending the window.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limiter 以身份（通常是客户端 IP）为粒度计数，超过 actionsPerCycle 后判定为限流。
type Limiter struct {
	period time.Duration
	limit  int
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

type counter struct {
	count    int
	expireAt time.Time
}

// New 创建窗口为 periodMinutes 分钟、每窗口允许 actionsPerCycle 次操作的限流器。
func New(periodMinutes, actionsPerCycle int) (*Limiter, error) {
	if periodMinutes <= 0 {
		return nil, fmt.Errorf("rate limit period must be positive, got %d", periodMinutes)
	}
	if actionsPerCycle < 0 {
		return nil, fmt.Errorf("rate limit actions must not be negative, got %d", actionsPerCycle)
	}
	return &Limiter{
		period:   time.Duration(periodMinutes) * time.Minute,
		limit:    actionsPerCycle,
		now:      time.Now,
		counters: make(map[string]*counter),
	}, nil
}

// Check 为 identity 计数一次并续期，返回 true 表示本次请求应被拒绝。
func (l *Limiter) Check(identity string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[identity]
	if !ok || !now.Before(c.expireAt) {
		c = &counter{}
		l.counters[identity] = c
	}
	c.count++
	c.expireAt = now.Add(l.period)
	return c.count > l.limit
}

// Sweep 清理已闲置满一个周期的身份，返回清理数量。
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for identity, c := range l.counters {
		if !now.Before(c.expireAt) {
			delete(l.counters, identity)
			removed++
		}
	}
	return removed
}

// Len 返回当前跟踪的身份数量。
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}
