package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler 基于 cron 周期性地把任务投递到 Pool，同一任务上一轮未结束时跳过本轮。
type Scheduler struct {
	cron   *cron.Cron
	pool   *Pool
	logger *logrus.Logger
}

// NewScheduler 创建绑定到 pool 的调度器，需调用 Start 才会开始触发。
func NewScheduler(pool *Pool, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		pool:   pool,
		logger: logger,
	}
}

// Every 注册一个以固定间隔运行的任务。
func (s *Scheduler) Every(interval time.Duration, name string, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval for %s: %s", name, interval)
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		started := time.Now()
		err := s.pool.Do(context.Background(), name, task)
		fields := logrus.Fields{
			"action":   "scheduled_task",
			"task":     name,
			"duration": time.Since(started).String(),
		}
		if err != nil {
			s.logger.WithError(err).WithFields(fields).Warn("scheduled_task_failed")
			return
		}
		s.logger.WithFields(fields).Debug("scheduled_task_done")
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Start 启动调度。
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止触发新任务，并等待正在运行的任务结束或 ctx 超时。
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
