package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	// ErrPoolClosed 表示 Pool 已进入关闭流程，不再接受新任务。
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrDrainTimeout 表示关闭时未能在超时时间内完成全部任务。
	ErrDrainTimeout = errors.New("worker pool drain timed out")
)

// Task 为提交到 Pool 的工作单元；返回的错误会被记录日志，并在关闭期间汇总给调用方。
type Task func(ctx context.Context) error

// Executor 是组件依赖的最小执行能力，便于测试中替换为同步实现。
type Executor interface {
	Submit(name string, task Task) error
}

// Pool 以固定数量的 goroutine 消费有界任务队列。
type Pool struct {
	logger *logrus.Logger
	tasks  chan namedTask
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	closed   bool
	draining atomic.Bool
	pending  atomic.Int64

	failMu   sync.Mutex
	failures error
}

type namedTask struct {
	name string
	run  Task
}

// queueFactor 决定每个 worker 对应的排队深度。
const queueFactor = 64

// NewPool 启动 size 个 worker。
func NewPool(size int, logger *logrus.Logger) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid pool size: %d", size)
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger: logger,
		tasks:  make(chan namedTask, size*queueFactor),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p, nil
}

// Submit 将任务放入队列；队列已满时阻塞直到有空位。
func (p *Pool) Submit(name string, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.pending.Add(1)
	p.tasks <- namedTask{name: name, run: task}
	return nil
}

// Do 提交任务并等待其完成，用于需要串行语义的调度任务。
func (p *Pool) Do(ctx context.Context, name string, task Task) error {
	done := make(chan error, 1)
	err := p.Submit(name, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			done <- err
		}()
		return task(ctx)
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending 返回已提交但尚未执行完成的任务数量。
func (p *Pool) Pending() int64 {
	return p.pending.Load()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		p.execute(id, t)
	}
}

func (p *Pool) execute(id int, t namedTask) {
	defer p.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.recordFailure(t.name, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := t.run(p.ctx); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"action": "worker_task",
			"task":   t.name,
			"worker": id,
		}).Warn("task_failed")
		p.recordFailure(t.name, err)
	}
}

func (p *Pool) recordFailure(name string, err error) {
	if !p.draining.Load() {
		return
	}
	p.failMu.Lock()
	p.failures = multierr.Append(p.failures, fmt.Errorf("%s: %w", name, err))
	p.failMu.Unlock()
}

// Shutdown 停止接收新任务，并在 timeout 内等待已排队任务完成。
// 返回值汇总了关闭期间失败的任务，以及超时后仍未完成的任务数量。
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	p.draining.Store(true)
	close(p.tasks)
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	var result error
	select {
	case <-finished:
	case <-time.After(timeout):
		p.cancel()
		result = fmt.Errorf("%w: %d task(s) unfinished after %s", ErrDrainTimeout, p.pending.Load(), timeout)
	}
	p.cancel()

	p.failMu.Lock()
	result = multierr.Append(result, p.failures)
	p.failMu.Unlock()
	return result
}
