package content

import (
	"context"
	"sync"
)

// Future 是一次异步加载或写入的结果句柄。它只能被完成一次，之后所有等待者看到同一结果。
// found=false 且 err=nil 表示条目不存在。
type Future struct {
	done chan struct{}
	once sync.Once

	entry Entry
	found bool
	err   error

	mu        sync.Mutex
	resolved  bool
	callbacks []func()
}

// NewFuture 返回一个尚未完成的 Future。
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Completed 返回已携带条目的 Future。
func Completed(entry Entry) *Future {
	f := NewFuture()
	f.Complete(entry)
	return f
}

// Complete 以条目完成 Future，重复完成返回 false。
func (f *Future) Complete(entry Entry) bool {
	return f.resolve(entry, true, nil)
}

// CompleteAbsent 以“不存在”完成 Future。
func (f *Future) CompleteAbsent() bool {
	return f.resolve(Entry{}, false, nil)
}

// Fail 以错误完成 Future。
func (f *Future) Fail(err error) bool {
	return f.resolve(Entry{}, false, err)
}

func (f *Future) resolve(entry Entry, found bool, err error) bool {
	won := false
	f.once.Do(func() {
		f.entry = entry
		f.found = found
		f.err = err
		close(f.done)

		f.mu.Lock()
		f.resolved = true
		callbacks := f.callbacks
		f.callbacks = nil
		f.mu.Unlock()

		for _, fn := range callbacks {
			fn()
		}
		won = true
	})
	return won
}

// OnComplete 注册完成回调，回调在完成 Future 的 goroutine 上执行；已完成时立即在当前 goroutine 执行。
func (f *Future) OnComplete(fn func()) {
	f.mu.Lock()
	if !f.resolved {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn()
}

// Done 在 Future 完成后关闭。
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait 阻塞至 Future 完成或 ctx 结束。
func (f *Future) Wait(ctx context.Context) (Entry, bool, error) {
	select {
	case <-f.done:
		return f.entry, f.found, f.err
	case <-ctx.Done():
		return Entry{}, false, ctx.Err()
	}
}

// Ready 报告 Future 是否已完成。
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result 返回完成后的结果，未完成时阻塞。
func (f *Future) Result() (Entry, bool, error) {
	<-f.done
	return f.entry, f.found, f.err
}
