// Package limit 有界并发执行器：最多 n 个函数同时运行，其余按提交顺序排队。
package limit

import "sync"

type Limiter struct {
	mu     sync.Mutex
	n      int
	active int
	queue  []func()
}

// New n < 1 时按 1 处理
func New(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{n: n}
}

// Submit 入队，有空位时立即在新 goroutine 中启动
func (l *Limiter) Submit(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.dispatchLocked()
	l.mu.Unlock()
}

func (l *Limiter) dispatchLocked() {
	for l.active < l.n && len(l.queue) > 0 {
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.active++
		go l.run(fn)
	}
}

func (l *Limiter) run(fn func()) {
	defer func() {
		l.mu.Lock()
		l.active--
		l.dispatchLocked()
		l.mu.Unlock()
	}()
	fn()
}

// ActiveCount 正在运行的数量
func (l *Limiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// PendingCount 排队中的数量
func (l *Limiter) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// ClearQueue 丢弃所有未开始的函数，不影响正在运行的
func (l *Limiter) ClearQueue() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.queue)
	l.queue = nil
	return n
}

func (l *Limiter) Concurrency() int {
	return l.n
}
