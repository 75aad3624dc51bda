package core

import (
	"context"
	"maps"
	"sync"

	errs "github.com/iceymoss/go-taskflow/pkg/errors"
	"github.com/iceymoss/go-taskflow/pkg/xerr"
)

// Queue 任务队列的增删能力，由拥有上下文的 Task 提供
type Queue interface {
	AddAtomTasks(ctx context.Context, atoms ...*AtomTask) error
	RemoveAtomTasks(ctx context.Context, ids ...string) error
}

// Context 所有原子任务共享的 key/value 存储
type Context interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	// GetAll 返回副本
	GetAll() map[string]any
	Queue
}

// TaskContext Context 的默认实现。queue 在构造时绑定，之后不可更换。
type TaskContext struct {
	mu    sync.RWMutex
	state map[string]any
	queue Queue
}

func NewTaskContext(queue Queue, defaults map[string]any) *TaskContext {
	state := make(map[string]any, len(defaults))
	maps.Copy(state, defaults)
	return &TaskContext{state: state, queue: queue}
}

func (c *TaskContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state[key]
	return v, ok
}

func (c *TaskContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
}

func (c *TaskContext) GetAll() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.state)
}

func (c *TaskContext) AddAtomTasks(ctx context.Context, atoms ...*AtomTask) error {
	if c.queue == nil {
		return errs.New(xerr.ErrQueueUnbound, "context is not bound to a task")
	}
	return c.queue.AddAtomTasks(ctx, atoms...)
}

func (c *TaskContext) RemoveAtomTasks(ctx context.Context, ids ...string) error {
	if c.queue == nil {
		return errs.New(xerr.ErrQueueUnbound, "context is not bound to a task")
	}
	return c.queue.RemoveAtomTasks(ctx, ids...)
}

// borrowed 借用方看到的视图，只暴露接口方法，队列操作仍落到原拥有者
type borrowed struct {
	src Context
}

// Borrow 把别的 Task 的上下文包装成只能通过接口访问的视图
func Borrow(src Context) Context {
	if b, ok := src.(borrowed); ok {
		return b
	}
	return borrowed{src: src}
}

func (b borrowed) Get(key string) (any, bool) { return b.src.Get(key) }
func (b borrowed) Set(key string, value any) { b.src.Set(key, value) }
func (b borrowed) GetAll() map[string]any { return b.src.GetAll() }
func (b borrowed) AddAtomTasks(ctx context.Context, atoms ...*AtomTask) error {
	return b.src.AddAtomTasks(ctx, atoms...)
}
func (b borrowed) RemoveAtomTasks(ctx context.Context, ids ...string) error {
	return b.src.RemoveAtomTasks(ctx, ids...)
}
