package engine

import (
	"runtime"
	"sort"
	"sync"
	"weak"
)

// Registry id -> Task 的弱引用索引，不持有 Task。
// Task 构造时登记，Remove 时删除；被回收的 Task 查找时视为不存在。
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]weak.Pointer[Task]
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]weak.Pointer[Task])}
}

func (r *Registry) add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.id] = weak.Make(t)
	runtime.AddCleanup(t, r.prune, t.id)
}

// prune Task 被回收后清理残留的条目
func (r *Registry) prune(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wp, ok := r.tasks[id]; ok && wp.Value() == nil {
		delete(r.tasks, id)
	}
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// Get 未知或已移除的 id 返回 (nil, false)
func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.RLock()
	wp, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	t := wp.Value()
	if t == nil {
		r.prune(id)
		return nil, false
	}
	return t, true
}

// List 按创建时间排序的存活 Task
func (r *Registry) List() []*Task {
	r.mu.RLock()
	list := make([]*Task, 0, len(r.tasks))
	for _, wp := range r.tasks {
		if t := wp.Value(); t != nil {
			list = append(list, t)
		}
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].createdAt.Before(list[j].createdAt)
	})
	return list
}

func (r *Registry) Len() int {
	return len(r.List())
}
