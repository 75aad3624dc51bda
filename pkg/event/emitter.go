// Package event 进程内同步事件分发。
package event

import "sync"

type entry[V any] struct {
	id uint64
	fn func(V)
}

type anyEntry[K comparable, V any] struct {
	id uint64
	fn func(K, V)
}

// Emitter 同步、按注册顺序分发。监听器在锁外调用，可以在回调里再次 On/Emit。
type Emitter[K comparable, V any] struct {
	mu       sync.Mutex
	seq      uint64
	handlers map[K][]entry[V]
	wildcard []anyEntry[K, V]
	onPanic  func(K, any)
}

func New[K comparable, V any]() *Emitter[K, V] {
	return &Emitter[K, V]{handlers: make(map[K][]entry[V])}
}

// SetPanicHandler 监听器 panic 时调用；未设置时 panic 会继续向上抛
func (e *Emitter[K, V]) SetPanicHandler(fn func(key K, recovered any)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPanic = fn
}

// On 订阅某个 key，返回取消订阅函数
func (e *Emitter[K, V]) On(key K, fn func(V)) (off func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	id := e.seq
	e.handlers[key] = append(e.handlers[key], entry[V]{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		list := e.handlers[key]
		for i, h := range list {
			if h.id == id {
				e.handlers[key] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// OnAny 订阅全部 key
func (e *Emitter[K, V]) OnAny(fn func(K, V)) (off func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	id := e.seq
	e.wildcard = append(e.wildcard, anyEntry[K, V]{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, h := range e.wildcard {
			if h.id == id {
				e.wildcard = append(e.wildcard[:i:i], e.wildcard[i+1:]...)
				return
			}
		}
	}
}

// Emit 先调用该 key 的监听器，再调用通配监听器
func (e *Emitter[K, V]) Emit(key K, v V) {
	e.mu.Lock()
	list := append([]entry[V](nil), e.handlers[key]...)
	all := append([]anyEntry[K, V](nil), e.wildcard...)
	onPanic := e.onPanic
	e.mu.Unlock()

	for _, h := range list {
		e.call(key, onPanic, func() { h.fn(v) })
	}
	for _, h := range all {
		e.call(key, onPanic, func() { h.fn(key, v) })
	}
}

func (e *Emitter[K, V]) call(key K, onPanic func(K, any), fn func()) {
	if onPanic != nil {
		defer func() {
			if r := recover(); r != nil {
				onPanic(key, r)
			}
		}()
	}
	fn()
}

// Clear 移除全部监听器
func (e *Emitter[K, V]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = make(map[K][]entry[V])
	e.wildcard = nil
}

// Count 某个 key 的监听器数量 (不含通配)
func (e *Emitter[K, V]) Count(key K) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers[key])
}

func (e *Emitter[K, V]) Total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.wildcard)
	for _, l := range e.handlers {
		n += len(l)
	}
	return n
}
