package engine

// EventType Task 对外发出的事件
type EventType string

const (
	EventStart    EventType = "start"
	EventPause    EventType = "pause"
	EventResume   EventType = "resume"
	EventCancel   EventType = "cancel"
	EventRestart  EventType = "restart"
	EventError    EventType = "error"
	EventComplete EventType = "complete"
	EventRemove   EventType = "remove"
	EventProgress EventType = "progress"
)

type Event struct {
	Type    EventType
	Percent float64
	Err     *TaskError // 仅 error 事件
	Task    Snapshot
}

// On 订阅某类事件，返回取消订阅函数。
// 回调在锁外同步执行，可以调用 Task 的方法，但不要在回调里等待 Pause 完成。
func (t *Task) On(typ EventType, fn func(Event)) (off func()) {
	return t.events.On(typ, fn)
}

// OnAny 订阅全部事件
func (t *Task) OnAny(fn func(Event)) (off func()) {
	return t.events.OnAny(func(_ EventType, e Event) { fn(e) })
}

// ListenerCount 当前监听器数量，Remove 宽限期之后为 0
func (t *Task) ListenerCount() int {
	return t.events.Total()
}
