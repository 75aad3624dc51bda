package event_test

import (
	"testing"

	"github.com/iceymoss/go-taskflow/pkg/event"

	"github.com/stretchr/testify/assert"
)

func TestEmitter(t *testing.T) {
	t.Run("按注册顺序同步分发", func(t *testing.T) {
		e := event.New[string, int]()
		var got []string
		e.On("a", func(v int) { got = append(got, "first") })
		e.On("a", func(v int) { got = append(got, "second") })
		e.OnAny(func(k string, v int) { got = append(got, "any:"+k) })
		e.On("b", func(v int) { got = append(got, "b") })

		e.Emit("a", 1)
		assert.Equal(t, []string{"first", "second", "any:a"}, got)
	})

	t.Run("取消订阅", func(t *testing.T) {
		e := event.New[string, int]()
		calls := 0
		off := e.On("a", func(int) { calls++ })
		offAny := e.OnAny(func(string, int) { calls++ })
		e.Emit("a", 1)
		off()
		offAny()
		e.Emit("a", 2)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 0, e.Count("a"))
	})

	t.Run("回调中可以再次订阅和分发", func(t *testing.T) {
		e := event.New[string, int]()
		var got []int
		e.On("a", func(v int) {
			got = append(got, v)
			if v == 1 {
				e.On("b", func(v int) { got = append(got, v*10) })
				e.Emit("b", 2)
			}
		})
		e.Emit("a", 1)
		assert.Equal(t, []int{1, 20}, got)
	})

	t.Run("Clear", func(t *testing.T) {
		e := event.New[string, int]()
		e.On("a", func(int) {})
		e.OnAny(func(string, int) {})
		assert.Equal(t, 2, e.Total())
		e.Clear()
		assert.Equal(t, 0, e.Total())
	})

	t.Run("panic 处理", func(t *testing.T) {
		e := event.New[string, int]()
		var recovered any
		e.SetPanicHandler(func(k string, r any) { recovered = r })
		after := false
		e.On("a", func(int) { panic("bad listener") })
		e.On("a", func(int) { after = true })
		assert.NotPanics(t, func() { e.Emit("a", 1) })
		assert.Equal(t, "bad listener", recovered)
		assert.True(t, after, "后续监听器仍应被调用")
	})
}
