package system

import (
	"time"

	"github.com/iceymoss/go-taskflow/internal/core"
	"github.com/iceymoss/go-taskflow/internal/tasks"
	"github.com/iceymoss/go-taskflow/pkg/constants"
)

const (
	Name = "sys:heartbeat"

	LastBeatKey = "heartbeat:last"
)

func init() {
	tasks.RegisterAuto(Name, "*/30 * * * * *", NewHeartbeatAtoms, nil)
}

// NewHeartbeatAtoms 把当前时间写进上下文，用来确认调度器还活着
func NewHeartbeatAtoms(params map[string]any, opts ...core.AtomOption) ([]*core.AtomTask, error) {
	atom := core.NewAtomTask(core.AtomInit{
		ID: "beat",
		Exec: func(in core.ExecInput) (core.Result, error) {
			in.Data.Set(LastBeatKey, time.Now())
			return core.Completed(), nil
		},
		SuccessMsg: core.Template(func(c core.Context) (string, error) {
			v, ok := c.Get(LastBeatKey)
			if !ok {
				return "", nil
			}
			return "alive at " + v.(time.Time).Format(constants.TimeLayout), nil
		}),
	}, opts...)
	return []*core.AtomTask{atom}, nil
}
