package tasks_test

import (
	"errors"
	"testing"

	"github.com/iceymoss/go-taskflow/internal/conf"
	"github.com/iceymoss/go-taskflow/internal/core"
	"github.com/iceymoss/go-taskflow/internal/tasks"
	"github.com/iceymoss/go-taskflow/pkg/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	cron, handler, name, source string
	params                      map[string]any
}

type fakeScheduler struct {
	calls []call
	fail  map[string]bool
}

func (f *fakeScheduler) AddJob(cronExpr, handler, uniqueJobName string, params map[string]any, source string) error {
	if f.fail[uniqueJobName] {
		return errors.New("rejected")
	}
	f.calls = append(f.calls, call{cronExpr, handler, uniqueJobName, source, params})
	return nil
}

func noop(map[string]any, ...core.AtomOption) ([]*core.AtomTask, error) {
	return nil, nil
}

func TestRegisterAndGet(t *testing.T) {
	tasks.Register("test:noop", noop)
	creator, err := tasks.GetCreator("test:noop")
	require.NoError(t, err)
	assert.NotNil(t, creator)
	assert.Contains(t, tasks.Names(), "test:noop")

	_, err = tasks.GetCreator("test:missing")
	assert.Error(t, err, "未注册的任务应报错")
}

func TestApplyAutoJobs(t *testing.T) {
	tasks.RegisterAuto("test:auto", "@every 5m", noop, map[string]any{"k": "v"})
	tasks.RegisterAuto("test:auto_rejected", "@every 5m", noop, nil)

	sched := &fakeScheduler{fail: map[string]bool{"test:auto_rejected": true}}
	loaded := tasks.ApplyAutoJobs(sched)

	var found *call
	for i := range sched.calls {
		if sched.calls[i].name == "test:auto" {
			found = &sched.calls[i]
		}
	}
	require.NotNil(t, found, "自动任务应被加入调度器")
	assert.Equal(t, len(sched.calls), loaded, "被拒绝的不计数")
	assert.Equal(t, "@every 5m", found.cron)
	assert.Equal(t, string(constants.TaskTypeSYSTEM), found.source)
	assert.Equal(t, "v", found.params["k"])
}

func TestApplyConfigJobs(t *testing.T) {
	sched := &fakeScheduler{}
	loaded := tasks.ApplyConfigJobs(sched, []conf.JobConfig{
		{Name: "a", Handler: "test:noop", Cron: "@every 1m", Enable: true, Concurrency: 3, Params: map[string]any{"x": 1}},
		{Name: "b", Cron: "@every 1m", Enable: false},
		{Name: "test:noop", Cron: "@every 2m", Enable: true},
	})
	assert.Equal(t, 2, loaded)
	require.Len(t, sched.calls, 2)
	assert.Equal(t, "test:noop", sched.calls[0].handler)
	assert.Equal(t, 3, sched.calls[0].params[tasks.ConcurrencyParam])
	assert.Equal(t, 1, sched.calls[0].params["x"])
	assert.Equal(t, string(constants.TaskTypeYAML), sched.calls[0].source)
	assert.Equal(t, "test:noop", sched.calls[1].handler, "handler 为空时取 name")
}

func TestAtomOptions(t *testing.T) {
	cfg := conf.Default().Engine
	cfg.RetryTimes = 0
	calls := 0
	atom := core.NewAtomTask(core.AtomInit{
		Exec: func(core.ExecInput) (core.Result, error) {
			calls++
			return core.Result{}, errors.New("x")
		},
	}, tasks.AtomOptions(cfg)...)
	snap, _ := atom.Run(t.Context(), nil)
	assert.Equal(t, core.AtomFailed, snap.Status)
	assert.Equal(t, 1, calls, "retry_times=0 时只执行一次")
}
