package core_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iceymoss/go-taskflow/internal/core"
	errs "github.com/iceymoss/go-taskflow/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastOpts(t *testing.T, retries int) []core.AtomOption {
	return []core.AtomOption{
		core.WithRetryTimes(retries),
		core.WithRetryDelay(time.Millisecond),
		core.WithAttemptTimeout(50 * time.Millisecond),
		core.WithAtomLogger(zaptest.NewLogger(t)),
	}
}

func TestAtomDefaults(t *testing.T) {
	a := core.NewAtomTask(core.AtomInit{})
	assert.Len(t, a.ID(), 32, "默认 id 长度为 32")
	assert.Equal(t, core.AtomPending, a.Status())

	snap, err := a.Run(context.Background(), core.NewTaskContext(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, core.AtomCompleted, snap.Status, "空执行体视为完成")
}

func TestAtomExplicitResults(t *testing.T) {
	cases := []struct {
		name string
		res  core.Result
		want core.AtomStatus
	}{
		{"零值视为完成", core.Result{}, core.AtomCompleted},
		{"完成", core.Completed(), core.AtomCompleted},
		{"警告", core.Warning(), core.AtomWarning},
		{"失败", core.Failed("nope"), core.AtomFailed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			calls := 0
			a := core.NewAtomTask(core.AtomInit{
				Exec: func(in core.ExecInput) (core.Result, error) {
					calls++
					return c.res, nil
				},
			}, fastOpts(t, 3)...)
			snap, err := a.Run(context.Background(), core.NewTaskContext(nil, nil))
			assert.Equal(t, c.want, snap.Status)
			assert.Equal(t, 1, calls, "显式结果不应重试")
			if c.want == core.AtomFailed {
				assert.ErrorIs(t, err, errs.ErrAtomFailed)
				assert.Equal(t, "nope", snap.Reason)
				assert.Equal(t, err, a.Err())
			} else {
				assert.NoError(t, err)
				assert.Nil(t, a.Err())
			}
		})
	}
}

func TestAtomRetry(t *testing.T) {
	t.Run("错误重试直至耗尽", func(t *testing.T) {
		calls := 0
		a := core.NewAtomTask(core.AtomInit{
			Exec: func(in core.ExecInput) (core.Result, error) {
				calls++
				return core.Result{}, errors.New("flaky")
			},
		}, fastOpts(t, 2)...)
		snap, err := a.Run(context.Background(), nil)
		assert.ErrorIs(t, err, errs.ErrAtomFailed)
		assert.Equal(t, core.AtomFailed, snap.Status)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 3, snap.Attempts)
		assert.Equal(t, "flaky", snap.Reason)
	})

	t.Run("重试后成功", func(t *testing.T) {
		a := core.NewAtomTask(core.AtomInit{
			Exec: func(in core.ExecInput) (core.Result, error) {
				if in.Attempt < 2 {
					return core.Result{}, errors.New("flaky")
				}
				return core.Warning(), nil
			},
		}, fastOpts(t, 3)...)
		snap, err := a.Run(context.Background(), nil)
		assert.NoError(t, err)
		assert.Equal(t, core.AtomWarning, snap.Status)
		assert.Equal(t, 2, snap.Attempts)
	})

	t.Run("panic 视为一次失败", func(t *testing.T) {
		calls := 0
		a := core.NewAtomTask(core.AtomInit{
			Exec: func(in core.ExecInput) (core.Result, error) {
				calls++
				if calls == 1 {
					panic("boom")
				}
				return core.Completed(), nil
			},
		}, fastOpts(t, 1)...)
		snap, err := a.Run(context.Background(), nil)
		assert.NoError(t, err)
		assert.Equal(t, core.AtomCompleted, snap.Status)
		assert.Equal(t, 2, calls)
	})

	t.Run("abandon 不再重试", func(t *testing.T) {
		calls := 0
		a := core.NewAtomTask(core.AtomInit{
			Exec: func(in core.ExecInput) (core.Result, error) {
				calls++
				err := errors.New("fatal")
				in.Abandon(err)
				return core.Result{}, err
			},
		}, fastOpts(t, 5)...)
		snap, err := a.Run(context.Background(), nil)
		assert.Error(t, err)
		assert.Equal(t, core.AtomFailed, snap.Status)
		assert.Equal(t, 1, calls)
		assert.Equal(t, "fatal", snap.Reason)
	})
}

func TestAtomAttemptTimeout(t *testing.T) {
	var calls int32
	a := core.NewAtomTask(core.AtomInit{
		Exec: func(in core.ExecInput) (core.Result, error) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				<-in.Ctx.Done()
				return core.Result{}, in.Ctx.Err()
			}
			return core.Completed(), nil
		},
	},
		core.WithRetryTimes(1),
		core.WithRetryDelay(time.Millisecond),
		core.WithAttemptTimeout(20*time.Millisecond),
		core.WithAtomLogger(zaptest.NewLogger(t)),
	)
	snap, err := a.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, core.AtomCompleted, snap.Status, "超时按失败重试，第二次成功")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	b := core.NewAtomTask(core.AtomInit{
		Exec: func(in core.ExecInput) (core.Result, error) {
			<-in.Ctx.Done()
			return core.Result{}, in.Ctx.Err()
		},
	},
		core.WithRetryTimes(0),
		core.WithAttemptTimeout(10*time.Millisecond),
		core.WithAtomLogger(zaptest.NewLogger(t)),
	)
	snap, err = b.Run(context.Background(), nil)
	assert.ErrorIs(t, err, errs.ErrAttemptTimeout)
	assert.Equal(t, core.AtomFailed, snap.Status)
	assert.Contains(t, snap.Reason, "timed out")
}

func TestAtomRunOnlyFromPending(t *testing.T) {
	a := core.NewAtomTask(core.AtomInit{}, fastOpts(t, 0)...)
	_, err := a.Run(context.Background(), nil)
	require.NoError(t, err)

	_, err = a.Run(context.Background(), nil)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "COMPLETED")

	a.Reset()
	assert.Equal(t, core.AtomPending, a.Status())
	_, err = a.Run(context.Background(), nil)
	assert.NoError(t, err, "Reset 之后可以再次运行")
}

func TestAtomCancel(t *testing.T) {
	started := make(chan struct{})
	a := core.NewAtomTask(core.AtomInit{
		Exec: func(in core.ExecInput) (core.Result, error) {
			close(started)
			<-in.Ctx.Done()
			return core.Result{}, in.Ctx.Err()
		},
	}, core.WithRetryTimes(5), core.WithRetryDelay(time.Millisecond), core.WithAttemptTimeout(0),
		core.WithAtomLogger(zaptest.NewLogger(t)))

	done := make(chan core.AtomSnapshot, 1)
	go func() {
		snap, _ := a.Run(context.Background(), nil)
		done <- snap
	}()
	<-started
	assert.Equal(t, core.AtomRunning, a.Status())
	a.Cancel()

	select {
	case snap := <-done:
		assert.Equal(t, core.AtomFailed, snap.Status)
		assert.Equal(t, 1, snap.Attempts, "取消后不再重试")
	case <-time.After(time.Second):
		t.Fatal("取消后 Run 未返回")
	}
}

func TestAtomCancelWaitsForExec(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	a := core.NewAtomTask(core.AtomInit{
		Exec: func(core.ExecInput) (core.Result, error) {
			close(started)
			<-release
			return core.Completed(), nil
		},
	}, core.WithRetryTimes(0), core.WithAttemptTimeout(0), core.WithAtomLogger(zaptest.NewLogger(t)))

	done := make(chan core.AtomSnapshot, 1)
	go func() {
		snap, _ := a.Run(context.Background(), nil)
		done <- snap
	}()
	<-started
	a.Cancel()

	select {
	case <-done:
		t.Fatal("执行体未返回前 Run 不应结束")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, core.AtomRunning, a.Status())

	close(release)
	select {
	case snap := <-done:
		assert.Equal(t, core.AtomCompleted, snap.Status, "忽略取消的执行体由其自身结果决定")
		assert.Empty(t, snap.Reason)
	case <-time.After(time.Second):
		t.Fatal("执行体返回后 Run 未结束")
	}
}

func TestAtomResetDiscardsInflight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	a := core.NewAtomTask(core.AtomInit{
		Exec: func(in core.ExecInput) (core.Result, error) {
			started <- struct{}{}
			<-release
			return core.Failed("late"), nil
		},
	}, core.WithAttemptTimeout(0), core.WithAtomLogger(zaptest.NewLogger(t)))

	done := make(chan error, 1)
	go func() {
		_, err := a.Run(context.Background(), nil)
		done <- err
	}()
	<-started
	a.Reset()
	close(release)

	err := <-done
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	assert.Equal(t, core.AtomPending, a.Status(), "过期的结果不应写回")
}

func TestAtomSnapshotMessages(t *testing.T) {
	data := core.NewTaskContext(nil, map[string]any{"host": "db1"})
	a := core.NewAtomTask(core.AtomInit{
		ProcessMsg: core.Literal("checking"),
		SuccessMsg: core.Template(func(c core.Context) (string, error) {
			v, _ := c.Get("host")
			return "ok: " + v.(string), nil
		}),
		ErrorMsg:   core.Template(func(core.Context) (string, error) { return "", errors.New("x") }),
		WarningMsg: core.Template(func(core.Context) (string, error) { panic("bad template") }),
	}, fastOpts(t, 0)...)

	before := a.Snapshot()
	assert.Equal(t, "checking", before.ProcessMsg)
	assert.Equal(t, "", before.SuccessMsg, "运行前没有上下文")

	snap, err := a.Run(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "ok: db1", snap.SuccessMsg)
	assert.Equal(t, "", snap.ErrorMsg, "模板出错降级为空串")
	assert.Equal(t, "", snap.WarningMsg, "模板 panic 降级为空串")

	data.Set("host", "db2")
	assert.Equal(t, "ok: db2", a.Snapshot().SuccessMsg, "读快照时才求值")
}
