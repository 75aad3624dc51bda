package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iceymoss/go-taskflow/internal/conf"
	"github.com/iceymoss/go-taskflow/internal/tasks"
	errs "github.com/iceymoss/go-taskflow/pkg/errors"
	"github.com/iceymoss/go-taskflow/pkg/logger"
	"github.com/iceymoss/go-taskflow/pkg/utils"
	"github.com/iceymoss/go-taskflow/pkg/xerr"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type job struct {
	handler string
	creator tasks.Creator
	params  map[string]any
}

// Scheduler 按 cron 表达式周期性地构造并运行 Task
type Scheduler struct {
	cron     *cron.Cron
	Stats    *StatManager
	Registry *Registry
	engine   conf.EngineConfig
	log      *zap.Logger

	mu         sync.RWMutex
	registered map[string]job
	entries    map[string]cron.EntryID
}

func NewScheduler(engine conf.EngineConfig, registry *Registry, log *zap.Logger) *Scheduler {
	if log == nil {
		log = logger.Named("scheduler")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	cl := cronLogger{l: log.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		Stats:      NewStatManager(),
		Registry:   registry,
		engine:     engine,
		log:        log,
		registered: make(map[string]job),
		entries:    make(map[string]cron.EntryID),
	}
}

// AddJob 添加任务，handler 是 tasks.Register 的名字，uniqueJobName 用于统计和手动触发
func (s *Scheduler) AddJob(cronExpr, handler, uniqueJobName string, params map[string]any, source string) error {
	// 1. 获取任务实现
	creator, err := tasks.GetCreator(handler)
	if err != nil {
		return err
	}

	// 2. 加入 Cron
	j := job{handler: handler, creator: creator, params: params}
	entryID, err := s.cron.AddFunc(cronExpr, func() {
		_, _ = s.runJob(uniqueJobName, j)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if old, ok := s.entries[uniqueJobName]; ok {
		s.cron.Remove(old)
	}
	s.registered[uniqueJobName] = j
	s.entries[uniqueJobName] = entryID
	s.mu.Unlock()

	// 3. 初始化状态
	stat := &JobStats{
		Name:       uniqueJobName,
		Handler:    handler,
		CronExpr:   cronExpr,
		Status:     "Idle",
		LastResult: "Pending",
		Source:     source,
	}
	if next := s.cron.Entry(entryID).Next; !next.IsZero() {
		stat.rawNext = next
		stat.NextRunTime = utils.FormatTime(next)
	}
	s.Stats.Set(uniqueJobName, stat)
	return nil
}

// runJob 构造一个新的 Task 执行到结束并记录统计
func (s *Scheduler) runJob(name string, j job) (Snapshot, error) {
	start := time.Now()
	s.Stats.Update(name, func(st *JobStats) {
		st.Status = "Running"
		st.LastRunTime = utils.FormatTime(start)
		st.RunCount++
	})
	s.log.Info("🚀 [Schedule] starting job", zap.String("job", name))

	snap, err := s.execute(name, j)

	next := s.nextRun(name)
	s.Stats.Update(name, func(st *JobStats) {
		st.LastTaskID = snap.ID
		st.LastPercent = snap.Percent
		st.LastDuration = time.Since(start).Round(time.Millisecond).String()
		if !next.IsZero() {
			st.rawNext = next
			st.NextRunTime = utils.FormatTime(next)
		}
		if err != nil {
			st.LastResult = fmt.Sprintf("Error: %v", err)
			st.Status = "Error"
			st.FailCount++
			return
		}
		st.LastResult = "Success"
		st.Status = "Idle"
	})

	if err != nil {
		s.log.Warn("❌ [Schedule] job failed", zap.String("job", name), zap.Error(err))
	} else {
		s.log.Info("✅ [Schedule] job finished", zap.String("job", name), zap.Float64("percent", snap.Percent))
	}
	return snap, err
}

func (s *Scheduler) execute(name string, j job) (Snapshot, error) {
	atoms, err := j.creator(j.params, tasks.AtomOptions(s.engine)...)
	if err != nil {
		return Snapshot{}, err
	}

	opts := []Option{FromConfig(s.engine), WithRegistry(s.Registry), WithLogger(s.log)}
	if n, ok := j.params[tasks.ConcurrencyParam].(int); ok {
		opts = append(opts, WithConcurrency(n))
	}
	t := New(Meta{
		Name:        name,
		Description: "scheduled " + j.handler,
		ExtInfo:     map[string]any{"handler": j.handler},
	}, opts...)
	defer func() {
		if t.Status() == StatusPending {
			_ = t.Cancel()
		}
		if err := t.Remove(); err != nil {
			s.log.Warn("remove task", zap.String("job", name), zap.Error(err))
		}
	}()

	if err := t.SetAtomTasks(atoms); err != nil {
		return t.Snapshot(), err
	}
	if err := t.Start(); err != nil {
		return t.Snapshot(), err
	}
	if len(atoms) == 0 {
		_ = t.Complete()
	}

	timeout := s.engine.RunTimeout
	if timeout <= 0 {
		timeout = 65 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	snap, err := t.WaitForEnd(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		_ = t.Cancel()
		return t.Snapshot(), errs.Wrap(xerr.ErrTaskCanceled, "run timeout", err)
	}
	return snap, err
}

// nextRun 未启动或手动注册的任务返回零值
func (s *Scheduler) nextRun(name string) time.Time {
	s.mu.RLock()
	id, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// ManualRun 手动触发，异步执行
func (s *Scheduler) ManualRun(uniqueJobName string) error {
	s.mu.RLock()
	j, ok := s.registered[uniqueJobName]
	s.mu.RUnlock()
	if !ok {
		return errs.Newf(xerr.ErrNotFound, "job %s not found", uniqueJobName)
	}
	go func() {
		_, _ = s.runJob(uniqueJobName, j)
	}()
	return nil
}

// RunNow 同步执行一次，返回该次 Task 的最终快照
func (s *Scheduler) RunNow(uniqueJobName string) (Snapshot, error) {
	s.mu.RLock()
	j, ok := s.registered[uniqueJobName]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, errs.Newf(xerr.ErrNotFound, "job %s not found", uniqueJobName)
	}
	return s.runJob(uniqueJobName, j)
}

func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.registered))
	for name := range s.registered {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度，ctx 在正在运行的任务都结束后 Done
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger 把 cron 的日志接到 zap
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
