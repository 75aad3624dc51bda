package engine

import (
	"context"
	stderrors "errors"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/iceymoss/go-taskflow/internal/core"
	errs "github.com/iceymoss/go-taskflow/pkg/errors"
	"github.com/iceymoss/go-taskflow/pkg/event"
	"github.com/iceymoss/go-taskflow/pkg/idgen"
	"github.com/iceymoss/go-taskflow/pkg/limit"
	"github.com/iceymoss/go-taskflow/pkg/xerr"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const taskIDLen = 24

// Status Task 生命周期状态
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPausing   Status = "PAUSING"
	StatusPaused    Status = "PAUSED"
	StatusCancel    Status = "CANCEL"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRemoved   Status = "REMOVED"
)

// TaskError 任务失败原因
type TaskError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *TaskError) Error() string {
	return e.Name + ": " + e.Message
}

func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Meta 创建 Task 时的展示信息
type Meta struct {
	ID          string // 为空时自动生成
	Name        string
	Description string
	ExtInfo     map[string]any
	TaskMsg     string
}

// Snapshot Task 的只读视图
type Snapshot struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Status      Status              `json:"status"`
	Percent     float64             `json:"percent"`
	TaskMsg     string              `json:"task_msg"`
	ExtInfo     map[string]any      `json:"ext_info"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt time.Time           `json:"completed_at"`
	Error       *TaskError          `json:"error,omitempty"`
	Atoms       []core.AtomSnapshot `json:"atoms"`
	State       map[string]any      `json:"state"`
}

type pendingEvent struct {
	typ    EventType
	base   Snapshot
	atoms  []*core.AtomTask
	err    *TaskError
	settle bool
	result error
}

// Task 把一组原子任务编排成一个可暂停、取消、重启的整体
type Task struct {
	id       string
	opts     options
	log      *zap.Logger
	limiter  *limit.Limiter
	events   *event.Emitter[EventType, Event]
	data     core.Context
	registry *Registry

	mu          sync.Mutex
	name        string
	description string
	extInfo     map[string]any
	taskMsg     string
	status      Status
	percent     float64
	createdAt   time.Time
	completedAt time.Time
	atoms       []*core.AtomTask
	err         *TaskError
	gen         uint64
	runCtx      context.Context
	runCancel   context.CancelFunc

	outbox   []pendingEvent
	flushing bool

	done       chan struct{}
	settleOnce sync.Once
	result     Snapshot
	resultErr  error
}

func New(meta Meta, opts ...Option) *Task {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := meta.ID
	if id == "" {
		id = idgen.New(taskIDLen)
	}

	t := &Task{
		id:          id,
		opts:        o,
		log:         o.log.With(zap.String("task", id)),
		limiter:     limit.New(o.concurrency),
		events:      event.New[EventType, Event](),
		registry:    o.registry,
		name:        meta.Name,
		description: meta.Description,
		extInfo:     maps.Clone(meta.ExtInfo),
		taskMsg:     meta.TaskMsg,
		status:      StatusPending,
		createdAt:   time.Now(),
		done:        make(chan struct{}),
	}
	if t.extInfo == nil {
		t.extInfo = make(map[string]any)
	}
	if o.shared != nil {
		t.data = core.Borrow(o.shared)
	} else {
		t.data = core.NewTaskContext(t, o.defaults)
	}
	t.events.SetPanicHandler(func(typ EventType, r any) {
		t.log.Error("task listener panic", zap.String("event", string(typ)), zap.Any("panic", r))
	})
	if t.registry != nil {
		t.registry.add(t)
	}
	return t
}

func (t *Task) ID() string {
	return t.id
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Context 所有原子任务共享的上下文
func (t *Task) Context() core.Context {
	return t.data
}

// expect 校验当前状态是否允许 op
func (t *Task) expect(op string, allowed ...Status) error {
	for _, s := range allowed {
		if t.status == s {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}
	return errs.Newf(xerr.ErrInvalidTransition, "task %s is %s, %s requires %s",
		t.id, t.status, op, strings.Join(names, " or "))
}

func (t *Task) transitionLocked(to Status) {
	t.log.Info("task transition", zap.String("from", string(t.status)), zap.String("to", string(to)))
	t.status = to
}

// SetAtomTasks 整体替换原子任务列表，仅 Pending 可用
func (t *Task) SetAtomTasks(atoms []*core.AtomTask) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.expect("set atom tasks", StatusPending); err != nil {
		return err
	}
	if err := validateAtoms(nil, atoms); err != nil {
		return err
	}
	t.atoms = append([]*core.AtomTask(nil), atoms...)
	return nil
}

func validateAtoms(existing, incoming []*core.AtomTask) error {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, a := range existing {
		seen[a.ID()] = struct{}{}
	}
	for i, a := range incoming {
		if a == nil {
			return errs.Newf(xerr.ErrInvalidInput, "atom task at index %d is nil", i)
		}
		if _, dup := seen[a.ID()]; dup {
			return errs.Newf(xerr.ErrInvalidInput, "duplicate atom task id %s", a.ID())
		}
		seen[a.ID()] = struct{}{}
	}
	return nil
}

// AddAtomTasks 追加原子任务。
// Running 时会先完整暂停 (等待运行中的原子任务结束) 再追加并恢复，
// 因此不能在原子任务的执行体里同步调用，需要另起 goroutine。
func (t *Task) AddAtomTasks(ctx context.Context, atoms ...*core.AtomTask) error {
	return t.mutate(ctx, "add atom tasks", func() error {
		if err := validateAtoms(t.atoms, atoms); err != nil {
			return err
		}
		t.atoms = append(t.atoms, atoms...)
		return nil
	})
}

// RemoveAtomTasks 移除仍处于 Pending 的原子任务，运行中或已结束的会被保留。
// 与 AddAtomTasks 一样，Running 时会先暂停再恢复。
func (t *Task) RemoveAtomTasks(ctx context.Context, ids ...string) error {
	return t.mutate(ctx, "remove atom tasks", func() error {
		drop := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			drop[id] = struct{}{}
		}
		kept := t.atoms[:0:0]
		for _, a := range t.atoms {
			if _, ok := drop[a.ID()]; ok && a.Status() == core.AtomPending {
				continue
			}
			kept = append(kept, a)
		}
		t.atoms = kept
		return nil
	})
}

func (t *Task) mutate(ctx context.Context, op string, apply func() error) error {
	t.mu.Lock()
	switch t.status {
	case StatusPending:
		defer t.mu.Unlock()
		return apply()
	case StatusRunning:
		t.mu.Unlock()
	default:
		err := t.expect(op, StatusPending, StatusRunning)
		t.mu.Unlock()
		return err
	}

	if err := t.Pause(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	err := apply()
	t.mu.Unlock()

	if rerr := t.Resume(); rerr != nil {
		return multierr.Append(err, rerr)
	}
	return err
}

func (t *Task) newRunLocked() {
	if t.runCancel != nil {
		t.runCancel()
	}
	t.runCtx, t.runCancel = context.WithCancel(context.Background())
}

func (t *Task) stopRunLocked() {
	t.limiter.ClearQueue()
	if t.runCancel != nil {
		t.runCancel()
	}
}

// Start Pending -> Running
func (t *Task) Start() error {
	t.mu.Lock()
	if err := t.expect("start", StatusPending); err != nil {
		t.mu.Unlock()
		return err
	}
	t.transitionLocked(StatusRunning)
	t.newRunLocked()
	t.firstProcessMsgLocked()
	t.queueLocked(EventStart, nil)
	t.runAtomTasksLocked()
	t.mu.Unlock()

	t.flush()
	return nil
}

func (t *Task) firstProcessMsgLocked() {
	if len(t.atoms) == 0 {
		return
	}
	if msg := t.atoms[0].Snapshot().ProcessMsg; msg != "" {
		t.taskMsg = msg
	}
}

// runAtomTasksLocked 把所有还未执行的原子任务交给并发限制器
func (t *Task) runAtomTasksLocked() {
	t.checkSettledLocked()
	if t.status != StatusRunning {
		return
	}
	gen, ctx := t.gen, t.runCtx
	for _, a := range t.atoms {
		if a.Status() != core.AtomPending {
			continue
		}
		t.limiter.Submit(func() { t.runAtom(gen, ctx, a) })
	}
}

func (t *Task) runAtom(gen uint64, ctx context.Context, a *core.AtomTask) {
	t.mu.Lock()
	if t.gen != gen || t.status != StatusRunning || !t.ownsLocked(a) || a.Status() != core.AtomPending {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	snap, _ := a.Run(ctx, t.data)

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	switch snap.Status {
	case core.AtomCompleted:
		if snap.SuccessMsg != "" {
			t.taskMsg = snap.SuccessMsg
		}
	case core.AtomFailed:
		if snap.ErrorMsg != "" {
			t.taskMsg = snap.ErrorMsg
		}
	}
	switch t.status {
	case StatusRunning, StatusPausing, StatusPaused:
		t.recomputePercentLocked()
	}
	t.checkSettledLocked()
	t.mu.Unlock()

	t.flush()
}

func (t *Task) ownsLocked(a *core.AtomTask) bool {
	for _, x := range t.atoms {
		if x == a {
			return true
		}
	}
	return false
}

// recomputePercentLocked 只统计 Completed，Warning 不计入；同一轮内不回退
func (t *Task) recomputePercentLocked() {
	if len(t.atoms) == 0 {
		return
	}
	completed := 0
	for _, a := range t.atoms {
		if a.Status() == core.AtomCompleted {
			completed++
		}
	}
	p := float64(completed) / float64(len(t.atoms)) * 100
	if p > t.percent {
		t.setPercentLocked(p)
	}
}

func (t *Task) setPercentLocked(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p == t.percent {
		return
	}
	t.percent = p
	t.queueLocked(EventProgress, nil)
}

// checkSettledLocked 有原子任务失败则整体失败；全部结束则完成
func (t *Task) checkSettledLocked() {
	if t.status != StatusRunning || len(t.atoms) == 0 {
		return
	}
	var msgs []string
	var cause error
	allDone := true
	for _, a := range t.atoms {
		st := a.Status()
		if !st.IsTerminal() {
			allDone = false
			continue
		}
		if st != core.AtomFailed {
			continue
		}
		snap := a.Snapshot()
		msg := snap.ErrorMsg
		if msg == "" {
			msg = snap.Reason
		}
		if msg == "" {
			msg = "Failed"
		}
		msgs = append(msgs, msg)
		cause = multierr.Append(cause, a.Err())
	}
	if len(msgs) > 0 {
		t.failLocked(&TaskError{
			Name:    "AtomTask failed",
			Message: strings.Join(msgs, ", "),
			Cause:   cause,
		})
		return
	}
	if allDone {
		t.completeLocked()
	}
}

func (t *Task) failLocked(terr *TaskError) {
	t.transitionLocked(StatusFailed)
	t.err = terr
	t.limiter.ClearQueue()
	t.log.Warn("task failed", zap.String("name", terr.Name), zap.String("message", terr.Message))
	t.queueSettleLocked(EventError, terr, terr)
}

func (t *Task) completeLocked() {
	t.transitionLocked(StatusCompleted)
	t.setPercentLocked(100)
	t.completedAt = time.Now()
	t.queueSettleLocked(EventComplete, nil, nil)
}

// Pause Running -> Pausing -> Paused。
// 清空排队中的原子任务并等待运行中的结束；等待超时仍会进入 Paused，同时返回错误。
func (t *Task) Pause(ctx context.Context) error {
	t.mu.Lock()
	if err := t.expect("pause", StatusRunning); err != nil {
		t.mu.Unlock()
		return err
	}
	t.transitionLocked(StatusPausing)
	t.limiter.ClearQueue()
	t.mu.Unlock()

	drainErr := t.drain(ctx)
	if drainErr != nil {
		t.log.Error("task drain failed", zap.Error(drainErr), zap.Int("active", t.limiter.ActiveCount()))
	}

	t.mu.Lock()
	if t.status != StatusPausing {
		err := errs.Newf(xerr.ErrInvalidTransition, "task %s became %s while pausing", t.id, t.status)
		t.mu.Unlock()
		return multierr.Append(drainErr, err)
	}
	t.transitionLocked(StatusPaused)
	t.queueLocked(EventPause, nil)
	t.mu.Unlock()

	t.flush()
	return drainErr
}

func (t *Task) drain(ctx context.Context) error {
	if t.limiter.ActiveCount() == 0 {
		return nil
	}
	ticker := time.NewTicker(t.opts.drainInterval)
	defer ticker.Stop()
	timer := time.NewTimer(t.opts.drainTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return errs.Wrap(xerr.ErrDrainTimeout, "pause interrupted", ctx.Err())
		case <-timer.C:
			return errs.Newf(xerr.ErrDrainTimeout, "%d atom tasks still running after %s",
				t.limiter.ActiveCount(), t.opts.drainTimeout)
		case <-ticker.C:
			if t.limiter.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// Resume Paused -> Running，重新提交未执行的原子任务
func (t *Task) Resume() error {
	t.mu.Lock()
	if err := t.expect("resume", StatusPaused); err != nil {
		t.mu.Unlock()
		return err
	}
	t.transitionLocked(StatusRunning)
	t.queueLocked(EventResume, nil)
	t.runAtomTasksLocked()
	t.mu.Unlock()

	t.flush()
	return nil
}

// Cancel 进行中的原子任务通过 ctx 感知取消，是否退出由执行体决定
func (t *Task) Cancel() error {
	t.mu.Lock()
	if err := t.expect("cancel", StatusPending, StatusRunning, StatusPaused); err != nil {
		t.mu.Unlock()
		return err
	}
	t.transitionLocked(StatusCancel)
	t.stopRunLocked()
	t.queueSettleLocked(EventCancel, nil, errs.ErrCanceled)
	t.mu.Unlock()

	t.flush()
	return nil
}

// Restart 从 Failed/Cancel 重新执行全部原子任务，包括已经完成的
func (t *Task) Restart() error {
	t.mu.Lock()
	if err := t.expect("restart", StatusFailed, StatusCancel); err != nil {
		t.mu.Unlock()
		return err
	}
	t.gen++
	t.limiter.ClearQueue()
	t.newRunLocked()
	for _, a := range t.atoms {
		a.Reset()
	}
	t.err = nil
	t.completedAt = time.Time{}
	t.transitionLocked(StatusRunning)
	t.firstProcessMsgLocked()
	t.queueLocked(EventRestart, nil)
	t.setPercentLocked(0)
	t.runAtomTasksLocked()
	t.mu.Unlock()

	t.flush()
	return nil
}

// Failed 外部直接判定失败，仅 Running 可用
func (t *Task) Failed(err error) error {
	t.mu.Lock()
	defer func() {
		t.mu.Unlock()
		t.flush()
	}()
	if e := t.expect("failed", StatusRunning); e != nil {
		return e
	}
	var terr *TaskError
	switch {
	case err == nil:
		terr = &TaskError{Name: "Error", Message: "Failed"}
	case stderrors.As(err, &terr):
	default:
		terr = &TaskError{Name: "Error", Message: err.Error(), Cause: err}
	}
	t.taskMsg = terr.Message
	t.failLocked(terr)
	return nil
}

// Complete 外部直接判定完成，仅 Running 可用
func (t *Task) Complete() error {
	t.mu.Lock()
	defer func() {
		t.mu.Unlock()
		t.flush()
	}()
	if err := t.expect("complete", StatusRunning); err != nil {
		return err
	}
	t.completeLocked()
	return nil
}

// Remove 进入终态 Removed，从 Registry 中删除，宽限期后清空监听器
func (t *Task) Remove() error {
	t.mu.Lock()
	if err := t.expect("remove", StatusCancel, StatusFailed, StatusCompleted); err != nil {
		t.mu.Unlock()
		return err
	}
	t.transitionLocked(StatusRemoved)
	t.stopRunLocked()
	if t.registry != nil {
		t.registry.remove(t.id)
	}
	t.queueLocked(EventRemove, nil)
	t.mu.Unlock()

	t.flush()
	if t.opts.listenerGrace > 0 {
		time.AfterFunc(t.opts.listenerGrace, t.events.Clear)
	} else {
		t.events.Clear()
	}
	return nil
}

// SetPercent 手动设置进度，范围 [0,100]
func (t *Task) SetPercent(p float64) {
	t.mu.Lock()
	t.setPercentLocked(p)
	t.mu.Unlock()
	t.flush()
}

// UpdateExtInfo 合并扩展信息
func (t *Task) UpdateExtInfo(info map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	maps.Copy(t.extInfo, info)
}

func (t *Task) SetTaskMsg(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.taskMsg = msg
}

// Err 所有失败原子任务的错误
func (t *Task) Err() error {
	t.mu.Lock()
	atoms := append([]*core.AtomTask(nil), t.atoms...)
	t.mu.Unlock()

	var err error
	for _, a := range atoms {
		err = multierr.Append(err, a.Err())
	}
	return err
}

func (t *Task) baseLocked() Snapshot {
	s := Snapshot{
		ID:          t.id,
		Name:        t.name,
		Description: t.description,
		Status:      t.status,
		Percent:     t.percent,
		TaskMsg:     t.taskMsg,
		ExtInfo:     maps.Clone(t.extInfo),
		CreatedAt:   t.createdAt,
		CompletedAt: t.completedAt,
	}
	if t.err != nil {
		e := *t.err
		s.Error = &e
	}
	return s
}

func (t *Task) finish(base Snapshot, atoms []*core.AtomTask) Snapshot {
	base.Atoms = make([]core.AtomSnapshot, len(atoms))
	for i, a := range atoms {
		base.Atoms[i] = a.Snapshot()
	}
	base.State = t.data.GetAll()
	return base
}

func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	base := t.baseLocked()
	atoms := append([]*core.AtomTask(nil), t.atoms...)
	t.mu.Unlock()
	return t.finish(base, atoms)
}

// WaitForEnd 等待第一次结束：Completed 返回快照，Failed/Cancel 返回错误。
// 只结算一次，Restart 之后的结果不会再改变它。
func (t *Task) WaitForEnd(ctx context.Context) (Snapshot, error) {
	select {
	case <-t.done:
		return t.result, t.resultErr
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (t *Task) settle(snap Snapshot, err error) {
	t.settleOnce.Do(func() {
		t.result = snap
		t.resultErr = err
		close(t.done)
	})
}

func (t *Task) queueLocked(typ EventType, terr *TaskError) {
	t.outbox = append(t.outbox, pendingEvent{
		typ:   typ,
		base:  t.baseLocked(),
		atoms: append([]*core.AtomTask(nil), t.atoms...),
		err:   terr,
	})
}

func (t *Task) queueSettleLocked(typ EventType, terr *TaskError, result error) {
	t.queueLocked(typ, terr)
	p := &t.outbox[len(t.outbox)-1]
	p.settle = true
	p.result = result
}

// flush 在锁外按顺序投递事件；监听器里再触发的事件由当前 flush 继续投递
func (t *Task) flush() {
	t.mu.Lock()
	if t.flushing {
		t.mu.Unlock()
		return
	}
	t.flushing = true
	for len(t.outbox) > 0 {
		batch := t.outbox
		t.outbox = nil
		t.mu.Unlock()

		for _, p := range batch {
			snap := t.finish(p.base, p.atoms)
			if p.settle {
				t.settle(snap, p.result)
			}
			t.events.Emit(p.typ, Event{Type: p.typ, Percent: snap.Percent, Err: p.err, Task: snap})
		}

		t.mu.Lock()
	}
	t.flushing = false
	t.mu.Unlock()
}
