package core

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	errs "github.com/iceymoss/go-taskflow/pkg/errors"
	"github.com/iceymoss/go-taskflow/pkg/idgen"
	"github.com/iceymoss/go-taskflow/pkg/logger"
	"github.com/iceymoss/go-taskflow/pkg/retry"
	"github.com/iceymoss/go-taskflow/pkg/xerr"

	"go.uber.org/zap"
)

const (
	DefaultRetryTimes     = 3
	DefaultRetryDelay     = time.Second
	DefaultAttemptTimeout = 60 * time.Second

	atomIDLen = 32
)

// ExecInput 每次尝试传给 Exec 的参数
type ExecInput struct {
	Ctx     context.Context // 超时或取消时 Done
	Data    Context
	Attempt int // 从 1 开始
	// Abandon 调用后本次结束即不再重试
	Abandon func(error)
}

// Exec 原子任务的执行体。
// 返回 error 或 panic 视为本次尝试失败，会按策略重试；
// 返回显式的 Result 则直接结束，零值 Result 等同 Completed()。
type Exec func(in ExecInput) (Result, error)

// Result 执行体显式给出的结果
type Result struct {
	status AtomStatus
	reason string
}

func Completed() Result { return Result{status: AtomCompleted} }

// Warning 非致命，不会导致所属 Task 失败
func Warning() Result { return Result{status: AtomWarning} }

func Failed(reason string) Result { return Result{status: AtomFailed, reason: reason} }

func (r Result) Status() AtomStatus {
	if r.status == "" {
		return AtomCompleted
	}
	return r.status
}

type AtomInit struct {
	ID         string // 为空时自动生成
	Exec       Exec
	ErrorMsg   Message
	ProcessMsg Message
	WarningMsg Message
	SuccessMsg Message
}

type atomOptions struct {
	retryTimes     int
	retryDelay     time.Duration
	attemptTimeout time.Duration
	log            *zap.Logger
}

type AtomOption func(*atomOptions)

// WithRetryTimes 失败后的重试次数，负数按 0 处理
func WithRetryTimes(n int) AtomOption {
	return func(o *atomOptions) {
		if n < 0 {
			n = 0
		}
		o.retryTimes = n
	}
}

func WithRetryDelay(d time.Duration) AtomOption {
	return func(o *atomOptions) {
		if d < 0 {
			d = 0
		}
		o.retryDelay = d
	}
}

// WithAttemptTimeout 单次尝试超时，<=0 表示不限时
func WithAttemptTimeout(d time.Duration) AtomOption {
	return func(o *atomOptions) { o.attemptTimeout = d }
}

func WithAtomLogger(l *zap.Logger) AtomOption {
	return func(o *atomOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// AtomSnapshot 原子任务的只读视图，文案已按最近一次的上下文求值
type AtomSnapshot struct {
	ID         string     `json:"id"`
	Status     AtomStatus `json:"status"`
	ProcessMsg string     `json:"process_msg"`
	SuccessMsg string     `json:"success_msg"`
	ErrorMsg   string     `json:"error_msg"`
	WarningMsg string     `json:"warning_msg"`
	Reason     string     `json:"reason,omitempty"`
	Attempts   int        `json:"attempts"`
}

// AtomTask 一个带重试、单次超时和取消的工作单元
type AtomTask struct {
	id   string
	exec Exec
	msgs [4]Message // error, process, warning, success
	opts atomOptions

	mu       sync.Mutex
	status   AtomStatus
	data     Context
	reason   string
	err      error
	attempts int
	cancel   context.CancelFunc
	gen      uint64
}

func NewAtomTask(init AtomInit, opts ...AtomOption) *AtomTask {
	o := atomOptions{
		retryTimes:     DefaultRetryTimes,
		retryDelay:     DefaultRetryDelay,
		attemptTimeout: DefaultAttemptTimeout,
		log:            logger.Named("atom"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	id := init.ID
	if id == "" {
		id = idgen.New(atomIDLen)
	}
	exec := init.Exec
	if exec == nil {
		exec = func(ExecInput) (Result, error) { return Completed(), nil }
	}

	return &AtomTask{
		id:     id,
		exec:   exec,
		msgs:   [4]Message{init.ErrorMsg, init.ProcessMsg, init.WarningMsg, init.SuccessMsg},
		opts:   o,
		status: AtomPending,
	}
}

func (a *AtomTask) ID() string {
	return a.id
}

func (a *AtomTask) Status() AtomStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Err Failed 时的错误，其余状态为 nil
func (a *AtomTask) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Run 只能在 Pending 时调用，ctx 已结束时直接返回 ctx.Err() 且不改变状态。
// 结束于 Failed 时返回 ErrAtomFailed 包装的错误，Completed/Warning 返回 nil。
func (a *AtomTask) Run(ctx context.Context, data Context) (AtomSnapshot, error) {
	a.mu.Lock()
	if a.status != AtomPending {
		st := a.status
		a.mu.Unlock()
		return a.Snapshot(), errs.Newf(xerr.ErrInvalidTransition,
			"atom %s is %s, run requires %s", a.id, st, AtomPending)
	}
	if err := ctx.Err(); err != nil {
		a.mu.Unlock()
		return a.Snapshot(), err
	}
	runCtx, cancel := context.WithCancel(ctx)
	gen := a.gen
	a.status = AtomRunning
	a.data = data
	a.cancel = cancel
	a.attempts = 0
	a.reason = ""
	a.err = nil
	a.mu.Unlock()
	defer cancel()

	var explicit *Result
	lastErr := retry.Do(runCtx, retry.Options{
		Times: a.opts.retryTimes,
		Delay: a.opts.retryDelay,
		OnRetry: func(err error, attempt int, next time.Duration) {
			a.opts.log.Debug("atom attempt failed, retrying",
				zap.String("atom", a.id), zap.Int("attempt", attempt),
				zap.Duration("next", next), zap.Error(err))
		},
	}, func(ctx context.Context, attempt int, abandon func(error)) error {
		a.mu.Lock()
		if a.gen == gen {
			a.attempts = attempt
		}
		a.mu.Unlock()

		res, err := a.attempt(ctx, data, attempt, abandon)
		if err != nil {
			return err
		}
		explicit = &res
		return nil
	})

	final := Completed()
	switch {
	case explicit != nil:
		final = *explicit
	case lastErr != nil:
		final = Failed(reasonOf(lastErr))
	}

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return a.Snapshot(), errs.Newf(xerr.ErrInvalidTransition, "atom %s was reset while running", a.id)
	}
	a.status = final.Status()
	a.cancel = nil
	a.reason = final.reason
	var runErr error
	if a.status == AtomFailed {
		reason := final.reason
		if reason == "" {
			reason = "failed"
		}
		runErr = errs.Wrap(xerr.ErrAtomFailed, a.id+": "+reason, lastErr)
		a.err = runErr
	}
	a.mu.Unlock()

	if runErr != nil {
		a.opts.log.Warn("atom failed", zap.String("atom", a.id), zap.Error(runErr))
	}
	return a.Snapshot(), runErr
}

type outcome struct {
	res Result
	err error
}

func (a *AtomTask) attempt(ctx context.Context, data Context, attempt int, abandon func(error)) (Result, error) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if a.opts.attemptTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, a.opts.attemptTimeout)
	}
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: errs.Newf(xerr.ErrAttemptFailed, "panic: %v", r)}
			}
		}()
		res, err := a.exec(ExecInput{Ctx: actx, Data: data, Attempt: attempt, Abandon: abandon})
		ch <- outcome{res: res, err: err}
	}()

	timedOut := func() error {
		return errs.Newf(xerr.ErrAttemptTimeout,
			"attempt %d timed out after %s", attempt, a.opts.attemptTimeout)
	}

	select {
	case o := <-ch:
		// 执行体在超时后才返回错误，按超时处理
		if o.err != nil && actx.Err() != nil && ctx.Err() == nil {
			return Result{}, timedOut()
		}
		return o.res, o.err
	case <-actx.Done():
		// 整体取消时结果由执行体决定，等它返回
		if ctx.Err() != nil {
			o := <-ch
			return o.res, o.err
		}
		select {
		case o := <-ch:
			if o.err == nil {
				return o.res, nil
			}
		default:
		}
		return Result{}, timedOut()
	}
}

// Cancel 取消正在进行的执行，执行体通过 ExecInput.Ctx 感知，Run 会等执行体返回
func (a *AtomTask) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Reset 回到 Pending 开始新的生命周期，进行中的那次执行结果会被丢弃
func (a *AtomTask) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.gen++
	a.status = AtomPending
	a.reason = ""
	a.err = nil
	a.attempts = 0
}

func (a *AtomTask) Snapshot() AtomSnapshot {
	a.mu.Lock()
	snap := AtomSnapshot{
		ID:       a.id,
		Status:   a.status,
		Reason:   a.reason,
		Attempts: a.attempts,
	}
	data := a.data
	a.mu.Unlock()

	snap.ErrorMsg = a.msgs[0].Render(data)
	snap.ProcessMsg = a.msgs[1].Render(data)
	snap.WarningMsg = a.msgs[2].Render(data)
	snap.SuccessMsg = a.msgs[3].Render(data)
	return snap
}

func reasonOf(err error) string {
	var cm *errs.CodeMsg
	if stderrors.As(err, &cm) {
		if cm.Err != nil {
			return cm.Msg + ": " + cm.Err.Error()
		}
		return cm.Msg
	}
	return err.Error()
}
