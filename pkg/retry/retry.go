// Package retry 在 cenkalti/backoff 之上封装固定间隔的有限次重试，
// 额外提供 abandon：在某次尝试内部调用后不再重试。
package retry

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	errs "github.com/iceymoss/go-taskflow/pkg/errors"
)

type Options struct {
	Times int           // 失败后的重试次数，总尝试次数为 Times+1
	Delay time.Duration // 两次尝试之间的间隔

	// OnRetry 在每次失败且还会继续重试时调用
	OnRetry func(err error, attempt int, next time.Duration)
}

// Attempt 单次尝试，attempt 从 1 开始
type Attempt func(ctx context.Context, attempt int, abandon func(error)) error

type abandonment struct {
	mu   sync.Mutex
	done bool
	err  error
}

func (a *abandonment) abandon(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return
	}
	if err == nil {
		err = errs.ErrAbandoned
	}
	a.done, a.err = true, err
}

func (a *abandonment) get() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done, a.err
}

// Do 执行 fn 直到成功、重试次数耗尽、被 abandon 或 ctx 结束。
// ctx 结束时返回 ctx.Err()，其余情况返回最后一次尝试的错误。
func Do(ctx context.Context, opts Options, fn Attempt) error {
	times := opts.Times
	if times < 0 {
		times = 0
	}
	delay := opts.Delay
	if delay < 0 {
		delay = 0
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(delay)
	b = backoff.WithMaxRetries(b, uint64(times))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		ab := &abandonment{}
		err := fn(ctx, attempt, ab.abandon)
		if done, aerr := ab.get(); done {
			return backoff.Permanent(aerr)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt, next)
		}
	}

	return backoff.RetryNotify(op, b, notify)
}
