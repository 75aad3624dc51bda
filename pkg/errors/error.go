package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/iceymoss/go-taskflow/pkg/xerr"
)

type CodeMsg struct {
	Code int    // 错误码
	Msg  string // 错误消息
	Err  error  // 原始错误
}

// 实现 error 接口
func (e *CodeMsg) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code=%d, msg=%s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("code=%d, msg=%s", e.Code, e.Msg)
}

func (e *CodeMsg) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配，配合下面的哨兵错误使用
func (e *CodeMsg) Is(target error) bool {
	t, ok := target.(*CodeMsg)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New 构造函数
func New(code int, msg string) error {
	return &CodeMsg{Code: code, Msg: msg}
}

func Newf(code int, format string, args ...any) error {
	return &CodeMsg{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 保留原始错误，errors.Is / errors.As 均可穿透
func Wrap(code int, msg string, err error) error {
	return &CodeMsg{Code: code, Msg: msg, Err: err}
}

// Code 取出错误链上第一个 CodeMsg 的错误码，没有则返回 0
func Code(err error) int {
	var cm *CodeMsg
	if stderrors.As(err, &cm) {
		return cm.Code
	}
	return 0
}

var (
	ErrInvalidInput      = &CodeMsg{Code: xerr.ErrInvalidInput, Msg: "invalid input"}
	ErrInvalidTransition = &CodeMsg{Code: xerr.ErrInvalidTransition, Msg: "invalid transition"}
	ErrQueueUnbound      = &CodeMsg{Code: xerr.ErrQueueUnbound, Msg: "queue unbound"}
	ErrDrainTimeout      = &CodeMsg{Code: xerr.ErrDrainTimeout, Msg: "drain timeout"}
	ErrAttemptFailed     = &CodeMsg{Code: xerr.ErrAttemptFailed, Msg: "attempt failed"}
	ErrAttemptTimeout    = &CodeMsg{Code: xerr.ErrAttemptTimeout, Msg: "attempt timeout"}
	ErrAtomFailed        = &CodeMsg{Code: xerr.ErrAtomFailed, Msg: "atom task failed"}
	ErrAbandoned         = &CodeMsg{Code: xerr.ErrAtomAbandoned, Msg: "abandoned"}
	ErrCanceled          = &CodeMsg{Code: xerr.ErrTaskCanceled, Msg: "task canceled"}
	ErrNotFound          = &CodeMsg{Code: xerr.ErrNotFound, Msg: "not found"}
)

// IsValidation 判断是否为同步返回、不应重试的参数/状态类错误
func IsValidation(err error) bool {
	return stderrors.Is(err, ErrInvalidInput) ||
		stderrors.Is(err, ErrInvalidTransition) ||
		stderrors.Is(err, ErrQueueUnbound)
}
