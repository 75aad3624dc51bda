package xerr

const (
	SERVER_COMMON_ERROR = 100001
	REQUEST_PARAM_ERROR = 100002

	ErrInternalServer = 500

	ErrBadRequest       = 1000
	ErrInvalidInput     = 1001 // 参数不合法 (nil atom、重复 id 等)
	ErrMissingParameter = 1002

	ErrNotFound = 1300

	// 任务编排
	ErrInvalidTransition = 2001 // 当前状态不允许该操作
	ErrQueueUnbound      = 2002 // 上下文未绑定任务队列
	ErrDrainTimeout      = 2003 // 暂停时等待运行中的原子任务超时

	// 原子任务
	ErrAttemptFailed  = 3001 // 单次尝试失败，可重试
	ErrAttemptTimeout = 3002 // 单次尝试超时，可重试
	ErrAtomFailed     = 3003 // 原子任务最终失败
	ErrAtomAbandoned  = 3004 // 主动放弃重试

	ErrTaskCanceled = 4001
	ErrTaskFailed   = 4002
)
