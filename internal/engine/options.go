package engine

import (
	"maps"
	"time"

	"github.com/iceymoss/go-taskflow/internal/conf"
	"github.com/iceymoss/go-taskflow/internal/core"
	"github.com/iceymoss/go-taskflow/pkg/logger"

	"go.uber.org/zap"
)

const (
	DefaultConcurrency   = 1
	DefaultDrainTimeout  = 60 * time.Second
	DefaultDrainInterval = 500 * time.Millisecond
	DefaultListenerGrace = time.Second
)

type options struct {
	concurrency   int
	defaults      map[string]any
	shared        core.Context
	registry      *Registry
	drainTimeout  time.Duration
	drainInterval time.Duration
	listenerGrace time.Duration
	log           *zap.Logger
}

func defaultOptions() options {
	return options{
		concurrency:   DefaultConcurrency,
		drainTimeout:  DefaultDrainTimeout,
		drainInterval: DefaultDrainInterval,
		listenerGrace: DefaultListenerGrace,
		log:           logger.Named("task"),
	}
}

type Option func(*options)

// WithConcurrency 同时运行的原子任务上限，小于 1 按 1 处理
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.concurrency = n
	}
}

// WithDefaultContextData 上下文初始数据，使用共享上下文时忽略
func WithDefaultContextData(data map[string]any) Option {
	return func(o *options) { o.defaults = maps.Clone(data) }
}

// WithSharedContext 借用另一个 Task 的上下文，队列操作仍作用于原 Task
func WithSharedContext(c core.Context) Option {
	return func(o *options) { o.shared = c }
}

func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.drainTimeout = d
		}
	}
}

func WithDrainInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.drainInterval = d
		}
	}
}

// WithListenerGrace Remove 之后多久清空监听器，<=0 表示立即
func WithListenerGrace(d time.Duration) Option {
	return func(o *options) { o.listenerGrace = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// FromConfig 把配置文件 engine 段转成 Task 选项
func FromConfig(c conf.EngineConfig) Option {
	return func(o *options) {
		for _, opt := range []Option{
			WithConcurrency(c.Concurrency),
			WithDrainTimeout(c.DrainTimeout),
			WithDrainInterval(c.DrainInterval),
			WithListenerGrace(c.ListenerGrace),
		} {
			opt(o)
		}
	}
}
