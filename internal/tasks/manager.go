package tasks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/iceymoss/go-taskflow/internal/conf"
	"github.com/iceymoss/go-taskflow/internal/core"
	"github.com/iceymoss/go-taskflow/pkg/constants"
	"github.com/iceymoss/go-taskflow/pkg/logger"

	"go.uber.org/zap"
)

// Creator 根据参数构造一次运行所需的原子任务。
// opts 是引擎配置给出的默认重试参数，实现时应传给 core.NewAtomTask。
type Creator func(params map[string]any, opts ...core.AtomOption) ([]*core.AtomTask, error)

type Scheduler interface {
	AddJob(cronExpr, handler, uniqueJobName string, params map[string]any, source string) error
}

// AutoJob 定义一个“自启动任务”的结构
type AutoJob struct {
	Name    string         // 任务唯一标识
	Cron    string         // Cron 表达式
	Creator Creator        // 构造函数
	Params  map[string]any // 默认参数
}

var (
	registry = make(map[string]Creator) // 普通任务注册（供 Config 调用）
	autoJobs = make([]*AutoJob, 0)      // 自动任务列表（供代码直接启动）
	mu       sync.RWMutex
)

// Register 供配置文件中的 jobs 引用
func Register(name string, creator Creator) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = creator
}

// RegisterAuto 注册并自动启动，在任务包的 init 里调用即可把“逻辑+时间+参数”一起挂上
func RegisterAuto(name string, cron string, creator Creator, defaultParams map[string]any) {
	mu.Lock()
	defer mu.Unlock()

	registry[name] = creator
	autoJobs = append(autoJobs, &AutoJob{
		Name:    name,
		Cron:    cron,
		Creator: creator,
		Params:  defaultParams,
	})
}

// ApplyAutoJobs 把代码中声明的自动任务加到调度器
func ApplyAutoJobs(sched Scheduler) int {
	mu.RLock()
	jobs := append([]*AutoJob(nil), autoJobs...)
	mu.RUnlock()

	loaded := 0
	for _, job := range jobs {
		err := sched.AddJob(job.Cron, job.Name, job.Name, job.Params, string(constants.TaskTypeSYSTEM))
		if err != nil {
			logger.Error("❌ [AutoLoad] failed to load job", zap.String("job", job.Name), zap.Error(err))
			continue
		}
		logger.Info("✅ [AutoLoad] loaded job", zap.String("job", job.Name), zap.String("cron", job.Cron))
		loaded++
	}
	return loaded
}

// ApplyConfigJobs 把配置文件中 enable 的任务加到调度器
func ApplyConfigJobs(sched Scheduler, jobs []conf.JobConfig) int {
	loaded := 0
	for _, job := range jobs {
		if !job.Enable {
			continue
		}
		params := job.Params
		if job.Concurrency > 0 {
			params = withConcurrency(params, job.Concurrency)
		}
		err := sched.AddJob(job.Cron, job.HandlerName(), job.Name, params, string(constants.TaskTypeYAML))
		if err != nil {
			logger.Error("❌ [Config] failed to load job", zap.String("job", job.Name), zap.Error(err))
			continue
		}
		loaded++
	}
	return loaded
}

// ConcurrencyParam 写在 params 里的并发度
const ConcurrencyParam = "_concurrency"

func withConcurrency(params map[string]any, n int) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[ConcurrencyParam] = n
	return out
}

func GetCreator(name string) (Creator, error) {
	mu.RLock()
	defer mu.RUnlock()
	creator, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("task implementation '%s' not found", name)
	}
	return creator, nil
}

// Names 已注册的任务名，按字母序
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AtomOptions 把引擎配置转成原子任务的默认选项
func AtomOptions(c conf.EngineConfig) []core.AtomOption {
	return []core.AtomOption{
		core.WithRetryTimes(c.RetryTimes),
		core.WithRetryDelay(c.RetryDelay),
		core.WithAttemptTimeout(c.AttemptTimeout),
	}
}
