package engine

import (
	"sort"
	"sync"
	"time"
)

// JobStats 定时任务运行时状态
type JobStats struct {
	Name         string    `json:"name"`
	Handler      string    `json:"handler"`
	CronExpr     string    `json:"cron_expr"`
	Status       string    `json:"status"`      // Idle, Running, Error
	LastRunTime  string    `json:"last_run"`    // 格式化后的时间
	NextRunTime  string    `json:"next_run"`    // 格式化后的时间
	LastResult   string    `json:"last_result"` // 成功或错误信息
	LastTaskID   string    `json:"last_task_id"`
	LastPercent  float64   `json:"last_percent"`
	LastDuration string    `json:"last_duration"`
	RunCount     int64     `json:"run_count"`
	FailCount    int64     `json:"fail_count"`
	Source       string    `json:"source"` // 任务来源 (SYSTEM, YAML, MANUAL)
	rawNext      time.Time // 用于内部计算
}

type StatManager struct {
	stats map[string]*JobStats
	mu    sync.RWMutex
}

func NewStatManager() *StatManager {
	return &StatManager{
		stats: make(map[string]*JobStats),
	}
}

func (m *StatManager) Set(name string, stat *JobStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[name] = stat
}

// Update 在锁内修改，name 不存在时忽略
func (m *StatManager) Update(name string, fn func(s *JobStats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stats[name]; ok {
		fn(s)
	}
}

// Get 返回副本
func (m *StatManager) Get(name string) (JobStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stats[name]
	if !ok {
		return JobStats{}, false
	}
	return *s, true
}

func (m *StatManager) GetAll() []JobStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]JobStats, 0, len(m.stats))
	for _, s := range m.stats {
		list = append(list, *s)
	}
	// 按名称排序
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}
