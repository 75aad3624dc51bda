package constants

// TaskType 任务来源
type TaskType string

const (
	TaskTypeSYSTEM TaskType = "SYSTEM" // 代码中 RegisterAuto 声明
	TaskTypeYAML   TaskType = "YAML"   // 配置文件 jobs 段
	TaskTypeMANUAL TaskType = "MANUAL" // 手动触发
)

const TimeLayout = "2006-01-02 15:04:05"
