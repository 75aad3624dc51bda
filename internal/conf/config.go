package conf

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Timezone string       `mapstructure:"timezone"` // 统计信息展示用的时区
	Engine   EngineConfig `mapstructure:"engine"`
	Jobs     []JobConfig  `mapstructure:"jobs"`
}

// EngineConfig Task 与原子任务的默认参数
type EngineConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	RetryTimes     int           `mapstructure:"retry_times"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
	DrainInterval  time.Duration `mapstructure:"drain_interval"`
	ListenerGrace  time.Duration `mapstructure:"listener_grace"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"` // 定时任务单次运行的最长等待
}

type JobConfig struct {
	Name        string                 `mapstructure:"name"`
	Handler     string                 `mapstructure:"handler"` // 对应 tasks.Register 的名字，为空时取 Name
	Cron        string                 `mapstructure:"cron"`
	Enable      bool                   `mapstructure:"enable"`
	Concurrency int                    `mapstructure:"concurrency"`
	Params      map[string]interface{} `mapstructure:"params"`
}

func (j JobConfig) HandlerName() string {
	if j.Handler != "" {
		return j.Handler
	}
	return j.Name
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timezone", "Asia/Shanghai")
	v.SetDefault("engine.concurrency", 1)
	v.SetDefault("engine.retry_times", 3)
	v.SetDefault("engine.retry_delay", "1s")
	v.SetDefault("engine.attempt_timeout", "60s")
	v.SetDefault("engine.drain_timeout", "60s")
	v.SetDefault("engine.drain_interval", "500ms")
	v.SetDefault("engine.listener_grace", "1s")
	v.SetDefault("engine.run_timeout", "65m")
}

// Default 不读文件时的默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return &c
}

// LoadConfig 加载配置
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TASKFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // 自动读取环境变量，如 TASKFLOW_ENGINE_CONCURRENCY

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	// 显式展开 YAML 中的 ${VAR}
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.Contains(val, "${") {
			v.Set(key, os.ExpandEnv(val))
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
