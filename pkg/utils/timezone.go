package utils

import (
	"sync/atomic"
	"time"

	"github.com/iceymoss/go-taskflow/pkg/constants"
)

const DefaultTimezone = "Asia/Shanghai"

var location atomic.Pointer[time.Location]

func init() {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		// 加载失败时使用固定偏移量 UTC+8
		loc = time.FixedZone("CST", 8*60*60)
	}
	location.Store(loc)
}

// SetLocation 切换展示用的时区，name 为空时保持不变
func SetLocation(name string) error {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	location.Store(loc)
	return nil
}

func Location() *time.Location {
	return location.Load()
}

// Now 展示时区的当前时间
func Now() time.Time {
	return time.Now().In(Location())
}

// FormatTime 按展示时区格式化，零值返回空串
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(Location()).Format(constants.TimeLayout)
}
