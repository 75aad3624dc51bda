package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New 生成长度为 n 的随机字母数字 id (小写十六进制)
func New(n int) string {
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(n + 32)
	for b.Len() < n {
		u := uuid.New()
		b.WriteString(strings.ReplaceAll(u.String(), "-", ""))
	}
	return b.String()[:n]
}
