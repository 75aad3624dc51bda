package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zap.AtomicLevel{
		"debug":   zap.NewAtomicLevelAt(zap.DebugLevel),
		"INFO":    zap.NewAtomicLevelAt(zap.InfoLevel),
		"warning": zap.NewAtomicLevelAt(zap.WarnLevel),
		"error":   zap.NewAtomicLevelAt(zap.ErrorLevel),
		"":        zap.NewAtomicLevelAt(zap.WarnLevel),
		"unknown": zap.NewAtomicLevelAt(zap.WarnLevel),
	}
	for in, want := range cases {
		assert.Equal(t, want.Level(), parseLevel(in), "level for %q", in)
	}
}

func TestNamed(t *testing.T) {
	l := Named("engine")
	assert.NotNil(t, l)
	assert.NotPanics(t, func() {
		l.Debug("named logger works")
		Sync()
	})
}
