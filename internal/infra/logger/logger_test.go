package logger

import (
	"testing"

	"github.com/sifan077/TempLink/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	l, err := New(config.LogConfig{Level: "WARN", Encoding: "json"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = New(config.LogConfig{})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_Rejects(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.ErrorContains(t, err, "invalid level")

	_, err = New(config.LogConfig{Encoding: "xml"})
	assert.ErrorContains(t, err, "unknown encoding")
}

func TestInit_ReplacesGlobal(t *testing.T) {
	t.Cleanup(func() {
		mu.Lock()
		global = nil
		mu.Unlock()
	})

	assert.False(t, L().Core().Enabled(zapcore.ErrorLevel))

	l := MustInit(config.LogConfig{Level: "debug", Development: true})
	assert.Same(t, l, L())
	assert.True(t, L().Core().Enabled(zapcore.DebugLevel))
	assert.NoError(t, Sync())
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel(" Error ")
	require.NoError(t, err)
	assert.Equal(t, zapcore.ErrorLevel, level)
}
