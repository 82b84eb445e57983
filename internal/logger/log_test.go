package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewNamed_SameInstance(t *testing.T) {
	a := NewNamed("test.same")
	b := NewNamed("test.same")
	assert.Same(t, a, b)
}

func TestSetDefault_RebindsNamed(t *testing.T) {
	l := NewNamed("test.rebind")

	core, logs := observer.New(zapcore.DebugLevel)
	SetDefault(zap.New(core))
	defer SetDefault(zap.NewNop())

	l.Info("hello", zap.String("k", "v"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "test.rebind", entry.LoggerName)
	assert.Equal(t, "v", entry.ContextMap()["k"])
}

func TestSetNamedLevels_Glob(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetDefault(zap.New(core))
	defer func() {
		SetNamedLevels(nil)
		SetDefault(zap.NewNop())
	}()
	SetNamedLevels([]NamedLevel{{Name: "quiet*", Level: "error"}})

	NewNamed("quiet.one").Info("dropped")
	NewNamed("loud").Info("kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
}

func TestConfig_Build(t *testing.T) {
	lg, err := Config{Format: JSONOutput, DefaultLevel: "warn"}.Build()
	require.NoError(t, err)
	assert.False(t, lg.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, lg.Core().Enabled(zapcore.WarnLevel))

	_, err = Config{DefaultLevel: "noisy"}.Build()
	assert.Error(t, err)
}
