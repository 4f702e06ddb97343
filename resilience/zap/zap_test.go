//go:build unit

package zap

import (
	"context"
	"errors"
	"testing"

	logpkg "github.com/LerianStudio/lib-resilience/resilience/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)

	return &Logger{
		logger:      zap.New(core),
		atomicLevel: zap.NewAtomicLevelAt(level),
	}, logs
}

func TestNew_LevelResolution(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Environment: EnvironmentProduction})
	require.NoError(t, err)
	assert.False(t, logger.Enabled(logpkg.LevelDebug))
	assert.True(t, logger.Enabled(logpkg.LevelInfo))

	logger, err = New(Config{Environment: EnvironmentLocal})
	require.NoError(t, err)
	assert.True(t, logger.Enabled(logpkg.LevelDebug))

	logger, err = New(Config{Environment: EnvironmentProduction, Level: "error"})
	require.NoError(t, err)
	assert.False(t, logger.Enabled(logpkg.LevelWarn))
	assert.True(t, logger.Enabled(logpkg.LevelError))

	_, err = New(Config{Environment: EnvironmentProduction, Level: "verbose"})
	require.Error(t, err)
}

func TestNew_OTelBridgeDoesNotBreakEmission(t *testing.T) {
	t.Parallel()

	// Entries are teed into the otel log bridge; without a configured log
	// provider the bridge is a no-op and emission must still work.
	logger, err := New(Config{Environment: EnvironmentProduction, OTelLibraryName: "test-scope"})
	require.NoError(t, err)

	logger.Log(context.Background(), logpkg.LevelInfo, "bridge smoke")

	logger, err = New(Config{Environment: EnvironmentLocal})
	require.NoError(t, err)

	logger.Log(context.Background(), logpkg.LevelDebug, "default scope")
}

func TestLog_DispatchesLevels(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(zapcore.DebugLevel)
	ctx := context.Background()

	logger.Log(ctx, logpkg.LevelDebug, "d")
	logger.Log(ctx, logpkg.LevelInfo, "i")
	logger.Log(ctx, logpkg.LevelWarn, "w")
	logger.Log(ctx, logpkg.LevelError, "e", logpkg.Err(errors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "e", entries[3].Message)
}

func TestWith_AttachesFields(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(zapcore.InfoLevel)

	child := logger.With(logpkg.String("component", "producer"))
	child.Log(context.Background(), logpkg.LevelInfo, "published")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "producer", entries[0].ContextMap()["component"])
}

func TestNilLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var logger *Logger

	// Must not panic on a nil receiver; falls back to a nop core.
	logger.Log(context.Background(), logpkg.LevelError, "dropped")
	assert.False(t, logger.Enabled(logpkg.LevelError))
}
