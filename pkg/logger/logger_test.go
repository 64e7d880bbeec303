package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/posterforge/posterforge/pkg/logger"
)

func TestNew(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = logger.New(logger.Config{Level: "warn", Format: "console", Development: true})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel), "info should be disabled at warn level")
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	_, err := logger.New(logger.Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
