package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

func TestNewLoggerIsNamed(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	ce := logger.Check(zap.InfoLevel, "logger ready")
	require.NotNil(t, ce)
	require.Equal(t, "analyser", ce.LoggerName)
	ce.Write()
}
