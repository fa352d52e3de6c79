package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	for _, opts := range []Options{
		{},
		{Level: "debug", Format: "console"},
		{Level: "WARN", Format: "json"},
	} {
		logger, err := NewLogger(opts)
		require.NoError(t, err, "%+v", opts)
		logger.With("component", "test").Info("hello", "key", "value")
	}

	_, err := NewLogger(Options{Level: "verbose"})
	assert.ErrorContains(t, err, "verbose")
}

func TestNop(t *testing.T) {
	logger := NewNop()
	logger.Debug("dropped")
	logger.Error("dropped", "error", "x")
	assert.NotNil(t, logger.With("k", "v"))
}
