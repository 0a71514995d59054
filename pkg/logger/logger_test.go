package logger

import (
	"testing"

	"github.com/legal-qa-backend-go/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerSetsLevel(t *testing.T) {
	log, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(&config.LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestWithRequestAttachesFields(t *testing.T) {
	log, err := NewLogger(&config.LoggingConfig{Level: "info", Output: "stdout"})
	require.NoError(t, err)

	entry := WithRequest(log, "req-123", "a@example.com")
	assert.Equal(t, "req-123", entry.Data["request_id"])
	assert.Equal(t, "a@example.com", entry.Data["identity"])
}
