package logger

import (
	"testing"

	"github.com/routepay/server/internal/shared/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("JSON production logger", func(t *testing.T) {
		log, err := New(&config.LogConfig{Level: "info", Format: "json"})
		assert.NoError(t, err)
		assert.NotNil(t, log)
	})

	t.Run("Console logger", func(t *testing.T) {
		log, err := New(&config.LogConfig{Level: "debug", Format: "console"})
		assert.NoError(t, err)
		assert.NotNil(t, log)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("Unknown level fails", func(t *testing.T) {
		_, err := New(&config.LogConfig{Level: "loud"})
		assert.Error(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := parseLevel(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
