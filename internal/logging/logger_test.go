package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		expected LogLevel
		ok       bool
	}{
		{"ERROR", LevelError, true},
		{"warn", LevelWarn, true},
		{"Debug", LevelDebug, true},
		{"TRACE", LevelTrace, true},
		{"verbose", LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, ok := ParseLevel(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, level)
		})
	}
	assert.Equal(t, "LEVEL(9)", LogLevel(9).String())
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	root := NewLogger("TEST")
	root.SetOutput(&buf)
	child := root.WithPrefix("child")

	child.Debug("hidden %d", 1)
	assert.Empty(t, buf.String())

	root.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, child.Level())
	child.Debug("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
	assert.Contains(t, buf.String(), "component=child")

	buf.Reset()
	root.SetLevel(LevelError)
	root.Warn("hidden")
	root.Error("failed: %s", "boom")
	out := buf.String()
	require.NotEmpty(t, out)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "failed: boom")
	assert.Contains(t, out, "component=TEST")
}
