package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{input: "error", expected: LevelError},
		{input: "WARN", expected: LevelWarn},
		{input: "warning", expected: LevelWarn},
		{input: "info", expected: LevelInfo},
		{input: "", expected: LevelInfo},
		{input: "debug", expected: LevelDebug},
		{input: "trace", expected: LevelDebug},
		{input: "loud", expected: LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput("proxy", LevelWarn, &buf)

	l.Debug("hidden debug")
	l.Info("hidden info")
	l.Warn("shown %s", "warning")
	l.Error("shown error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown warning")
	assert.Contains(t, out, "shown error")
	assert.Contains(t, out, "component=proxy")
}

func TestWithAndNamed(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput("proxy", LevelInfo, &buf)

	l.With("request_id", "abc").Info("routed")
	l.Named("fallback").Info("404 hit")

	out := buf.String()
	assert.Contains(t, out, "request_id=abc")
	assert.Contains(t, out, "component=fallback")
	assert.Equal(t, LevelInfo, l.Named("x").Level())
}

func TestLogWriter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput("http", LevelDebug, &buf)
	w := NewLogWriter(l, LevelWarn)

	n, err := w.Write([]byte("http: TLS handshake error\n"))
	assert.NoError(t, err)
	assert.Equal(t, len("http: TLS handshake error\n"), n)
	assert.Contains(t, buf.String(), "level=warning")
	assert.Contains(t, buf.String(), "TLS handshake error")

	buf.Reset()
	_, err = w.Write([]byte("   \n"))
	assert.NoError(t, err)
	assert.Empty(t, buf.String())
}
