package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	assert.Equal(t, Default(), From(context.Background()))

	l := Discard()
	ctx := With(context.Background(), l)
	assert.Equal(t, l, From(ctx))
}

func TestNewJSON_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON("warn", &buf)

	l.Info("hidden")
	l.Warn("shown", "k", 1)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestNew_WritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	l := New("debug", &buf)
	l.Debug("hello from clog")
	assert.Contains(t, buf.String(), "hello from clog")
}
