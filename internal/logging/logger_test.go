package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelDebug, FormatJSON)
	logger.SetOutput(&buf)

	logger.WithJob("job-1").WithAccount("acct-9").Info("job claimed")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry.Level)
	assert.Equal(t, "job claimed", entry.Message)
	assert.Equal(t, "job-1", entry.Fields[FieldJobID])
	assert.Equal(t, "acct-9", entry.Fields[FieldAccountID])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelWarn, FormatText)
	logger.SetOutput(&buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "warn: shown")
}

func TestLogger_DerivedLoggersDoNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(LevelInfo, FormatText)
	base.SetOutput(&buf)

	a := base.WithField("a", 1)
	_ = base.WithField("b", 2)
	a.Info("only a")

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, `"a":1`)
	assert.NotContains(t, line, `"b"`)
}

func TestFromContext(t *testing.T) {
	logger := NewLogger(LevelDebug, FormatJSON).WithJob("ctx-job")
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLogLevel("nonsense"))
	assert.Equal(t, FormatText, ParseLogFormat("text"))
}
