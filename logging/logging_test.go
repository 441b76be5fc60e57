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

type captureEmitter struct {
	counters []string
}

func (c *captureEmitter) IncCounter(name string, labels map[string]string) {
	c.counters = append(c.counters, name)
}

func TestNewDefaultsFormatAndLevel(t *testing.T) {
	l := New(Config{}, "scheduler")
	assert.Equal(t, "info", l.level)
	assert.Equal(t, "text", l.format)
}

func TestJSONFormatEmitsValidJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "json", Level: "debug"}, "scheduler")
	l.output = &buf

	l.Info("hello", map[string]interface{}{"key": "value"})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "hello", decoded["message"])
}

func TestLevelGatingSuppressesBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "text", Level: "error"}, "scheduler")
	l.output = &buf

	l.Info("should not appear", nil)
	assert.Empty(t, buf.String())

	l.Error("should appear", nil)
	assert.Contains(t, buf.String(), "should appear")
}

func TestWithMetricsForwardsErrorCounts(t *testing.T) {
	var buf bytes.Buffer
	emitter := &captureEmitter{}
	l := New(Config{Format: "text", Level: "debug"}, "scheduler")
	l.output = &buf
	l.WithMetrics(emitter)

	l.Error("boom", nil)
	assert.NotEmpty(t, emitter.counters)
}

func TestWithBaggageCorrelatesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "json", Level: "debug"}, "scheduler")
	l.output = &buf
	l.WithBaggage(func(ctx context.Context) map[string]string {
		return map[string]string{"trace_id": "abc123"}
	})

	l.InfoWithContext(context.Background(), "hello", nil)
	assert.True(t, strings.Contains(buf.String(), "abc123"))
}

func TestNoOpNeverPanics(t *testing.T) {
	var n NoOp
	n.Info("x", nil)
	n.Warn("x", nil)
	n.Error("x", nil)
	n.Debug("x", nil)
	n.InfoWithContext(context.Background(), "x", nil)
	n.ErrorWithContext(context.Background(), "x", nil)
}
