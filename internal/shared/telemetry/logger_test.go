package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInfoWritesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	Info("analysis.status", map[string]any{
		"analysis_id":       "a1",
		"status_transition": "pending->extracting",
	})
	Error("pipeline.failed", map[string]any{"error": errors.New("boom")})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "analysis.status", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "a1", ctx["analysis_id"])
	assert.Equal(t, "pending->extracting", ctx["status_transition"])
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(Options{Level: "loud"})
	assert.Error(t, err)
}
