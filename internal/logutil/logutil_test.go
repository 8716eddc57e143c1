package logutil

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFieldsAreSortedAndErrorAttached(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	Error("stream failed", errors.New("boom"), map[string]interface{}{
		"zeta":  1,
		"alpha": "a",
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry got %d", len(entries))
	}
	ctx := entries[0].Context
	if len(ctx) != 3 {
		t.Fatalf("expected 3 fields got %d", len(ctx))
	}
	if ctx[0].Key != "alpha" || ctx[1].Key != "zeta" || ctx[2].Key != "error" {
		t.Fatalf("unexpected field order: %s %s %s", ctx[0].Key, ctx[1].Key, ctx[2].Key)
	}
}

func TestDefaultLoggerIsSilent(t *testing.T) {
	Set(nil)
	// Must not panic without Init.
	Info("noop", nil)
	Warn("noop", map[string]interface{}{"k": "v"})
}
