package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit_Formats(t *testing.T) {
	defer Set(nil)
	for _, format := range []string{"", "console", "json"} {
		if err := Init("debug", format); err != nil {
			t.Errorf("Init(debug, %q): %v", format, err)
		}
	}
}

func TestInit_Rejects(t *testing.T) {
	defer Set(nil)
	if err := Init("loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
	if err := Init("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSet_ReplacesGlobal(t *testing.T) {
	defer Set(nil)
	core, logs := observer.New(zap.InfoLevel)
	Set(zap.New(core))

	L().Info("pairlock: waited", zap.String("key", "1:2"))
	if logs.Len() != 1 {
		t.Fatalf("logged %d entries, want 1", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["key"]; got != "1:2" {
		t.Errorf("key field = %v, want 1:2", got)
	}

	Set(nil)
	L().Info("dropped")
	if logs.Len() != 1 {
		t.Error("nil Set should install a no-op logger")
	}
}
