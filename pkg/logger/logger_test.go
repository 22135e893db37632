package logger_test

import (
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/logger/memory"
)

func TestDispatchToAllInstances(t *testing.T) {
	first := memory.NewMemoryLogger()
	second := memory.NewMemoryLogger()
	logger.Init(first, second)
	defer logger.Init()

	logger.Warn("[Builder] Skipping edge", "missing", "X")
	logger.Log("plain", "k", 1)

	for i, l := range []*memory.MemoryLogger{first, second} {
		entries := l.Entries()
		if len(entries) != 2 {
			t.Fatalf("instance %d: expected 2 entries, got %d", i, len(entries))
		}
		if entries[0].Level != memory.LevelWarn {
			t.Errorf("instance %d: expected warn, got %s", i, entries[0].Level)
		}
		if v, ok := entries[0].Value("missing"); !ok || v != "X" {
			t.Errorf("instance %d: expected missing=X, got %v", i, v)
		}
		if v, ok := entries[1].Value("k"); !ok || v != 1 {
			t.Errorf("instance %d: Log dropped keyvals, got %v", i, entries[1].Keyvals)
		}
	}
}

func TestNoInstances(t *testing.T) {
	logger.Init()
	logger.Info("nobody listens")
}
