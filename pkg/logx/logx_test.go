package logx

import (
	"testing"
)

func TestRecentEntriesFilter(t *testing.T) {
	logger := NewLogger("filter-test")
	logger.Info("hello %s", "world")
	logger.Warn("something odd")

	entries := RecentEntries("filter-test")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for component, got %d", len(entries))
	}
	if entries[0].Message != "hello world" {
		t.Errorf("unexpected message: %q", entries[0].Message)
	}
	if entries[1].Level != string(LevelWarn) {
		t.Errorf("expected WARN, got %s", entries[1].Level)
	}
}

func TestDebugDisabledByDefault(t *testing.T) {
	SetDebug(false, nil)
	logger := NewLogger("debug-test")
	logger.Debug("should not appear")

	if entries := RecentEntries("debug-test"); len(entries) != 0 {
		t.Errorf("expected no debug entries, got %d", len(entries))
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	SetDebug(true, []string{"wanted"})
	defer SetDebug(false, nil)

	NewLogger("wanted").Debug("in")
	NewLogger("unwanted").Debug("out")

	if entries := RecentEntries("wanted"); len(entries) != 1 {
		t.Errorf("expected 1 entry for enabled domain, got %d", len(entries))
	}
	if entries := RecentEntries("unwanted"); len(entries) != 0 {
		t.Errorf("expected 0 entries for disabled domain, got %d", len(entries))
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("Wrap(nil) should return nil, got %v", err)
	}
}
