package eventlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWriter(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	currentFile := writer.CurrentLogFile()
	if currentFile == "" {
		t.Error("No current log file set")
	}
	if _, err := os.Stat(currentFile); os.IsNotExist(err) {
		t.Error("Current log file does not exist")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "flow-audit.csv")); err != nil {
		t.Errorf("Audit CSV was not created: %v", err)
	}
}

func TestWriteEvent(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	ev := &FlowEvent{
		SessionID: "sess-1",
		Kind:      KindTransition,
		FromStage: "GREETING",
		ToStage:   "ASK_NAME",
		Detail:    "user greeted",
	}
	if err := writer.Write(ev); err != nil {
		t.Fatalf("Failed to write event: %v", err)
	}

	data, err := os.ReadFile(writer.CurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Log file is empty")
	}
	if data[len(data)-1] != '\n' {
		t.Error("Log line should end with newline")
	}
	if ev.Timestamp.IsZero() {
		t.Error("Write should stamp events missing a timestamp")
	}
}

func TestWriteAndReadBack(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	events := []*FlowEvent{
		{SessionID: "s1", Kind: KindTransition, FromStage: "GREETING", ToStage: "ASK_NAME"},
		{SessionID: "s1", Kind: KindProblem, Detail: "loop"},
		{SessionID: "s2", Kind: KindTicket, Detail: "ticket created"},
	}
	for i, ev := range events {
		if err := writer.Write(ev); err != nil {
			t.Fatalf("Failed to write event %d: %v", i, err)
		}
	}

	read, err := ReadEvents(writer.CurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	if len(read) != len(events) {
		t.Fatalf("Expected %d events, got %d", len(events), len(read))
	}
	for i, ev := range read {
		if ev.SessionID != events[i].SessionID || ev.Kind != events[i].Kind {
			t.Errorf("Event %d mismatch: got %+v", i, ev)
		}
	}
}

func TestTurnEventsStayOutOfCSV(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewWriter(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}

	events := []*FlowEvent{
		{SessionID: "s1", Kind: KindTurn, UserText: "hola", BotReply: "¡Hola!"},
		{SessionID: "s1", Kind: KindTransition, FromStage: "GREETING", ToStage: "ASK_NAME"},
		{SessionID: "s1", Kind: KindEscalation, Detail: "user requested a human agent"},
	}
	for i, ev := range events {
		if err := writer.Write(ev); err != nil {
			t.Fatalf("Failed to write event %d: %v", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	f, err := os.Open(filepath.Join(tmpDir, "flow-audit.csv"))
	if err != nil {
		t.Fatalf("Failed to open audit CSV: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse audit CSV: %v", err)
	}
	// Header plus the two non-turn events.
	if len(rows) != 3 {
		t.Fatalf("Expected 3 CSV rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(csvHeader, ",") {
		t.Errorf("Unexpected header row: %v", rows[0])
	}
	if rows[1][2] != KindTransition || rows[2][2] != KindEscalation {
		t.Errorf("Unexpected row kinds: %v / %v", rows[1], rows[2])
	}
}

func TestCSVHeaderWrittenOnce(t *testing.T) {
	tmpDir := t.TempDir()

	for i := 0; i < 2; i++ {
		writer, err := NewWriter(tmpDir)
		if err != nil {
			t.Fatalf("Failed to create writer: %v", err)
		}
		ev := &FlowEvent{SessionID: "s1", Kind: KindTransition, FromStage: "A", ToStage: "B"}
		if err := writer.Write(ev); err != nil {
			t.Fatalf("Failed to write event: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("Failed to close writer: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(tmpDir, "flow-audit.csv"))
	if err != nil {
		t.Fatalf("Failed to open audit CSV: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse audit CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header plus 2 rows across reopen, got %d rows", len(rows))
	}
}

func TestReadEmptyFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "empty.jsonl")
	if err := os.WriteFile(logFile, nil, 0o644); err != nil {
		t.Fatalf("Failed to create empty file: %v", err)
	}

	events, err := ReadEvents(logFile)
	if err != nil {
		t.Fatalf("Failed to read empty file: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected 0 events from empty file, got %d", len(events))
	}
}

func TestListLogFiles(t *testing.T) {
	tmpDir := t.TempDir()

	testFiles := []string{
		"flow-2026-01-01.jsonl",
		"flow-2026-01-02.jsonl",
		"flow-audit.csv", // Not a JSONL log
		"other-file.txt",
	}
	for _, filename := range testFiles {
		if err := os.WriteFile(filepath.Join(tmpDir, filename), nil, 0o644); err != nil {
			t.Fatalf("Failed to create test file %s: %v", filename, err)
		}
	}

	logFiles, err := ListLogFiles(tmpDir)
	if err != nil {
		t.Fatalf("Failed to list log files: %v", err)
	}
	if len(logFiles) != 2 {
		t.Errorf("Expected 2 log files, got %d", len(logFiles))
	}
}

func TestWriterClose(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}

	ev := &FlowEvent{SessionID: "s1", Kind: KindTransition}
	if err := writer.Write(ev); err != nil {
		t.Fatalf("Failed to write event: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}
	if writer.currentFile != nil {
		t.Error("Expected current file to be nil after close")
	}
}

func TestConcurrentWrites(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(id int) {
			ev := &FlowEvent{SessionID: "s1", Kind: KindTurn, UserText: "msg"}
			if writeErr := writer.Write(ev); writeErr != nil {
				t.Errorf("Failed to write event %d: %v", id, writeErr)
			}
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	events, err := ReadEvents(writer.CurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read events: %v", err)
	}
	if len(events) != 10 {
		t.Errorf("Expected 10 events, got %d", len(events))
	}
}
