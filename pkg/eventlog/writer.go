// Package eventlog records conversation flow events for auditing: one
// JSONL file per day, plus a rolling CSV export of the same events in the
// flat shape the support team imports into spreadsheets.
package eventlog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FlowEvent is one audited step of a conversation: a stage transition, a
// detected problem, or a ticket handoff.
type FlowEvent struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId"`
	Kind      string    `json:"kind"`
	FromStage string    `json:"fromStage,omitempty"`
	ToStage   string    `json:"toStage,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	UserText  string    `json:"userText,omitempty"`
	BotReply  string    `json:"botReply,omitempty"`
}

// Event kinds.
const (
	KindTurn       = "turn"
	KindTransition = "transition"
	KindProblem    = "problem"
	KindEscalation = "escalation"
	KindTicket     = "ticket"
)

// csvHeader is the column layout of flow-audit.csv.
var csvHeader = []string{
	"timestamp", "session_id", "kind", "from_stage", "to_stage", "detail",
}

// Writer appends flow events to daily rotated JSONL files and mirrors
// transition-level events into flow-audit.csv in the same directory.
type Writer struct {
	logDir      string
	mu          sync.Mutex
	currentFile *os.File
	currentDate string
	csvFile     *os.File
	csvWriter   *csv.Writer
}

// NewWriter creates a flow event writer rooted at logDir, creating the
// directory as needed.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &Writer{logDir: logDir}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}
	if err := w.openCSV(); err != nil {
		_ = w.currentFile.Close()
		return nil, err
	}
	return w, nil
}

// Write appends one event, rotating the JSONL file on a date change.
func (w *Writer) Write(ev *FlowEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	jsonData, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if _, err := w.currentFile.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	// Turn bodies stay out of the CSV; the audit sheet tracks flow shape,
	// not transcript content.
	if ev.Kind == KindTurn {
		return nil
	}
	record := []string{
		ev.Timestamp.Format(time.RFC3339),
		ev.SessionID,
		ev.Kind,
		ev.FromStage,
		ev.ToStage,
		ev.Detail,
	}
	if err := w.csvWriter.Write(record); err != nil {
		return fmt.Errorf("failed to write audit row: %w", err)
	}
	w.csvWriter.Flush()
	if err := w.csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush audit row: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded() error {
	newDate := time.Now().UTC().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == newDate {
		return nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("flow-%s.jsonl", newDate))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	w.currentFile = file
	w.currentDate = newDate
	return nil
}

func (w *Writer) openCSV() error {
	path := filepath.Join(w.logDir, "flow-audit.csv")
	info, statErr := os.Stat(path)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit file %s: %w", path, err)
	}
	w.csvFile = file
	w.csvWriter = csv.NewWriter(file)
	if statErr != nil || info.Size() == 0 {
		if err := w.csvWriter.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write audit header: %w", err)
		}
		w.csvWriter.Flush()
	}
	return w.csvWriter.Error()
}

// CurrentLogFile returns the path of the active JSONL file.
func (w *Writer) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, fmt.Sprintf("flow-%s.jsonl", w.currentDate))
}

// Close flushes and closes both outputs.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	if w.csvWriter != nil {
		w.csvWriter.Flush()
		if err := w.csvWriter.Error(); err != nil {
			firstErr = err
		}
	}
	if w.csvFile != nil {
		if err := w.csvFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.csvFile = nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.currentFile = nil
	}
	if firstErr != nil {
		return fmt.Errorf("failed to close event log: %w", firstErr)
	}
	return nil
}

// ReadEvents reads and parses every event in a JSONL log file.
func ReadEvents(path string) ([]*FlowEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	var events []*FlowEvent
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				var ev FlowEvent
				if err := json.Unmarshal(data[start:i], &ev); err != nil {
					return nil, fmt.Errorf("failed to parse event: %w", err)
				}
				events = append(events, &ev)
			}
			start = i + 1
		}
	}
	return events, nil
}

// ListLogFiles returns all flow log files under logDir.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "flow-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	return files, nil
}
