// Package eventlog appends a JSONL audit trail of every envelope the runtime
// processes, rotated daily. The trail is diagnostic; the database event_log
// table remains the durable record.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one processed envelope.
type Entry struct {
	Timestamp  time.Time `json:"ts"`
	EnvelopeID string    `json:"envelope_id"`
	To         string    `json:"to"`
	MsgKind    string    `json:"msg_kind"`
	Seq        uint64    `json:"seq"`
	Effects    int       `json:"effects"`
}

// Writer appends entries to daily rotated JSONL files.
type Writer struct {
	logDir      string
	mu          sync.Mutex
	currentFile *os.File
	currentDate string
}

// NewWriter creates a writer rooted at logDir, creating it if needed.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &Writer{logDir: logDir}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}
	return w, nil
}

// WriteEntry appends one entry, rotating at day boundaries.
func (w *Writer) WriteEntry(e *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize entry: %w", err)
	}
	if _, err := w.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded() error {
	date := time.Now().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	w.currentFile = file
	w.currentDate = date
	return nil
}

// CurrentLogFile returns the active file's path.
func (w *Writer) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", w.currentDate))
}

// Close flushes and closes the active file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	if err != nil {
		return fmt.Errorf("failed to close event log file: %w", err)
	}
	return nil
}

// ReadEntries parses one log file back into entries.
func ReadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	var entries []Entry
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				var e Entry
				if err := json.Unmarshal(data[start:i], &e); err != nil {
					return nil, fmt.Errorf("failed to parse entry: %w", err)
				}
				entries = append(entries, e)
			}
			start = i + 1
		}
	}
	return entries, nil
}

// ListLogFiles returns every event log file under logDir.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	return files, nil
}
