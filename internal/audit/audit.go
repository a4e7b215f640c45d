package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"nestor/internal/logging"
)

// Status is the recorded outcome of a gated action.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Entry is one append-only audit record. Entries are never mutated and never
// handed out by reference.
type Entry struct {
	Timestamp            time.Time `json:"ts"`
	Principal            string    `json:"principal"`
	Tool                 string    `json:"tool"`
	Risk                 string    `json:"risk"`
	Status               Status    `json:"status"`
	ConfirmationRequired bool      `json:"confirmation_required"`
	ConfirmationGranted  bool      `json:"confirmation_granted"`
	ConfirmationMode     string    `json:"confirmation_mode,omitempty"`
	Arguments            string    `json:"args,omitempty"`
	Result               string    `json:"result,omitempty"`
	Error                string    `json:"error,omitempty"`
}

// PrincipalSummary aggregates a principal's audit activity for dashboards.
type PrincipalSummary struct {
	Principal string         `json:"principal"`
	Total     int            `json:"total"`
	ByStatus  map[Status]int `json:"by_status"`
	ByTool    map[string]int `json:"by_tool"`
	LastSeen  time.Time      `json:"last_seen"`
}

// Log is the append-only audit store: newline-delimited JSON, one file per
// calendar day, a single serialized writer, one flush per entry.
type Log struct {
	dir         string
	digestBytes int
	logger      logging.Logger

	mu         sync.Mutex
	file       *os.File
	currentDay string
}

// New creates an audit log rooted at dir, creating it if needed.
func New(dir string, digestBytes int, logger logging.Logger) (*Log, error) {
	if digestBytes <= 0 {
		digestBytes = 512
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir %s: %w", dir, err)
	}
	return &Log{dir: dir, digestBytes: digestBytes, logger: logger}, nil
}

// Append writes one entry. Digests are truncated to the configured byte
// budget; a zero timestamp is filled in. Safe for concurrent callers.
func (l *Log) Append(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Arguments = truncate(entry.Arguments, l.digestBytes)
	entry.Result = truncate(entry.Result, l.digestBytes)
	entry.Error = truncate(entry.Error, l.digestBytes)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateLocked(entry.Timestamp); err != nil {
		return err
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	// One flush per entry so a crash loses at most the entry being written.
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}

func (l *Log) rotateLocked(ts time.Time) error {
	day := ts.Format("2006-01-02")
	if l.file != nil && day == l.currentDay {
		return nil
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			l.logger.Warn("Closing previous audit file: %v", err)
		}
	}
	path := filepath.Join(l.dir, fmt.Sprintf("audit-%s.ndjson", day))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file %s: %w", path, err)
	}
	l.file = file
	l.currentDay = day
	return nil
}

// Close releases the current day file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.currentDay = ""
	return err
}

// Recent returns up to limit entries, newest last, scanning day files
// backwards from today.
func (l *Log) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	files, err := l.dayFiles()
	if err != nil {
		return nil, err
	}

	var collected []Entry
	// Newest files first; prepend so the final slice is oldest-to-newest.
	for i := len(files) - 1; i >= 0 && len(collected) < limit; i-- {
		entries, err := readEntries(files[i])
		if err != nil {
			return nil, err
		}
		missing := limit - len(collected)
		if len(entries) > missing {
			entries = entries[len(entries)-missing:]
		}
		collected = append(entries, collected...)
	}
	return collected, nil
}

// PerPrincipal aggregates every entry recorded for one principal.
func (l *Log) PerPrincipal(principal string) (PrincipalSummary, error) {
	summary := PrincipalSummary{
		Principal: principal,
		ByStatus:  make(map[Status]int),
		ByTool:    make(map[string]int),
	}

	files, err := l.dayFiles()
	if err != nil {
		return summary, err
	}
	for _, path := range files {
		entries, err := readEntries(path)
		if err != nil {
			return summary, err
		}
		for _, e := range entries {
			if e.Principal != principal {
				continue
			}
			summary.Total++
			summary.ByStatus[e.Status]++
			summary.ByTool[e.Tool]++
			if e.Timestamp.After(summary.LastSeen) {
				summary.LastSeen = e.Timestamp
			}
		}
	}
	return summary, nil
}

func (l *Log) dayFiles() ([]string, error) {
	pattern := filepath.Join(l.dir, "audit-*.ndjson")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("list audit files: %w", err)
	}
	sort.Strings(files) // day-stamped names sort chronologically
	return files, nil
}

func readEntries(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit file %s: %w", path, err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// A torn final line from a crash is skipped, not fatal.
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit file %s: %w", path, err)
	}
	return entries, nil
}

// Digest renders a value as compact JSON for audit storage. Values that fail
// to marshal fall back to fmt formatting.
func Digest(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
