package audit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DeafMist/proposal-radar/internal/models"
)

const (
	frame = "==================================================\n"
	rule  = "--------------------------------------------------\n"
)

// Log appends one human-readable entry per financial analysis. Entries are
// only ever appended; the file is never truncated or rewritten.
type Log struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// New returns a log writing to path. An empty path returns nil, and a nil
// *Log discards every record.
func New(path string) (*Log, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	return &Log{path: path, now: time.Now}, nil
}

// Path returns the file the log appends to.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record appends the rule outcomes of one evaluated file.
func (l *Log) Record(filename string, checks []models.RuleResult) error {
	if l == nil {
		return nil
	}
	entry := format(l.now(), filename, checks)

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(entry); err != nil {
		f.Close()
		return fmt.Errorf("append audit entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	return nil
}

func format(ts time.Time, filename string, checks []models.RuleResult) []byte {
	var b bytes.Buffer
	overall := models.RulePass
	b.WriteString(frame)
	fmt.Fprintf(&b, "Log Entry: %s\n", ts.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Analyzed File: %s\n", filename)
	b.WriteString(rule)
	for _, c := range checks {
		fmt.Fprintf(&b, "[%s] Rule: %s\n", c.Status, c.Rule)
		fmt.Fprintf(&b, "       Details: %s\n", c.Message)
		if c.Status == models.RuleFail {
			overall = models.RuleFail
		}
	}
	b.WriteString(rule)
	fmt.Fprintf(&b, "Overall Compliance Status: %s\n", overall)
	b.WriteString(frame)
	b.WriteString("\n")
	return b.Bytes()
}
