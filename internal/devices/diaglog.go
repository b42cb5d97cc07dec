package devices

import (
	"fmt"
	"time"
)

const DiagnosticLogSize = 50

type LogEntry struct {
	At   time.Time `json:"at"`
	Line string    `json:"line"`
}

func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.At.Format("15:04:05"), e.Line)
}

// DiagnosticLog keeps the last N raw lines in arrival order. Oldest
// entries are evicted first. Not safe for concurrent use on its own; the
// Reader guards it.
type DiagnosticLog struct {
	entries []LogEntry
	start   int
	size    int
}

func NewDiagnosticLog(capacity int) *DiagnosticLog {
	if capacity <= 0 {
		capacity = DiagnosticLogSize
	}
	return &DiagnosticLog{entries: make([]LogEntry, capacity)}
}

func (d *DiagnosticLog) Append(at time.Time, line string) {
	capacity := len(d.entries)
	idx := (d.start + d.size) % capacity
	d.entries[idx] = LogEntry{At: at, Line: line}

	if d.size < capacity {
		d.size++
		return
	}
	d.start = (d.start + 1) % capacity
}

// Entries returns a copy, oldest first.
func (d *DiagnosticLog) Entries() []LogEntry {
	out := make([]LogEntry, 0, d.size)
	for i := 0; i < d.size; i++ {
		out = append(out, d.entries[(d.start+i)%len(d.entries)])
	}
	return out
}

func (d *DiagnosticLog) Len() int {
	return d.size
}

func (d *DiagnosticLog) Clear() {
	clear(d.entries)
	d.start = 0
	d.size = 0
}
