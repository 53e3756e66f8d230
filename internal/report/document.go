package report

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Document is the JSON run report written by `fbsync sync --report`. It
// records the last outcome of every path seen during the run.
type Document struct {
	mu sync.Mutex

	// Version of the report format.
	Version    int              `json:"version"`
	Status     Status           `json:"status"`
	StartedAt  string           `json:"started_at"`
	FinishedAt string           `json:"finished_at,omitempty"`
	Summary    Summary          `json:"summary"`
	Entries    map[string]Entry `json:"entries"` // keyed by display path
}

// Entry records the outcome of a single path.
type Entry struct {
	Kind     Kind    `json:"kind"`
	Outcome  Outcome `json:"outcome"`
	Policy   string  `json:"policy,omitempty"`
	Detail   string  `json:"detail,omitempty"`
	Error    string  `json:"error,omitempty"`
	Attempts int     `json:"attempts,omitempty"`
	Bytes    int64   `json:"bytes,omitempty"`
	At       string  `json:"at"` // RFC 3339
}

// NewDocument returns an initialised empty report.
func NewDocument(started time.Time) *Document {
	return &Document{
		Version:   1,
		StartedAt: started.UTC().Format(time.RFC3339),
		Entries:   make(map[string]Entry),
	}
}

// Record implements Sink.
func (d *Document) Record(e Event) {
	entry := Entry{
		Kind:     e.Kind,
		Outcome:  e.Outcome,
		Policy:   e.Policy,
		Detail:   e.Detail,
		Attempts: e.Attempts,
		Bytes:    e.Bytes,
		At:       e.Time.UTC().Format(time.RFC3339),
	}
	if e.Err != nil {
		entry.Error = e.Err.Error()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.Entries[e.Path.String()] = entry
	d.Summary.Add(e)
}

// Finish stamps the terminal status.
func (d *Document) Finish(status Status, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Status = status
	d.FinishedAt = at.UTC().Format(time.RFC3339)
}

// Get retrieves an entry by display path.
func (d *Document) Get(path string) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.Entries[path]
	return e, ok
}

// LoadDocument reads and parses a report file.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading report")
	}

	d := &Document{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, errors.Wrap(err, "parsing report")
	}
	if d.Entries == nil {
		d.Entries = make(map[string]Entry)
	}
	return d, nil
}

// Save writes the report to the given path.
func (d *Document) Save(path string) error {
	d.mu.Lock()
	data, err := json.MarshalIndent(d, "", "  ")
	d.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "encoding report")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "writing report")
	}
	return nil
}
