// Package report carries the per-path outcomes of a sync run to whoever
// wants them: the console, metrics, the JSON run report and tests.
package report

import (
	"sort"
	"sync"
	"time"

	"github.com/cbout22/fbsync/internal/remotepath"
)

// Kind says whether an event is about a file or a directory.
type Kind string

const (
	KindFile Kind = "file"
	KindDir  Kind = "dir"
)

// Outcome is the terminal state of one processed path.
type Outcome string

const (
	Skipped    Outcome = "skipped"
	Downloaded Outcome = "downloaded"
	Unchanged  Outcome = "unchanged"
	Failed     Outcome = "failed"
	Planned    Outcome = "planned"
	Explored   Outcome = "explored"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Skip reasons and plan details used in Event.Detail.
const (
	DetailSkipMarker  = "skip marker"
	DetailUnreachable = "unreachable"
	DetailMaxDepth    = "max depth"
	DetailVisited     = "already visited"
	DetailMissing     = "missing"
	DetailStale       = "stale"
)

// Event is emitted once per processed path.
type Event struct {
	Time     time.Time
	Path     remotepath.Path
	Kind     Kind
	Outcome  Outcome
	Policy   string
	Detail   string
	Bytes    int64
	Attempts int
	Err      error
}

// Sink consumes events. Implementations must be safe for concurrent use;
// the engine records from several transfer workers at once.
type Sink interface {
	Record(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Record(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type multi []Sink

func (m multi) Record(e Event) {
	for _, s := range m {
		s.Record(e)
	}
}

// Multi fans events out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

// Collector keeps every event in memory.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Record(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

// Events returns a copy of the recorded events in arrival order.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Paths returns the sorted display paths of events with outcome o.
func (c *Collector) Paths(o Outcome) []string {
	var out []string
	for _, e := range c.Events() {
		if e.Outcome == o {
			out = append(out, e.Path.String())
		}
	}
	sort.Strings(out)
	return out
}

// Find returns the last event recorded for p.
func (c *Collector) Find(p remotepath.Path) (Event, bool) {
	events := c.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Path == p {
			return events[i], true
		}
	}
	return Event{}, false
}
