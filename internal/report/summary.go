package report

import (
	"fmt"
	"sync"
)

// Summary counts outcomes of a run.
type Summary struct {
	Downloaded int   `json:"downloaded"`
	Unchanged  int   `json:"unchanged"`
	Failed     int   `json:"failed"`
	Planned    int   `json:"planned"`
	Skipped    int   `json:"skipped"`
	Explored   int   `json:"explored"`
	Bytes      int64 `json:"bytes"`
}

// Add folds one event into the counts.
func (s *Summary) Add(e Event) {
	switch e.Outcome {
	case Downloaded:
		s.Downloaded++
		s.Bytes += e.Bytes
	case Unchanged:
		s.Unchanged++
	case Failed:
		s.Failed++
	case Planned:
		s.Planned++
	case Skipped:
		s.Skipped++
	case Explored:
		s.Explored++
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("%d downloaded, %d unchanged, %d failed, %d planned, %d skipped, %d directories explored",
		s.Downloaded, s.Unchanged, s.Failed, s.Planned, s.Skipped, s.Explored)
}

// Tally is a Sink that maintains a Summary.
type Tally struct {
	mu sync.Mutex
	s  Summary
}

func (t *Tally) Record(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Add(e)
}

// Summary returns the counts so far.
func (t *Tally) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}
