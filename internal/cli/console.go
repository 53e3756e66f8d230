package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/cbout22/fbsync/internal/report"
)

// console prints one line per interesting event, the way a person watching
// the run wants to see it. Unchanged files and explored directories are
// only shown in verbose mode.
type console struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
}

var _ report.Sink = (*console)(nil)

func newConsole(out io.Writer, verbose bool) *console {
	return &console{out: out, verbose: verbose}
}

func (c *console) Record(e report.Event) {
	line := c.format(e)
	if line == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

func (c *console) format(e report.Event) string {
	switch e.Outcome {
	case report.Downloaded:
		return fmt.Sprintf("  ✅ %s (%s, %d bytes)", e.Path, describe(e.Detail), e.Bytes)
	case report.Failed:
		return fmt.Sprintf("  ❌ %s: %s", e.Path, e.Err)
	case report.Planned:
		return fmt.Sprintf("  📦 %s would be downloaded (%s)", e.Path, e.Detail)
	case report.Skipped:
		if e.Detail == report.DetailUnreachable {
			return fmt.Sprintf("  ⚠️  %s/ unreachable: %s", e.Path, e.Err)
		}
		return fmt.Sprintf("  ⏭️  %s/ skipped (%s)", e.Path, e.Detail)
	case report.Unchanged:
		if c.verbose {
			return fmt.Sprintf("  ✔️  %s unchanged", e.Path)
		}
	case report.Explored:
		if c.verbose {
			return fmt.Sprintf("  📂 %s/ %s", e.Path, e.Policy)
		}
	}
	return ""
}

func describe(detail string) string {
	if detail == report.DetailStale {
		return "updated"
	}
	return "new"
}
