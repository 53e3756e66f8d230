package cli

import (
	"sort"

	"github.com/cbout22/fbsync/internal/report"
)

// CheckStatus describes the sync status of a single path.
type CheckStatus int

const (
	CheckOK          CheckStatus = iota // Local copy matches the remote digest
	CheckMissing                        // Remote file has no local copy
	CheckStale                          // Local copy differs from the remote
	CheckUnreachable                    // Directory could not be listed
	CheckFailed                         // File could not be compared
)

// CheckResult holds the outcome of checking one path.
type CheckResult struct {
	Path   string
	Status CheckStatus
	Err    error
}

// CheckEvents turns the events of a dry run into check results, sorted by
// path. Directories that are explored or skipped by marker are not
// reported. This is a pure function.
func CheckEvents(events []report.Event) []CheckResult {
	results := make([]CheckResult, 0, len(events))

	for _, e := range events {
		var status CheckStatus
		switch {
		case e.Kind == report.KindFile && e.Outcome == report.Unchanged:
			status = CheckOK
		case e.Outcome == report.Planned && e.Detail == report.DetailStale:
			status = CheckStale
		case e.Outcome == report.Planned:
			status = CheckMissing
		case e.Outcome == report.Skipped && e.Detail == report.DetailUnreachable:
			status = CheckUnreachable
		case e.Outcome == report.Failed:
			status = CheckFailed
		default:
			continue
		}

		results = append(results, CheckResult{
			Path:   e.Path.String(),
			Status: status,
			Err:    e.Err,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results
}
