// Package policy decides what to do with a remote directory based on the
// control markers present in its listing.
package policy

import "github.com/cbout22/fbsync/internal/remote"

// Policy is the decision for one directory.
type Policy int

const (
	// Recurse explores subdirectories only. Files are not downloaded.
	Recurse Policy = iota
	// DownloadAll materializes the whole subtree, except subdirectories
	// that carry their own skip marker.
	DownloadAll
	// Skip excludes the directory and everything beneath it.
	Skip
)

func (p Policy) String() string {
	switch p {
	case Recurse:
		return "recurse"
	case DownloadAll:
		return "download-all"
	case Skip:
		return "skip"
	}
	return "unknown"
}

// Default marker names.
const (
	DefaultSkipMarker   = "set.skip"
	DefaultClassBMarker = "set.classB"
)

// Markers holds the reserved entry names that steer the traversal. Only the
// name matters; marker content is never read.
type Markers struct {
	Skip   string
	ClassB string
}

// DefaultMarkers returns set.skip / set.classB.
func DefaultMarkers() Markers {
	return Markers{Skip: DefaultSkipMarker, ClassB: DefaultClassBMarker}
}

// Resolve applies the marker rules in their fixed order: skip dominates
// classB, and a listing with neither is recursed.
func (m Markers) Resolve(l remote.Listing) Policy {
	switch {
	case m.HasSkip(l):
		return Skip
	case l.Has(m.ClassB):
		return DownloadAll
	default:
		return Recurse
	}
}

// HasSkip reports whether the listing carries the skip marker.
func (m Markers) HasSkip(l remote.Listing) bool {
	return l.Has(m.Skip)
}

// ResolveWithin decides for a subdirectory reached from a parent with the
// given policy. Inside a DownloadAll subtree only the skip marker is
// consulted; classB is not re-confirmed.
func (m Markers) ResolveWithin(parent Policy, l remote.Listing) Policy {
	if parent == DownloadAll {
		if m.HasSkip(l) {
			return Skip
		}
		return DownloadAll
	}
	return m.Resolve(l)
}

// IsMarker reports whether name is one of the control markers.
func (m Markers) IsMarker(name string) bool {
	return name == m.Skip || name == m.ClassB
}
