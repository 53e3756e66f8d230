// Package remotepath normalizes and encodes paths on the remote file store.
//
// A Path is slash separated, never percent-encoded and has no leading or
// trailing slash. The root of the store is the empty Path. Normalize is
// idempotent, so paths rebuilt by concatenating a parent and a child name
// always converge to the same canonical string.
package remotepath

import (
	"net/url"
	"strings"
)

// Path is a canonical remote path. The zero value is the root.
type Path string

// Root is the top of the remote tree.
const Root Path = ""

// Normalize converts s into its canonical form.
//
// Backslashes are treated as separators, every segment is percent-decoded
// until decoding no longer changes it, and empty, "." and ".." segments are
// dropped. A Path never climbs above the segment it was built from.
func Normalize(s string) Path {
	var segs []string
	appendSegments(&segs, s)
	return Path(strings.Join(segs, "/"))
}

func appendSegments(segs *[]string, s string) {
	for _, part := range strings.FieldsFunc(s, isSeparator) {
		seg := decodeFully(part)
		if strings.ContainsAny(seg, `/\`) {
			// %2F and %5C decode into separators; split those again.
			appendSegments(segs, seg)
			continue
		}
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		*segs = append(*segs, seg)
	}
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// decodeFully unescapes s until it reaches a fixed point. Each successful
// pass shortens the string, so the loop terminates.
func decodeFully(s string) string {
	for strings.Contains(s, "%") {
		d, err := url.PathUnescape(s)
		if err != nil || d == s {
			break
		}
		s = d
	}
	return s
}

// Join appends name to parent and normalizes the result.
func Join(parent Path, name string) Path {
	if parent.IsRoot() {
		return Normalize(name)
	}
	return Normalize(string(parent) + "/" + name)
}

// IsRoot reports whether p is the root of the store.
func (p Path) IsRoot() bool {
	return p == Root
}

// Segments returns the path components. The root has none.
func (p Path) Segments() []string {
	if p.IsRoot() {
		return nil
	}
	return strings.Split(string(p), "/")
}

// Depth is the number of segments in p.
func (p Path) Depth() int {
	return len(p.Segments())
}

// Base returns the last segment, or "" for the root.
func (p Path) Base() string {
	if i := strings.LastIndexByte(string(p), '/'); i >= 0 {
		return string(p[i+1:])
	}
	return string(p)
}

// Parent returns the directory containing p. The parent of the root is the root.
func (p Path) Parent() Path {
	if i := strings.LastIndexByte(string(p), '/'); i >= 0 {
		return p[:i]
	}
	return Root
}

// Encode percent-encodes each segment for use in a URL path and keeps the
// separators in place. The root encodes to "".
func (p Path) Encode() string {
	segs := p.Segments()
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// String renders p with a leading slash, the way the remote UI shows it.
func (p Path) String() string {
	return "/" + string(p)
}
