// Package hierarchy holds the structural rules of a workspace tree: path and
// level derivation, cycle checks, tree assembly and breadcrumb walks. Nothing
// here writes to the store.
package hierarchy

import (
	"errors"
	"strings"
)

const (
	// MaxLevel is the deepest level a document may sit at (five levels, 0-indexed).
	MaxLevel = 4
	// Extension terminates every document path.
	Extension = ".md"
	// RootPath is the path of the root document seeded into every workspace.
	RootPath = "index.md"
)

var ErrDepthExceeded = errors.New("maximum nesting depth exceeded")

// Placement is the structural position of a document: its level and path.
type Placement struct {
	Level int
	Path  string
}

// Slugify lower-cases s and replaces every rune outside [a-z0-9-] with '-'.
func Slugify(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, strings.ToLower(s))
}

// Derive places a new document titled title under parent, or at the
// workspace root when parent is nil.
func Derive(parent *Placement, title string) Placement {
	segment := Slugify(title) + Extension
	if parent == nil {
		return Placement{Level: 0, Path: segment}
	}
	return Placement{Level: parent.Level + 1, Path: join(parent.Path, segment)}
}

// Relocate keeps the last segment of path and hangs it under parent.
func Relocate(parent *Placement, path string) string {
	segment := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		segment = path[idx+1:]
	}
	if parent == nil {
		return segment
	}
	return join(parent.Path, segment)
}

// Rebase rewrites a descendant path when the ancestor at from moves to to.
// Paths that do not sit under from are returned unchanged with ok false.
func Rebase(path, from, to string) (string, bool) {
	prefix := strings.TrimSuffix(from, Extension) + "/"
	if !strings.HasPrefix(path, prefix) {
		return path, false
	}
	return strings.TrimSuffix(to, Extension) + "/" + strings.TrimPrefix(path, prefix), true
}

// CheckDepth fails with ErrDepthExceeded when level is beyond MaxLevel.
func CheckDepth(level int) error {
	if level > MaxLevel {
		return ErrDepthExceeded
	}
	return nil
}

func join(parentPath, segment string) string {
	return strings.TrimSuffix(parentPath, Extension) + "/" + segment
}
