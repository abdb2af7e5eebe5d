// Package roster lists the identities expected to attend.
package roster

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"faceattend/internal/attendance"
)

// Source lists the enrolled roster.
type Source interface {
	List(ctx context.Context) ([]attendance.RosterEntry, error)
}

// DirSource reads the roster from an enrollment directory: every
// subdirectory holds the reference photos of one identity.
type DirSource struct {
	Root string
}

// NewDirSource reads identities under root.
func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

// List returns one entry per subdirectory sorted by identity. A missing root
// is an empty roster.
func (d *DirSource) List(ctx context.Context) ([]attendance.RosterEntry, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read roster dir %s: %w", d.Root, err)
	}

	out := make([]attendance.RosterEntry, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, attendance.RosterEntry{
			Identity:   DisplayName(e.Name()),
			StorageKey: filepath.Join(d.Root, e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// DisplayName turns an enrollment folder name into the identity shown in reports.
func DisplayName(folder string) string {
	return strings.TrimSpace(strings.ReplaceAll(folder, "_", " "))
}

// StaticSource is a fixed roster, usually from configuration.
type StaticSource struct {
	entries []attendance.RosterEntry
}

// NewStaticSource builds a roster from names, keeping their order and
// dropping blanks and repeats.
func NewStaticSource(names ...string) *StaticSource {
	seen := make(map[string]struct{}, len(names))
	s := &StaticSource{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		s.entries = append(s.entries, attendance.RosterEntry{Identity: n})
	}
	return s
}

func (s *StaticSource) List(context.Context) ([]attendance.RosterEntry, error) {
	out := make([]attendance.RosterEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}
