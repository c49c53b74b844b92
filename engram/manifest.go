// Package engram implements the engram aggregate and its two manifest
// forms (spec §3, §4.F): the flat engram (one root vector, a linear file
// list) and the hierarchical engram built on top of it by hbuild/.
//
// Grounded on erigon-lib/kv/tables.go's pattern of small, explicitly
// versioned, field-documented record types (here FileEntry/SubEngram
// instead of table descriptors), and on turbo/snapshotsync's convention
// of a named, sectioned on-disk artifact (realized in envelope.go).
package engram

import (
	"sort"
	"strings"

	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/errs"
	"github.com/tzervas/embeddenator-core/stv"
)

// FormatVersion is the only manifest/envelope version this package
// writes or accepts (spec §4.F: "readers MUST refuse unknown versions
// rather than silently coerce").
const FormatVersion = 1

// FileEntry describes one ingested file: its canonical path, its
// original byte size, and the ordered chunk_ids its bytes were split
// into (spec §3).
type FileEntry struct {
	Path     string
	Size     int64
	ChunkIDs []chunk.ID
}

// ValidatePath enforces the path constraints spec §3/§6 require:
// forward slashes, no leading "/", no "." or ".." components.
func ValidatePath(path string) error {
	if path == "" {
		return errs.Wrap(errs.InvariantViolation, "engram: empty path")
	}
	if strings.HasPrefix(path, "/") {
		return errs.Wrapf(errs.InvariantViolation, "engram: path %q has a leading slash", path)
	}
	if strings.Contains(path, "\\") {
		return errs.Wrapf(errs.InvariantViolation, "engram: path %q uses backslashes", path)
	}
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "":
			return errs.Wrapf(errs.InvariantViolation, "engram: path %q has an empty component", path)
		case ".", "..":
			return errs.Wrapf(errs.InvariantViolation, "engram: path %q contains a %q component", path, part)
		}
	}
	return nil
}

// Manifest is the flat form (spec §3): an ordered file list plus the
// version tag carried through serialization. codebook_ref is implicit:
// a flat Manifest is always paired with the Engram that owns it.
type Manifest struct {
	Version int
	Files   []FileEntry
}

// SortedPaths returns every FileEntry path in manifest order (not
// necessarily sorted — ingest order is preserved as spec §3 requires).
func (m Manifest) SortedPaths() []string {
	out := make([]string, len(m.Files))
	for i, f := range m.Files {
		out[i] = f.Path
	}
	return out
}

// Find returns the FileEntry for path, if present.
func (m Manifest) Find(path string) (FileEntry, bool) {
	for _, f := range m.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Remove drops the FileEntry for path, if present, returning the updated
// Manifest and whether anything was removed. Used by update/ to retire a
// Removed or Modified file's old entry before inserting its replacement.
func (m Manifest) Remove(path string) (Manifest, bool) {
	for i, f := range m.Files {
		if f.Path == path {
			out := make([]FileEntry, 0, len(m.Files)-1)
			out = append(out, m.Files[:i]...)
			out = append(out, m.Files[i+1:]...)
			m.Files = out
			return m, true
		}
	}
	return m, false
}

// Upsert replaces the FileEntry for e.Path if one exists, or appends e
// otherwise. Used by update/ for Added and Modified diffs. Never mutates
// m.Files' backing array in place, so a cloned Manifest sharing that
// array with its source is unaffected (spec §5 snapshot isolation).
func (m Manifest) Upsert(e FileEntry) Manifest {
	out := make([]FileEntry, len(m.Files))
	copy(out, m.Files)
	for i, f := range out {
		if f.Path == e.Path {
			out[i] = e
			m.Files = out
			return m
		}
	}
	out = append(out, e)
	m.Files = out
	return m
}

// SubEngram is one hierarchical node (spec §3): a bundled root STV over
// its descendants, the full set of chunk_ids reachable beneath it, its
// ordered children, and its depth from the hierarchical root (level 0).
type SubEngram struct {
	ID       string
	Root     stv.STV
	ChunkIDs []chunk.ID // sorted, deduplicated
	Children []string
	Level    int
}

// NewSubEngram builds a SubEngram with chunk_ids sorted and deduplicated
// (the set operation spec §3 specifies).
func NewSubEngram(id string, root stv.STV, chunkIDs []chunk.ID, children []string, level int) SubEngram {
	sorted := append([]chunk.ID(nil), chunkIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	deduped := sorted[:0]
	for i, id := range sorted {
		if i == 0 || id != deduped[len(deduped)-1] {
			deduped = append(deduped, id)
		}
	}
	return SubEngram{ID: id, Root: root, ChunkIDs: deduped, Children: children, Level: level}
}

// LevelItem pairs a path prefix with the sub-engram id built from it.
type LevelItem struct {
	PathPrefix  string
	SubEngramID string
}

// Level is one ordered row of the hierarchical manifest's level index.
type Level struct {
	Level int
	Items []LevelItem
}

// HierarchicalManifest is the tree form (spec §3) produced by hbuild/
// and consumed by hquery/.
type HierarchicalManifest struct {
	Version    int
	Levels     []Level
	SubEngrams map[string]SubEngram
	RootID     string
}

// Get returns the named sub-engram, or an error if it is absent — per
// spec §6, "missing ids are an error, not a silent empty."
func (h HierarchicalManifest) Get(id string) (SubEngram, error) {
	se, ok := h.SubEngrams[id]
	if !ok {
		return SubEngram{}, errs.Wrapf(errs.CorruptEngram, "engram: hierarchical manifest: dangling sub_engram_id %q", id)
	}
	return se, nil
}

// PathPrefixes returns every directory prefix of path, shallowest first,
// ending with path itself — the hierarchy hbuild/ groups files under.
// "a/b/c.txt" yields ["a", "a/b", "a/b/c.txt"].
func PathPrefixes(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for i := range parts {
		out = append(out, strings.Join(parts[:i+1], "/"))
	}
	return out
}
