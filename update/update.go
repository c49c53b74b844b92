// Package update implements incremental differential update (spec §4.J):
// given a set of file diffs, re-split and re-encode every chunk of each
// added or modified file (unchanged chunks inside a modified file are
// encoded again, not skipped), leave untouched files as they are, keep
// the codebook/correction store refcount-accurate, and recompute the root
// from the surviving file roots rather than re-ingesting the whole corpus.
//
// Grounded on erigon-lib/kv's MVCC discipline (readers see a committed
// snapshot, writers build the next one and publish atomically) — Apply
// never mutates its input Engram; it returns a new one built from cloned
// registries, so a caller holding the old *Engram as a read snapshot is
// unaffected (spec §5: "Updates construct a new snapshot, then publish
// atomically").
package update

import (
	"github.com/tzervas/embeddenator-core/codebook"
	"github.com/tzervas/embeddenator-core/correction"
	"github.com/tzervas/embeddenator-core/engram"
	"github.com/tzervas/embeddenator-core/errs"
	"github.com/tzervas/embeddenator-core/kernel"
	"github.com/tzervas/embeddenator-core/stv"
)

// Kind distinguishes the three diff shapes spec §4.J names.
type Kind int

const (
	Added Kind = iota
	Removed
	Modified
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// Diff is one file-level change to apply. Data is required for Added and
// Modified, ignored for Removed.
type Diff struct {
	Kind Kind
	Path string
	Data []byte
}

// Apply computes a new Engram reflecting diffs against e, without
// mutating e (spec §5 snapshot isolation). Diffs are applied in the
// order given; a path must not appear more than once across diffs in a
// single Apply call.
func Apply(e *engram.Engram, diffs []Diff, backend kernel.VsaBackend) (*engram.Engram, error) {
	if err := checkNoDuplicatePaths(diffs); err != nil {
		return nil, err
	}

	cb := e.Codebook.Clone()
	corrections := e.Corrections.Clone()
	manifest := e.Manifest
	fileRoots := cloneFileRoots(e.FileRoots)

	for _, d := range diffs {
		switch d.Kind {
		case Removed:
			entry, ok := manifest.Find(d.Path)
			if !ok {
				return nil, errs.Wrapf(errs.InvariantViolation, "update: remove: %q not present in engram", d.Path)
			}
			releaseChunks(cb, corrections, entry)
			manifest, _ = manifest.Remove(d.Path)
			delete(fileRoots, d.Path)

		case Modified:
			old, ok := manifest.Find(d.Path)
			if !ok {
				return nil, errs.Wrapf(errs.InvariantViolation, "update: modify: %q not present in engram", d.Path)
			}
			releaseChunks(cb, corrections, old)

			entry, fileRoot, err := engram.IngestFile(engram.File{Path: d.Path, Data: d.Data}, e.VsaConfig, backend, cb, corrections)
			if err != nil {
				return nil, err
			}
			manifest = manifest.Upsert(entry)
			fileRoots[d.Path] = fileRoot

		case Added:
			if _, ok := manifest.Find(d.Path); ok {
				return nil, errs.Wrapf(errs.InvariantViolation, "update: add: %q already present in engram", d.Path)
			}
			entry, fileRoot, err := engram.IngestFile(engram.File{Path: d.Path, Data: d.Data}, e.VsaConfig, backend, cb, corrections)
			if err != nil {
				return nil, err
			}
			manifest = manifest.Upsert(entry)
			fileRoots[d.Path] = fileRoot

		default:
			return nil, errs.Wrapf(errs.InvariantViolation, "update: unknown diff kind %d for %q", d.Kind, d.Path)
		}
	}

	out := &engram.Engram{
		Manifest:    manifest,
		Codebook:    cb,
		Corrections: corrections,
		VsaConfig:   e.VsaConfig,
		FileRoots:   fileRoots,
	}
	if err := out.RecomputeRoot(); err != nil {
		return nil, err
	}
	return out, nil
}

// releaseChunks drops one occurrence's worth of refcount for every one
// of entry's chunk_ids, deleting codebook/correction entries whose
// refcount reaches zero (spec §4.J: "Correction-store entries for
// removed chunks with refcount zero are dropped" — codebook entries
// symmetrically).
func releaseChunks(cb *codebook.Codebook, corrections *correction.Store, entry engram.FileEntry) {
	for _, id := range entry.ChunkIDs {
		corrections.Release(id)
		if cb.Release(id) {
			cb.Delete(id)
		}
	}
}

func checkNoDuplicatePaths(diffs []Diff) error {
	seen := make(map[string]bool, len(diffs))
	for _, d := range diffs {
		if seen[d.Path] {
			return errs.Wrapf(errs.InvariantViolation, "update: path %q appears more than once in one Apply call", d.Path)
		}
		seen[d.Path] = true
	}
	return nil
}

func cloneFileRoots(m map[string]stv.STV) map[string]stv.STV {
	out := make(map[string]stv.STV, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Compact rebuilds e's codebook and correction store from its manifest's
// own chunk references, dropping any entry no live FileEntry points to
// (spec §4.J: "a compact operation rebuilds the engram without
// tombstoned entries"). Normal Apply already deletes zero-refcount
// entries eagerly, so Compact mainly guards against refcount drift
// accumulated across many Apply cycles; it never changes Root, since
// the set of bytes reachable from the manifest is unchanged.
func Compact(e *engram.Engram) (*engram.Engram, error) {
	cb := codebook.New()
	corrections := correction.NewStore()
	for _, f := range e.Manifest.Files {
		for _, id := range f.ChunkIDs {
			v, ok := e.Codebook.Get(id)
			if !ok {
				return nil, errs.Wrapf(errs.CorruptEngram, "update: compact: dangling chunk_id %s in %q", id, f.Path)
			}
			if err := cb.Insert(id, v); err != nil {
				return nil, err
			}
			rec, ok := e.Corrections.Get(id)
			if !ok {
				return nil, errs.Wrapf(errs.CorruptEngram, "update: compact: missing correction record for %s in %q", id, f.Path)
			}
			if err := corrections.Put(id, rec); err != nil {
				return nil, err
			}
		}
	}
	return &engram.Engram{
		Manifest:    e.Manifest,
		Codebook:    cb,
		Corrections: corrections,
		Root:        e.Root,
		VsaConfig:   e.VsaConfig,
		FileRoots:   cloneFileRoots(e.FileRoots),
	}, nil
}
