package engram

import (
	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/codebook"
	"github.com/tzervas/embeddenator-core/config"
	"github.com/tzervas/embeddenator-core/correction"
	"github.com/tzervas/embeddenator-core/errs"
	"github.com/tzervas/embeddenator-core/kernel"
	"github.com/tzervas/embeddenator-core/stv"
)

// Engram is the flat-form aggregate (spec §3/§4.F): it exclusively owns
// its manifest, codebook, correction store, and root vector. Hierarchical
// engrams are built from one of these by hbuild/, not constructed
// directly.
type Engram struct {
	Manifest    Manifest
	Codebook    *codebook.Codebook
	Corrections *correction.Store
	Root        stv.STV
	VsaConfig   config.VsaConfig

	// FileRoots caches each file's bind(path_role, file_vector) by path,
	// so update/ can recompute the root from the surviving set of file
	// roots (a leaf-to-root differential recompute, spec §4.J) instead of
	// re-deriving every untouched file's contribution from scratch.
	FileRoots map[string]stv.STV
}

// File is one ingest input: a validated path paired with its raw bytes.
type File struct {
	Path string
	Data []byte
}

// Ingest builds a flat Engram from a set of files (spec §6 "ingest"):
// each file is split into chunks, every chunk is encoded and registered
// in the codebook (content-addressed, so identical bytes across files
// share one entry), a correction record is computed and verified for
// every chunk, and the root vector is the bundle over all files of
// bind(path_role, file_vector) (spec §4.F "Flat").
//
// file_vector is the ordered bundle over a file's chunk STVs, each
// permuted by a shift derived from its own chunk_id before bundling —
// this is in addition to chunk.Encode's own chunk_id-derived dimension
// shift, and exists so that two files sharing a chunk in different
// positions don't cancel each other's contribution to the root.
func Ingest(files []File, cfg config.VsaConfig, backend kernel.VsaBackend) (*Engram, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cb := codebook.New()
	corrections := correction.NewStore()

	manifest := Manifest{Version: FormatVersion}
	fileRoots := make(map[string]stv.STV, len(files))
	order := make([]string, 0, len(files))

	for _, f := range files {
		entry, fileRoot, err := ingestFile(f, cfg, backend, cb, corrections)
		if err != nil {
			return nil, err
		}
		manifest.Files = append(manifest.Files, entry)
		fileRoots[f.Path] = fileRoot
		order = append(order, f.Path)
	}

	root, err := bundleFileRoots(fileRoots, order, cfg)
	if err != nil {
		return nil, err
	}

	return &Engram{
		Manifest:    manifest,
		Codebook:    cb,
		Corrections: corrections,
		Root:        root,
		VsaConfig:   cfg,
		FileRoots:   fileRoots,
	}, nil
}

// ingestFile runs the single-file half of Ingest (split, encode, correct,
// verify, bundle, bind) against a shared codebook/correction store. It is
// exported in spirit to update/ via IngestFile below — update/ needs the
// exact same per-file derivation for Added and Modified diffs so that a
// file added via update() produces a bit-identical entry to one that was
// present at the original ingest (spec §8 invariant 8 extended to
// updates).
func ingestFile(f File, cfg config.VsaConfig, backend kernel.VsaBackend, cb *codebook.Codebook, corrections *correction.Store) (FileEntry, stv.STV, error) {
	if err := ValidatePath(f.Path); err != nil {
		return FileEntry{}, stv.STV{}, err
	}
	chunks, err := chunk.Split(f.Data, int(cfg.ChunkSize))
	if err != nil {
		return FileEntry{}, stv.STV{}, err
	}

	verifier := correction.Verifier{}
	chunkIDs := make([]chunk.ID, len(chunks))
	chunkVectors := make([]stv.STV, len(chunks))
	for i, c := range chunks {
		v, err := backend.EncodeData(c, cfg.Dimensionality)
		if err != nil {
			return FileEntry{}, stv.STV{}, err
		}
		if err := cb.Insert(c.ID, v); err != nil {
			return FileEntry{}, stv.STV{}, err
		}

		decoded, err := chunk.Decode(v, c.ID, len(c.Bytes))
		if err != nil {
			return FileEntry{}, stv.STV{}, err
		}
		rec := correction.Compute(c.Bytes, decoded)
		if err := verifier.Verify(c.ID, c.Bytes, decoded, rec); err != nil {
			return FileEntry{}, stv.STV{}, err
		}
		if err := corrections.Put(c.ID, rec); err != nil {
			return FileEntry{}, stv.STV{}, err
		}

		chunkIDs[i] = c.ID
		shift := int(stv.Seed(cfg.MasterSeed, []byte(c.ID)) % uint64(cfg.Dimensionality))
		chunkVectors[i] = stv.Permute(v, shift)
	}

	fileVector, err := stv.BundleHybrid(chunkVectors, cfg.HybridBundleCollisionBudget)
	if err != nil {
		return FileEntry{}, stv.STV{}, err
	}
	pathRole := stv.RoleVector(cfg.MasterSeed, f.Path, 0, cfg.Dimensionality, cfg.TargetSparsity)
	fileRoot, err := backend.Bind(pathRole, fileVector)
	if err != nil {
		return FileEntry{}, stv.STV{}, err
	}

	entry := FileEntry{Path: f.Path, Size: int64(len(f.Data)), ChunkIDs: chunkIDs}
	return entry, fileRoot, nil
}

// IngestFile exposes ingestFile to update/: it registers f's chunks in cb
// and corrections and returns its manifest entry and file root, without
// touching any Engram-level aggregate (manifest, FileRoots, Root) —
// assembling those is the caller's job.
func IngestFile(f File, cfg config.VsaConfig, backend kernel.VsaBackend, cb *codebook.Codebook, corrections *correction.Store) (FileEntry, stv.STV, error) {
	return ingestFile(f, cfg, backend, cb, corrections)
}

// bundleFileRoots bundles every file root in order into one root vector
// (spec §4.F). Named so update/ can recompute the root the same way after
// a diff, without re-deriving untouched files' contributions.
func bundleFileRoots(fileRoots map[string]stv.STV, order []string, cfg config.VsaConfig) (stv.STV, error) {
	if len(order) == 0 {
		return stv.New(cfg.Dimensionality), nil
	}
	vecs := make([]stv.STV, len(order))
	for i, path := range order {
		vecs[i] = fileRoots[path]
	}
	return stv.BundleHybrid(vecs, cfg.HybridBundleCollisionBudget)
}

// RecomputeRoot rebuilds e.Root from e.FileRoots in e.Manifest's current
// file order. update/ calls this once per Apply after patching the
// codebook/corrections/manifest/FileRoots for a diff, rather than
// re-ingesting every file (spec §4.J: "recompute the root").
func (e *Engram) RecomputeRoot() error {
	order := e.Manifest.SortedPaths()
	root, err := bundleFileRoots(e.FileRoots, order, e.VsaConfig)
	if err != nil {
		return err
	}
	e.Root = root
	return nil
}

// Extract reconstructs a file's original bytes bit-exact (spec §6
// "extract", §8 invariant 1): decode each chunk's STV via the codebook,
// apply its correction record, and concatenate. Any missing codebook or
// correction entry is corruption, not a silent gap.
func (e *Engram) Extract(path string) ([]byte, error) {
	f, ok := e.Manifest.Find(path)
	if !ok {
		return nil, errs.Wrapf(errs.CorruptEngram, "engram: extract: no manifest entry for path %q", path)
	}

	out := make([]byte, 0, f.Size)
	remaining := f.Size
	for _, id := range f.ChunkIDs {
		v, ok := e.Codebook.Get(id)
		if !ok {
			return nil, errs.Wrapf(errs.CorruptEngram, "engram: extract: dangling chunk_id %s in %q", id, path)
		}
		size := int(e.VsaConfig.ChunkSize)
		if int64(size) > remaining {
			size = int(remaining)
		}
		decoded, err := chunk.Decode(v, id, size)
		if err != nil {
			return nil, err
		}
		rec, ok := e.Corrections.Get(id)
		if !ok {
			return nil, errs.Wrapf(errs.CorruptEngram, "engram: extract: no correction record for chunk_id %s in %q", id, path)
		}
		fixed, err := rec.Apply(decoded)
		if err != nil {
			return nil, err
		}
		out = append(out, fixed...)
		remaining -= int64(len(fixed))
	}
	if int64(len(out)) != f.Size {
		return nil, errs.Wrapf(errs.ReconstructionFailed, "engram: extract: %q reconstructed %d bytes, want %d", path, len(out), f.Size)
	}
	return out, nil
}

// ExtractAll reconstructs every file in the manifest, keyed by path.
func (e *Engram) ExtractAll() (map[string][]byte, error) {
	out := make(map[string][]byte, len(e.Manifest.Files))
	for _, f := range e.Manifest.Files {
		data, err := e.Extract(f.Path)
		if err != nil {
			return nil, err
		}
		out[f.Path] = data
	}
	return out, nil
}

// Stat is a read-only summary of an engram's shape, useful for
// diagnostics without decoding any chunk.
type Stat struct {
	Version        int
	Dimensionality int
	Files          int
	Chunks         int
	RootSparsity   float64
}

// Describe computes Stat for e.
func (e *Engram) Describe() Stat {
	return Stat{
		Version:        e.Manifest.Version,
		Dimensionality: e.VsaConfig.Dimensionality,
		Files:          len(e.Manifest.Files),
		Chunks:         e.Codebook.Len(),
		RootSparsity:   e.Root.Sparsity(),
	}
}
