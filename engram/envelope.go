package engram

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zstd"

	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/codebook"
	"github.com/tzervas/embeddenator-core/config"
	"github.com/tzervas/embeddenator-core/correction"
	"github.com/tzervas/embeddenator-core/errs"
	"github.com/tzervas/embeddenator-core/stv"
)

// magic identifies an embeddenator engram file. Chosen to be unlikely to
// collide with other formats, matching the convention of a short,
// greppable 4-byte tag
// (spec §6, "Engram file... header { magic, format_version, ... }").
var magic = [4]byte{'V', 'S', 'A', 'E'}

const (
	flagHierarchical uint32 = 1 << 0
)

// Save writes e as a single binary envelope (spec §6): an uncompressed
// header (magic, format_version, dimensionality, sparsity hint, flags)
// followed by a zstd-compressed payload holding the codebook, correction
// store, and manifest sections, each length-prefixed. The header stays
// uncompressed so a reader can validate format/version/dimensionality
// before paying for decompression (spec §7, "Format / version mismatch:
// ...fatal at load").
func Save(w io.Writer, e *Engram) error {
	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, binary.LittleEndian, magic); err != nil {
		return errs.WrapErr(errs.IoFailure, "engram: write magic", err)
	}
	header := struct {
		FormatVersion  uint32
		Dimensionality uint32
		SparsityHint   uint64 // math.Float64bits
		Flags          uint32
	}{
		FormatVersion:  FormatVersion,
		Dimensionality: uint32(e.VsaConfig.Dimensionality),
		SparsityHint:   math.Float64bits(e.VsaConfig.TargetSparsity),
		Flags:          0,
	}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return errs.WrapErr(errs.IoFailure, "engram: write header", err)
	}

	var payload bytes.Buffer
	if err := writeCodebookSection(&payload, e.Codebook); err != nil {
		return err
	}
	if err := writeCorrectionSection(&payload, e.Corrections); err != nil {
		return err
	}
	if err := writeManifestSection(&payload, e.Manifest); err != nil {
		return err
	}

	zw, err := zstd.NewWriter(bw)
	if err != nil {
		return errs.WrapErr(errs.IoFailure, "engram: new zstd writer", err)
	}
	if _, err := zw.Write(payload.Bytes()); err != nil {
		zw.Close()
		return errs.WrapErr(errs.IoFailure, "engram: write payload", err)
	}
	if err := zw.Close(); err != nil {
		return errs.WrapErr(errs.IoFailure, "engram: close zstd writer", err)
	}
	return bw.Flush()
}

// SaveFile is a convenience wrapper that creates (or truncates) path and
// writes e to it.
func SaveFile(path string, e *Engram) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.WrapErr(errs.IoFailure, fmt.Sprintf("engram: create %s", path), err)
	}
	defer f.Close()
	return Save(f, e)
}

// Load reads an envelope written by Save, validating the magic, format
// version, and dimensionality against cfg before decompressing the body
// (spec §6: "parsers MUST validate D matches the reader's configured D
// and reject otherwise").
func Load(r io.Reader, cfg config.VsaConfig) (*Engram, error) {
	var gotMagic [4]byte
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return nil, errs.WrapErr(errs.CorruptEngram, "engram: read magic", err)
	}
	if gotMagic != magic {
		return nil, errs.Wrapf(errs.FormatVersionMismatch, "engram: unrecognized magic %q", gotMagic)
	}
	var header struct {
		FormatVersion  uint32
		Dimensionality uint32
		SparsityHint   uint64
		Flags          uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, errs.WrapErr(errs.CorruptEngram, "engram: read header", err)
	}
	if header.FormatVersion != FormatVersion {
		return nil, errs.Wrapf(errs.FormatVersionMismatch, "engram: format_version %d unsupported (want %d)", header.FormatVersion, FormatVersion)
	}
	if int(header.Dimensionality) != cfg.Dimensionality {
		return nil, errs.Wrapf(errs.FormatVersionMismatch, "engram: dimensionality %d does not match configured %d", header.Dimensionality, cfg.Dimensionality)
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, errs.WrapErr(errs.CorruptEngram, "engram: new zstd reader", err)
	}
	defer zr.Close()

	cb, err := readCodebookSection(zr)
	if err != nil {
		return nil, err
	}
	corrections, err := readCorrectionSection(zr)
	if err != nil {
		return nil, err
	}
	manifest, err := readManifestSection(zr)
	if err != nil {
		return nil, err
	}

	e := &Engram{
		Manifest:    manifest,
		Codebook:    cb,
		Corrections: corrections,
		VsaConfig:   cfg,
	}
	// The root and per-file roots aren't stored redundantly in the
	// envelope; they're rederived from the codebook the same way Ingest
	// builds them the first time (bundle each file's permuted chunk
	// vectors, bind with its path role, bundle every file root). Because
	// every step is deterministic given (chunk_ids, codebook, VsaConfig),
	// this reproduces the exact ingest-time root byte-for-byte rather than
	// an approximation — and update/ needs FileRoots populated from a
	// loaded engram the same way it would from a freshly ingested one.
	fileRoots, order, err := rebuildFileRoots(manifest, cb, cfg)
	if err != nil {
		return nil, err
	}
	e.FileRoots = fileRoots
	root, err := bundleFileRoots(fileRoots, order, cfg)
	if err != nil {
		return nil, err
	}
	e.Root = root
	return e, nil
}

// rebuildFileRoots reconstructs every FileEntry's bind(path_role,
// file_vector) from the codebook alone, without the original file bytes —
// the same derivation Ingest performs inline, factored out so Load can
// reuse it.
func rebuildFileRoots(m Manifest, cb *codebook.Codebook, cfg config.VsaConfig) (map[string]stv.STV, []string, error) {
	fileRoots := make(map[string]stv.STV, len(m.Files))
	order := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		chunkVectors := make([]stv.STV, 0, len(f.ChunkIDs))
		for _, id := range f.ChunkIDs {
			v, ok := cb.Get(id)
			if !ok {
				return nil, nil, errs.Wrapf(errs.CorruptEngram, "engram: load: dangling chunk_id %s in %q", id, f.Path)
			}
			shift := int(stv.Seed(cfg.MasterSeed, []byte(id)) % uint64(cfg.Dimensionality))
			chunkVectors = append(chunkVectors, stv.Permute(v, shift))
		}
		fileVector, err := stv.BundleHybrid(chunkVectors, cfg.HybridBundleCollisionBudget)
		if err != nil {
			return nil, nil, err
		}
		pathRole := stv.RoleVector(cfg.MasterSeed, f.Path, 0, cfg.Dimensionality, cfg.TargetSparsity)
		fileRoot, err := stv.Bind(pathRole, fileVector)
		if err != nil {
			return nil, nil, err
		}
		fileRoots[f.Path] = fileRoot
		order = append(order, f.Path)
	}
	return fileRoots, order, nil
}

// LoadFile mmaps path read-only and parses it via Load, avoiding a bulk
// read()+copy for large engram files (grounded on erigon-lib's
// mmap-backed segment reads, realized here with edsrzf/mmap-go).
func LoadFile(path string, cfg config.VsaConfig) (*Engram, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.WrapErr(errs.IoFailure, fmt.Sprintf("engram: open %s", path), err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errs.WrapErr(errs.IoFailure, fmt.Sprintf("engram: mmap %s", path), err)
	}
	defer m.Unmap()

	return Load(bytes.NewReader(m), cfg)
}

// --- section codecs -------------------------------------------------

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeInt32Slice(w io.Writer, s []int32) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, s)
}

func readInt32Slice(r io.Reader) ([]int32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]int32, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}

// writeCodebookSection emits entries in ascending chunk_id order
// (codebook.Codebook.Iter's native order), satisfying spec §6's "sorted
// by chunk_id" requirement for free.
func writeCodebookSection(w *bytes.Buffer, cb *codebook.Codebook) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(cb.Len())); err != nil {
		return err
	}
	var sectionErr error
	cb.Iter(func(id chunk.ID, v stv.STV) bool {
		if sectionErr = writeString(w, string(id)); sectionErr != nil {
			return false
		}
		if sectionErr = binary.Write(w, binary.LittleEndian, uint32(v.D)); sectionErr != nil {
			return false
		}
		if sectionErr = writeInt32Slice(w, v.Pos); sectionErr != nil {
			return false
		}
		if sectionErr = writeInt32Slice(w, v.Neg); sectionErr != nil {
			return false
		}
		return true
	})
	return sectionErr
}

func readCodebookSection(r io.Reader) (*codebook.Codebook, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errs.WrapErr(errs.CorruptEngram, "engram: read codebook count", err)
	}
	cb := codebook.New()
	for i := uint32(0); i < n; i++ {
		id, err := readString(r)
		if err != nil {
			return nil, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read codebook entry %d id", i), err)
		}
		var d uint32
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			return nil, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read codebook entry %d dimensionality", i), err)
		}
		pos, err := readInt32Slice(r)
		if err != nil {
			return nil, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read codebook entry %d pos", i), err)
		}
		neg, err := readInt32Slice(r)
		if err != nil {
			return nil, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read codebook entry %d neg", i), err)
		}
		v, err := stv.FromIndices(int(d), pos, neg)
		if err != nil {
			return nil, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: codebook entry %s", id), err)
		}
		if err := cb.Insert(chunk.ID(id), v); err != nil {
			return nil, err
		}
	}
	return cb, nil
}

// correctionSectionOrder returns store's chunk_ids sorted ascending, so
// the correction section serializes deterministically the same way the
// codebook section's btree iteration order does (spec §8 invariant 8).
func correctionSectionOrder(store *correction.Store) []chunk.ID {
	ids := make([]chunk.ID, 0, store.Len())
	store.Iter(func(id chunk.ID, _ correction.Record) { ids = append(ids, id) })
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func writeCorrectionSection(w *bytes.Buffer, store *correction.Store) error {
	ids := correctionSectionOrder(store)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ids))); err != nil {
		return err
	}
	for _, id := range ids {
		rec, _ := store.Get(id)
		if err := writeString(w, string(id)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(rec.Size)); err != nil {
			return err
		}
		hasDense := rec.Dense != nil
		if err := binary.Write(w, binary.LittleEndian, hasDense); err != nil {
			return err
		}
		if hasDense {
			if err := writeString(w, string(rec.Dense)); err != nil {
				return err
			}
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(rec.Diffs))); err != nil {
			return err
		}
		for _, d := range rec.Diffs {
			if err := binary.Write(w, binary.LittleEndian, uint32(d.Offset)); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, d.XOR); err != nil {
				return err
			}
		}
	}
	return nil
}

func readCorrectionSection(r io.Reader) (*correction.Store, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errs.WrapErr(errs.CorruptEngram, "engram: read correction count", err)
	}
	store := correction.NewStore()
	for i := uint32(0); i < n; i++ {
		id, err := readString(r)
		if err != nil {
			return nil, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read correction entry %d id", i), err)
		}
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read correction entry %d size", i), err)
		}
		var hasDense bool
		if err := binary.Read(r, binary.LittleEndian, &hasDense); err != nil {
			return nil, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read correction entry %d dense flag", i), err)
		}
		var dense []byte
		if hasDense {
			s, err := readString(r)
			if err != nil {
				return nil, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read correction entry %d dense", i), err)
			}
			dense = []byte(s)
		}
		var diffCount uint32
		if err := binary.Read(r, binary.LittleEndian, &diffCount); err != nil {
			return nil, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read correction entry %d diff count", i), err)
		}
		diffs := make([]correction.Diff, diffCount)
		for j := range diffs {
			var offset uint32
			if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
				return nil, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read correction entry %d diff %d offset", i, j), err)
			}
			var xor byte
			if err := binary.Read(r, binary.LittleEndian, &xor); err != nil {
				return nil, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read correction entry %d diff %d xor", i, j), err)
			}
			diffs[j] = correction.Diff{Offset: int(offset), XOR: xor}
		}
		rec := correction.Record{Size: int(size), Dense: dense, Diffs: diffs}
		if err := store.Put(chunk.ID(id), rec); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func writeManifestSection(w *bytes.Buffer, m Manifest) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(m.Version)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.Files))); err != nil {
		return err
	}
	for _, f := range m.Files {
		if err := writeString(w, f.Path); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(f.Size)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(f.ChunkIDs))); err != nil {
			return err
		}
		for _, id := range f.ChunkIDs {
			if err := writeString(w, string(id)); err != nil {
				return err
			}
		}
	}
	return nil
}

func readManifestSection(r io.Reader) (Manifest, error) {
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return Manifest{}, errs.WrapErr(errs.CorruptEngram, "engram: read manifest version", err)
	}
	if int(version) != FormatVersion {
		return Manifest{}, errs.Wrapf(errs.FormatVersionMismatch, "engram: manifest version %d unsupported", version)
	}
	var fileCount uint32
	if err := binary.Read(r, binary.LittleEndian, &fileCount); err != nil {
		return Manifest{}, errs.WrapErr(errs.CorruptEngram, "engram: read manifest file count", err)
	}
	m := Manifest{Version: int(version), Files: make([]FileEntry, fileCount)}
	for i := range m.Files {
		path, err := readString(r)
		if err != nil {
			return Manifest{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read manifest entry %d path", i), err)
		}
		if err := ValidatePath(path); err != nil {
			return Manifest{}, errs.WrapErr(errs.CorruptEngram, "engram: manifest path", err)
		}
		var size uint64
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return Manifest{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read manifest entry %d size", i), err)
		}
		var chunkCount uint32
		if err := binary.Read(r, binary.LittleEndian, &chunkCount); err != nil {
			return Manifest{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read manifest entry %d chunk count", i), err)
		}
		ids := make([]chunk.ID, chunkCount)
		for j := range ids {
			s, err := readString(r)
			if err != nil {
				return Manifest{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read manifest entry %d chunk %d", i, j), err)
			}
			ids[j] = chunk.ID(s)
		}
		m.Files[i] = FileEntry{Path: path, Size: int64(size), ChunkIDs: ids}
	}
	return m, nil
}

// SaveSubEngram serializes one SubEngram in the "directory form" spec §6
// describes: a self-contained blob, independent of the hierarchical
// manifest's own envelope, suitable for the "<id>.subengram" layout a
// SubEngramStore loader reads from.
func SaveSubEngram(w io.Writer, se SubEngram) error {
	if err := writeString(w, se.ID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(se.Root.D)); err != nil {
		return err
	}
	if err := writeInt32Slice(w, se.Root.Pos); err != nil {
		return err
	}
	if err := writeInt32Slice(w, se.Root.Neg); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(se.ChunkIDs))); err != nil {
		return err
	}
	for _, id := range se.ChunkIDs {
		if err := writeString(w, string(id)); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(se.Children))); err != nil {
		return err
	}
	for _, c := range se.Children {
		if err := writeString(w, c); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, int32(se.Level))
}

// LoadSubEngram deserializes a blob written by SaveSubEngram.
func LoadSubEngram(r io.Reader) (SubEngram, error) {
	id, err := readString(r)
	if err != nil {
		return SubEngram{}, errs.WrapErr(errs.CorruptEngram, "engram: read sub-engram id", err)
	}
	var d uint32
	if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
		return SubEngram{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read sub-engram %s dimensionality", id), err)
	}
	pos, err := readInt32Slice(r)
	if err != nil {
		return SubEngram{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read sub-engram %s pos", id), err)
	}
	neg, err := readInt32Slice(r)
	if err != nil {
		return SubEngram{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read sub-engram %s neg", id), err)
	}
	root, err := stv.FromIndices(int(d), pos, neg)
	if err != nil {
		return SubEngram{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: sub-engram %s root", id), err)
	}

	var chunkCount uint32
	if err := binary.Read(r, binary.LittleEndian, &chunkCount); err != nil {
		return SubEngram{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read sub-engram %s chunk count", id), err)
	}
	chunkIDs := make([]chunk.ID, chunkCount)
	for i := range chunkIDs {
		s, err := readString(r)
		if err != nil {
			return SubEngram{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read sub-engram %s chunk %d", id, i), err)
		}
		chunkIDs[i] = chunk.ID(s)
	}

	var childCount uint32
	if err := binary.Read(r, binary.LittleEndian, &childCount); err != nil {
		return SubEngram{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read sub-engram %s child count", id), err)
	}
	children := make([]string, childCount)
	for i := range children {
		s, err := readString(r)
		if err != nil {
			return SubEngram{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read sub-engram %s child %d", id, i), err)
		}
		children[i] = s
	}

	var level int32
	if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
		return SubEngram{}, errs.WrapErr(errs.CorruptEngram, fmt.Sprintf("engram: read sub-engram %s level", id), err)
	}

	return SubEngram{ID: id, Root: root, ChunkIDs: chunkIDs, Children: children, Level: int(level)}, nil
}
