// Package correction implements the per-chunk correction store (spec
// §4.D): the residual that, applied to chunk.Decode's best-effort output,
// yields the exact original bytes.
//
// Residual representation (spec §9 Open Question, resolved here): a
// Record is the XOR of decode(encode(bytes)) against the original bytes,
// stored as a sparse list of (offset, byte) pairs wherever that XOR is
// nonzero, falling back to the raw XOR block when more than half the
// bytes differ (dense chunk.Encode collisions making the sparse
// representation larger than just storing the block). This keeps the
// common case — a handful of dimension collisions in an otherwise mostly
// self-describing chunk encoding — cheap, while remaining correct in the
// worst case: at most Size/2 (offset, byte) pairs, otherwise one dense
// block of Size bytes.
package correction

import (
	"fmt"

	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/errs"
)

// Diff is a single byte correction at a given offset.
type Diff struct {
	Offset int
	XOR    byte
}

// Record is the correction residual for one chunk occurrence.
type Record struct {
	Size  int // original byte length of the chunk
	Dense []byte
	Diffs []Diff // used when len(Diffs) <= Size/2; Dense is nil in that case
}

// Compute derives the Record that turns decoded into original.
// len(decoded) may differ from len(original) (the decode path is bounded
// by expectedSize, but a caller may still hand in a short buffer); in that
// case the record is always dense.
func Compute(original, decoded []byte) Record {
	size := len(original)
	if len(decoded) != size {
		return Record{Size: size, Dense: xorDense(original, decoded)}
	}
	var diffs []Diff
	for i := range original {
		x := original[i] ^ decoded[i]
		if x != 0 {
			diffs = append(diffs, Diff{Offset: i, XOR: x})
		}
	}
	if len(diffs) > size/2 {
		return Record{Size: size, Dense: xorDense(original, decoded)}
	}
	return Record{Size: size, Diffs: diffs}
}

// xorDense XORs original against decoded byte-for-byte, treating a
// missing decoded byte as 0.
func xorDense(original, decoded []byte) []byte {
	out := make([]byte, len(original))
	for i := range original {
		var d byte
		if i < len(decoded) {
			d = decoded[i]
		}
		out[i] = original[i] ^ d
	}
	return out
}

// Apply combines decoded with rec to recover the original bytes.
func (rec Record) Apply(decoded []byte) ([]byte, error) {
	out := make([]byte, rec.Size)
	if rec.Dense != nil {
		if len(rec.Dense) != rec.Size {
			return nil, errs.Wrapf(errs.CorruptEngram, "correction: dense record size %d != declared size %d", len(rec.Dense), rec.Size)
		}
		for i := range out {
			var d byte
			if i < len(decoded) {
				d = decoded[i]
			}
			out[i] = rec.Dense[i] ^ d
		}
		return out, nil
	}
	if len(decoded) != rec.Size {
		return nil, errs.Wrapf(errs.CorruptEngram, "correction: decoded length %d != expected size %d", len(decoded), rec.Size)
	}
	copy(out, decoded)
	for _, d := range rec.Diffs {
		if d.Offset < 0 || d.Offset >= rec.Size {
			return nil, errs.Wrapf(errs.CorruptEngram, "correction: diff offset %d out of [0,%d)", d.Offset, rec.Size)
		}
		out[d.Offset] ^= d.XOR
	}
	return out, nil
}

// Store maps chunk_id to its correction Record, with reference counting
// for incremental update (spec §4.D, §4.J): multiple files may share a
// chunk_id, and a record is only dropped once every referencing chunk
// occurrence is removed.
type Store struct {
	records map[chunk.ID]Record
	refs    map[chunk.ID]int
}

// NewStore returns an empty correction store.
func NewStore() *Store {
	return &Store{records: make(map[chunk.ID]Record), refs: make(map[chunk.ID]int)}
}

// Put inserts or replaces the Record for id and increments its refcount.
// Insertion is idempotent under equal config: a second Put with an
// identical Record for the same id is a no-op beyond the refcount bump;
// a differing Record is a caller bug and returns an error rather than
// silently overwriting reconstruction data another chunk occurrence
// depends on.
func (s *Store) Put(id chunk.ID, rec Record) error {
	if existing, ok := s.records[id]; ok {
		if !recordsEqual(existing, rec) {
			return fmt.Errorf("correction: Put: chunk %s already has a different correction record", id)
		}
		s.refs[id]++
		return nil
	}
	s.records[id] = rec
	s.refs[id] = 1
	return nil
}

// Get returns the Record for id, if present.
func (s *Store) Get(id chunk.ID) (Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Release decrements id's refcount and, if it reaches zero, drops the
// record (spec §4.D, §4.J: "Correction-store entries for removed chunks
// with refcount zero are dropped").
func (s *Store) Release(id chunk.ID) {
	if s.refs[id] <= 0 {
		return
	}
	s.refs[id]--
	if s.refs[id] == 0 {
		delete(s.refs, id)
		delete(s.records, id)
	}
}

// RefCount reports how many live chunk occurrences reference id.
func (s *Store) RefCount(id chunk.ID) int { return s.refs[id] }

// Len reports the number of distinct chunk_ids currently stored.
func (s *Store) Len() int { return len(s.records) }

// Clone returns an independent copy: mutating the clone never affects s.
// Mirrors codebook.Codebook.Clone for the same snapshot-isolation reason
// (spec §5).
func (s *Store) Clone() *Store {
	out := NewStore()
	for id, rec := range s.records {
		out.records[id] = rec
	}
	for id, n := range s.refs {
		out.refs[id] = n
	}
	return out
}

// Iter calls fn for every (chunk_id, Record) pair, in no particular
// order; callers needing a stable order should sort the returned keys
// (engram/ does, for deterministic envelope serialization).
func (s *Store) Iter(fn func(chunk.ID, Record)) {
	for id, rec := range s.records {
		fn(id, rec)
	}
}

func recordsEqual(a, b Record) bool {
	if a.Size != b.Size || len(a.Dense) != len(b.Dense) || len(a.Diffs) != len(b.Diffs) {
		return false
	}
	for i := range a.Dense {
		if a.Dense[i] != b.Dense[i] {
			return false
		}
	}
	for i := range a.Diffs {
		if a.Diffs[i] != b.Diffs[i] {
			return false
		}
	}
	return true
}

// Verifier asserts, at ingest, that applying a chunk's correction to its
// decode recovers the exact original bytes (spec §4.D: "the core bit-
// perfect invariant and is not optional").
type Verifier struct{}

// Verify checks original == rec.Apply(decoded) and returns
// errs.ReconstructionFailed if not.
func (Verifier) Verify(id chunk.ID, original, decoded []byte, rec Record) error {
	got, err := rec.Apply(decoded)
	if err != nil {
		return errs.WrapErr(errs.ReconstructionFailed, fmt.Sprintf("correction: chunk %s: apply failed", id), err)
	}
	if len(got) != len(original) {
		return errs.Wrapf(errs.ReconstructionFailed, "correction: chunk %s: length mismatch after correction: got %d want %d", id, len(got), len(original))
	}
	for i := range original {
		if got[i] != original[i] {
			return errs.Wrapf(errs.ReconstructionFailed, "correction: chunk %s: byte mismatch at offset %d", id, i)
		}
	}
	return nil
}
