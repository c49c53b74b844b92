// Package chunk implements the reversible byte-chunk <-> STV codec (spec
// §4.C): trits are packed from a byte chunk via ternary.LiftBytes, then
// scattered onto vector dimensions by a shift derived from chunk_id so
// that different chunks occupy non-aligned dimensions, reducing
// cross-chunk interference when many chunk STVs are superposed together
// (engram/, hbuild/).
//
// Grounded on other_examples' chunker.go for chunk-boundary handling
// (default size, short last chunk) and on stv/ for the projection target.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/tzervas/embeddenator-core/errs"
	"github.com/tzervas/embeddenator-core/stv"
	"github.com/tzervas/embeddenator-core/ternary"
)

// DefaultSize is the default chunk size in bytes (spec §3).
const DefaultSize = 4096

// ID is a content-addressed chunk identifier: hex-encoded SHA-256 of the
// chunk's bytes.
type ID string

// ComputeID hashes chunk bytes into a content-addressed ID.
func ComputeID(data []byte) ID {
	sum := sha256.Sum256(data)
	return ID(hex.EncodeToString(sum[:]))
}

// Chunk is a contiguous byte range read from a file during ingest (spec
// §3). Bytes is retained only transiently during ingest; once encoded, a
// Chunk's byte payload lives in the correction store and is not otherwise
// duplicated.
type Chunk struct {
	ID    ID
	Bytes []byte
}

// Split partitions data into contiguous chunks of at most size bytes each;
// the last chunk may be shorter (spec §3). size must be positive. An empty
// input yields zero chunks.
func Split(data []byte, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk: Split: size must be positive, got %d", size)
	}
	var out []Chunk
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		b := make([]byte, end-off)
		copy(b, data[off:end])
		out = append(out, Chunk{ID: ComputeID(b), Bytes: b})
	}
	return out, nil
}

// dimShift derives a deterministic dimension shift from a chunk_id: the
// byte block positions of this chunk's encoding are offset by this shift
// (mod D) before being written into the output STV's dimensions, so two
// chunks with different IDs project onto different, only partially
// overlapping, dimension ranges (spec §4.C).
func dimShift(id ID, D int) int {
	h := stv.Seed(0, []byte(id))
	return int(h % uint64(D))
}

// Encode deterministically projects chunk bytes into a sparse ternary
// vector of dimensionality D. The same (bytes, chunk_id, D) always yields
// the same STV. Encoding alone is lossy in general (collisions at high
// chunk-to-D ratios, or where D is too small to hold every trit); exact
// reconstruction is restored by pairing the result with a
// correction.Record (see correction/).
func Encode(c Chunk, D int) (stv.STV, error) {
	if D <= 0 {
		return stv.STV{}, errs.Wrapf(errs.InvariantViolation, "chunk: Encode: dimensionality must be positive, got %d", D)
	}
	trits := ternary.LiftBytes(c.Bytes)
	shift := dimShift(c.ID, D)

	seen := make(map[int]int8, len(trits))
	for i, t := range trits {
		if t == 0 {
			continue
		}
		dim := (i + shift) % D
		// A later trit mapping to an already-occupied dimension overwrites
		// the earlier one deterministically (same input always produces
		// the same winner, since iteration order is fixed); this is the
		// lossy-collision case the correction store exists to repair.
		seen[dim] = t
	}
	pos := make([]int32, 0, len(seen))
	neg := make([]int32, 0, len(seen))
	for dim, t := range seen {
		if t > 0 {
			pos = append(pos, int32(dim))
		} else {
			neg = append(neg, int32(dim))
		}
	}
	sort.Slice(pos, func(i, j int) bool { return pos[i] < pos[j] })
	sort.Slice(neg, func(i, j int) bool { return neg[i] < neg[j] })
	return stv.FromIndices(D, pos, neg)
}

// Decode recovers up to expectedSize bytes from v by probing only the
// dimensions that could contain chunk trits — binary search over the
// sorted index sets, never a linear contains() (spec §4.C). The result is
// the best-effort decode prior to correction; it is bit-exact only when
// no dimension collisions occurred during Encode.
func Decode(v stv.STV, id ID, expectedSize int) ([]byte, error) {
	if expectedSize < 0 {
		return nil, fmt.Errorf("chunk: Decode: expectedSize must be >= 0, got %d", expectedSize)
	}
	shift := dimShift(id, v.D)
	tritCount := expectedSize * 5
	trits := make([]int8, tritCount)
	for i := 0; i < tritCount; i++ {
		dim := (i + shift) % v.D
		trits[i] = v.At(dim)
	}
	return ternary.LowerTrits(trits)
}
