// Package stv implements the sparse ternary vector (STV): a fixed-D vector
// over {-1,0,+1} represented as the sorted index sets of its +1s and -1s
// (spec §3, §4.B). It is the VSA substrate every other core component —
// chunk encoding, the engram, retrieval, hierarchical query/build —
// operates on.
//
// Grounded on other_examples' hdc-encoder.go Vector type (Bundle/Bind/
// Permute over a dense hypervector), generalized here to the sparse
// ternary representation spec.md requires and to balanced-ternary
// (rather than binary XOR) algebra.
package stv

import (
	"fmt"

	"github.com/tzervas/embeddenator-core/errs"
)

// STV is a sparse ternary vector of fixed dimensionality D. Pos and Neg
// are sorted, strictly increasing, disjoint index slices into [0,D).
// STVs are immutable once constructed: every operation returns a new STV.
type STV struct {
	D   int
	Pos []int32
	Neg []int32
}

// New returns the zero vector of dimensionality D (no nonzero dimensions).
func New(D int) STV {
	return STV{D: D}
}

// FromIndices builds an STV from caller-supplied index sets, validating
// every invariant spec.md §3/§4.B requires: sorted, strictly increasing,
// in [0,D), and pos/neg disjoint. Returns errs.InvariantViolation on any
// violation — this is the single checked boundary; operations below trust
// an STV that passed through here and do not re-validate per spec.md
// §4.B's "checked at construction, not at every op".
func FromIndices(D int, pos, neg []int32) (STV, error) {
	if D <= 0 {
		return STV{}, errs.Wrapf(errs.InvariantViolation, "stv: dimensionality must be positive, got %d", D)
	}
	if err := validateSorted(pos, D); err != nil {
		return STV{}, errs.WrapErr(errs.InvariantViolation, "stv: pos set", err)
	}
	if err := validateSorted(neg, D); err != nil {
		return STV{}, errs.WrapErr(errs.InvariantViolation, "stv: neg set", err)
	}
	if overlaps(pos, neg) {
		return STV{}, errs.Wrap(errs.InvariantViolation, "stv: pos and neg sets are not disjoint")
	}
	p := make([]int32, len(pos))
	copy(p, pos)
	n := make([]int32, len(neg))
	copy(n, neg)
	return STV{D: D, Pos: p, Neg: n}, nil
}

func validateSorted(idx []int32, D int) error {
	for i, v := range idx {
		if v < 0 || int(v) >= D {
			return fmt.Errorf("index %d at position %d out of [0,%d)", v, i, D)
		}
		if i > 0 && idx[i-1] >= v {
			return fmt.Errorf("indices not strictly increasing at position %d (%d >= %d)", i, idx[i-1], v)
		}
	}
	return nil
}

func overlaps(a, b []int32) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return true
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return false
}

// NonzeroCount returns |pos|+|neg|, i.e. the number of nonzero dimensions.
func (v STV) NonzeroCount() int { return len(v.Pos) + len(v.Neg) }

// Sparsity returns NonzeroCount()/D.
func (v STV) Sparsity() float64 {
	if v.D == 0 {
		return 0
	}
	return float64(v.NonzeroCount()) / float64(v.D)
}

// At returns the trit at dimension d: +1, -1, or 0. Uses binary search
// over the sorted index sets (spec §4.C: "never linear contains").
func (v STV) At(d int) int8 {
	if binarySearch(v.Pos, int32(d)) {
		return 1
	}
	if binarySearch(v.Neg, int32(d)) {
		return -1
	}
	return 0
}

func binarySearch(idx []int32, target int32) bool {
	lo, hi := 0, len(idx)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case idx[mid] == target:
			return true
		case idx[mid] < target:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// Equal reports whether a and b have identical dimensionality and index
// sets.
func (v STV) Equal(o STV) bool {
	if v.D != o.D {
		return false
	}
	return int32SliceEqual(v.Pos, o.Pos) && int32SliceEqual(v.Neg, o.Neg)
}

func int32SliceEqual(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// checkSameDimensionality returns errs.InvariantViolation if a and b do
// not share a dimensionality (spec §4.B, "Dimension mismatch between
// operands -> InvariantViolation").
func checkSameDimensionality(a, b STV) error {
	if a.D != b.D {
		return errs.Wrapf(errs.InvariantViolation, "stv: dimension mismatch: %d vs %d", a.D, b.D)
	}
	return nil
}
