package stv

import (
	"math"
	"sort"
	"sync"

	"github.com/tzervas/embeddenator-core/errs"
)

// int32ScratchPool holds reusable per-dimension int32 accumulators for
// BundleSumMany (spec §5, "Per-thread scratch buffers... reused via
// thread-local storage" — sync.Pool is the idiomatic Go analogue).
var int32ScratchPool = sync.Pool{
	New: func() any { return new([]int32) },
}

func getInt32Scratch(n int) []int32 {
	buf := int32ScratchPool.Get().(*[]int32)
	if cap(*buf) < n {
		*buf = make([]int32, n)
	}
	s := (*buf)[:n]
	for i := range s {
		s[i] = 0
	}
	return s
}

func putInt32Scratch(s []int32) {
	int32ScratchPool.Put(&s)
}

// Bundle computes the pairwise superposition of a and b (spec §4.B): a
// dimension where both agree keeps that sign; a dimension where they
// conflict is cancelled from both sets; a dimension present in only one
// keeps its sign. Commutative but NOT associative across >=3 vectors — use
// BundleSumMany for that.
func Bundle(a, b STV) (STV, error) {
	if err := checkSameDimensionality(a, b); err != nil {
		return STV{}, err
	}
	if a.D/4 > 0 && a.NonzeroCount() > a.D/4 && b.NonzeroCount() > a.D/4 {
		return bundleDense(a, b), nil
	}
	// agree-positive: in both a.Pos and b.Pos
	aggPos := intersect(a.Pos, b.Pos)
	aggNeg := intersect(a.Neg, b.Neg)
	// conflicts are removed entirely from the output, from both sides
	conflictA := intersect(a.Pos, b.Neg)
	conflictB := intersect(a.Neg, b.Pos)
	// present only in one: a.Pos not in b at all (neither pos nor neg-conflict already excluded),
	// i.e. a.Pos minus (b.Pos union b.Neg)
	onlyAPos := difference(a.Pos, union(b.Pos, b.Neg))
	onlyBPos := difference(b.Pos, union(a.Pos, a.Neg))
	onlyANeg := difference(a.Neg, union(b.Pos, b.Neg))
	onlyBNeg := difference(b.Neg, union(a.Pos, a.Neg))

	pos := sortedMerge(aggPos, onlyAPos, onlyBPos)
	neg := sortedMerge(aggNeg, onlyANeg, onlyBNeg)
	_ = conflictA
	_ = conflictB
	return STV{D: a.D, Pos: pos, Neg: neg}, nil
}

// sortedMerge merges already-sorted, pairwise-disjoint slices into one
// sorted slice.
func sortedMerge(parts ...[]int32) []int32 {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]int32, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BundleSumMany computes the majority-over-many superposition (spec
// §4.B): for each dimension, sum signs across every input; the output
// trit is sign(sum), 0 on a tie. Associative and order-independent.
func BundleSumMany(xs []STV) (STV, error) {
	if len(xs) == 0 {
		return STV{}, errs.Wrap(errs.InvariantViolation, "stv: BundleSumMany: no inputs")
	}
	D := xs[0].D
	for _, x := range xs[1:] {
		if err := checkSameDimensionality(xs[0], x); err != nil {
			return STV{}, err
		}
	}
	// int32 accumulator since len(xs) trits can sum past int8 range
	acc := getInt32Scratch(D)
	defer putInt32Scratch(acc)
	for _, x := range xs {
		for _, p := range x.Pos {
			acc[p]++
		}
		for _, n := range x.Neg {
			acc[n]--
		}
	}
	var pos, neg []int32
	for d, s := range acc {
		switch {
		case s > 0:
			pos = append(pos, int32(d))
		case s < 0:
			neg = append(neg, int32(d))
		}
	}
	return STV{D: D, Pos: pos, Neg: neg}, nil
}

// SumMany computes the same per-dimension signed sums BundleSumMany uses
// internally, but returns them directly instead of collapsing each to a
// trit — the magnitude signal hbuild/ needs to rank dimensions before
// thinning a hierarchical node to max_level_sparsity (spec §4.I: "drop
// smallest-magnitude contributions").
func SumMany(xs []STV) (sums []int32, D int, err error) {
	if len(xs) == 0 {
		return nil, 0, errs.Wrap(errs.InvariantViolation, "stv: SumMany: no inputs")
	}
	D = xs[0].D
	for _, x := range xs[1:] {
		if err := checkSameDimensionality(xs[0], x); err != nil {
			return nil, 0, err
		}
	}
	sums = make([]int32, D)
	for _, x := range xs {
		for _, p := range x.Pos {
			sums[p]++
		}
		for _, n := range x.Neg {
			sums[n]--
		}
	}
	return sums, D, nil
}

// Thin converts a per-dimension sum vector (as returned by SumMany) into
// an STV carrying only the maxNonzero dimensions with the largest |sum|,
// ties broken by ascending dimension index (spec §4.I, deterministic
// thinning). maxNonzero <= 0 means "no thinning": every nonzero-sum
// dimension survives, equivalent to collapsing signs directly.
func Thin(sums []int32, D int, maxNonzero int) STV {
	type candidate struct {
		dim int32
		mag int32
		sum int32
	}
	cands := make([]candidate, 0, D)
	for d, s := range sums {
		if s != 0 {
			mag := s
			if mag < 0 {
				mag = -mag
			}
			cands = append(cands, candidate{dim: int32(d), mag: mag, sum: s})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].mag != cands[j].mag {
			return cands[i].mag > cands[j].mag
		}
		return cands[i].dim < cands[j].dim
	})
	if maxNonzero > 0 && len(cands) > maxNonzero {
		cands = cands[:maxNonzero]
	}
	var pos, neg []int32
	for _, c := range cands {
		if c.sum > 0 {
			pos = append(pos, c.dim)
		} else {
			neg = append(neg, c.dim)
		}
	}
	sort.Slice(pos, func(i, j int) bool { return pos[i] < pos[j] })
	sort.Slice(neg, func(i, j int) bool { return neg[i] < neg[j] })
	return STV{D: D, Pos: pos, Neg: neg}
}

// BundleHybrid chooses between Bundle and BundleSumMany based on the
// estimated number of dimension conflicts across the inputs: when that
// estimate exceeds collisionBudget, it uses BundleSumMany to preserve
// associativity on a multi-way bundle (spec §4.B, §9 Open Questions).
// collisionBudget is caller-supplied (config.VsaConfig.
// HybridBundleCollisionBudget), not a hardcoded constant.
func BundleHybrid(xs []STV, collisionBudget int) (STV, error) {
	if len(xs) == 0 {
		return STV{}, errs.Wrap(errs.InvariantViolation, "stv: BundleHybrid: no inputs")
	}
	if len(xs) <= 2 {
		if len(xs) == 1 {
			return xs[0], nil
		}
		return Bundle(xs[0], xs[1])
	}
	conflicts := estimateConflicts(xs)
	if conflicts > collisionBudget {
		return BundleSumMany(xs)
	}
	acc := xs[0]
	var err error
	for _, x := range xs[1:] {
		acc, err = Bundle(acc, x)
		if err != nil {
			return STV{}, err
		}
	}
	return acc, nil
}

// estimateConflicts sums, over every unordered pair of inputs, the count
// of dimensions where one has +1 and the other -1 (the pairwise-bundle
// cancellation condition).
func estimateConflicts(xs []STV) int {
	total := 0
	for i := 0; i < len(xs); i++ {
		for j := i + 1; j < len(xs); j++ {
			total += intersectCount(xs[i].Pos, xs[j].Neg)
			total += intersectCount(xs[i].Neg, xs[j].Pos)
		}
	}
	return total
}

// Bind computes the sign-multiplying convolution of a and b (spec §4.B):
// c.pos = (a.pos ∩ b.pos) ∪ (a.neg ∩ b.neg); c.neg = (a.pos ∩ b.neg) ∪
// (a.neg ∩ b.pos). Approximately invertible: Bind(Bind(a,b), b) ≈ a for
// random b.
func Bind(a, b STV) (STV, error) {
	if err := checkSameDimensionality(a, b); err != nil {
		return STV{}, err
	}
	if a.D/4 > 0 && a.NonzeroCount() > a.D/4 && b.NonzeroCount() > a.D/4 {
		return bindDense(a, b), nil
	}
	pos := sortedMerge(intersect(a.Pos, b.Pos), intersect(a.Neg, b.Neg))
	neg := sortedMerge(intersect(a.Pos, b.Neg), intersect(a.Neg, b.Pos))
	return STV{D: a.D, Pos: pos, Neg: neg}, nil
}

// Permute cyclically rotates every index by k (mod D). Distributes over
// Bundle and Bind; used to bind a role derived from a path prefix and
// hierarchy level to a filler STV (spec §4.B).
func Permute(v STV, k int) STV {
	if v.D == 0 {
		return v
	}
	shift := ((k % v.D) + v.D) % v.D
	pos := rotateIndices(v.Pos, shift, v.D)
	neg := rotateIndices(v.Neg, shift, v.D)
	return STV{D: v.D, Pos: pos, Neg: neg}
}

func rotateIndices(idx []int32, shift, D int) []int32 {
	if len(idx) == 0 {
		return nil
	}
	out := make([]int32, len(idx))
	for i, v := range idx {
		out[i] = int32((int(v) + shift) % D)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Cosine computes cosine similarity in [-1,1] (spec §4.B):
// (|pos_a∩pos_b| + |neg_a∩neg_b| - |pos_a∩neg_b| - |neg_a∩pos_b|) /
// sqrt(|a|*|b|), where |v| is the nonzero count.
func Cosine(a, b STV) (float64, error) {
	if err := checkSameDimensionality(a, b); err != nil {
		return 0, err
	}
	na, nb := a.NonzeroCount(), b.NonzeroCount()
	if na == 0 || nb == 0 {
		return 0, nil
	}
	agree := intersectCount(a.Pos, b.Pos) + intersectCount(a.Neg, b.Neg)
	disagree := intersectCount(a.Pos, b.Neg) + intersectCount(a.Neg, b.Pos)
	num := float64(agree - disagree)
	den := math.Sqrt(float64(na) * float64(nb))
	return num / den, nil
}
