package stv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustSTV(t *testing.T, D int, pos, neg []int32) STV {
	t.Helper()
	v, err := FromIndices(D, pos, neg)
	require.NoError(t, err)
	return v
}

func TestFromIndicesRejectsUnsorted(t *testing.T) {
	_, err := FromIndices(10, []int32{2, 1}, nil)
	require.Error(t, err)
}

func TestFromIndicesRejectsOutOfRange(t *testing.T) {
	_, err := FromIndices(10, []int32{10}, nil)
	require.Error(t, err)
}

func TestFromIndicesRejectsOverlap(t *testing.T) {
	_, err := FromIndices(10, []int32{3}, []int32{3})
	require.Error(t, err)
}

func TestBundleCommutative(t *testing.T) {
	a := mustSTV(t, 20, []int32{1, 3, 5}, []int32{7, 9})
	b := mustSTV(t, 20, []int32{3, 7}, []int32{1, 11})
	ab, err := Bundle(a, b)
	require.NoError(t, err)
	ba, err := Bundle(b, a)
	require.NoError(t, err)
	require.True(t, ab.Equal(ba))
}

func TestBundleCancelsConflict(t *testing.T) {
	a := mustSTV(t, 10, []int32{3}, nil)
	b := mustSTV(t, 10, nil, []int32{3})
	c, err := Bundle(a, b)
	require.NoError(t, err)
	require.Equal(t, int8(0), c.At(3))
}

func TestBundleAgreeKeepsSign(t *testing.T) {
	a := mustSTV(t, 10, []int32{3}, nil)
	b := mustSTV(t, 10, []int32{3}, nil)
	c, err := Bundle(a, b)
	require.NoError(t, err)
	require.Equal(t, int8(1), c.At(3))
}

func TestBundleLoneDimensionPassesThrough(t *testing.T) {
	a := mustSTV(t, 10, []int32{3}, nil)
	b := mustSTV(t, 10, nil, nil)
	c, err := Bundle(a, b)
	require.NoError(t, err)
	require.Equal(t, int8(1), c.At(3))
}

func TestBundleSumManyOrderIndependent(t *testing.T) {
	vs := make([]STV, 5)
	for i := range vs {
		vs[i] = Random(200, 0.05, uint64(i+1))
	}
	a, err := BundleSumMany(vs)
	require.NoError(t, err)

	perm := []STV{vs[4], vs[0], vs[3], vs[1], vs[2]}
	b, err := BundleSumMany(perm)
	require.NoError(t, err)
	require.True(t, a.Equal(b))
}

func TestBindInvertible(t *testing.T) {
	a := Random(10000, 0.01, 1)
	b := Random(10000, 0.01, 2)
	bound, err := Bind(a, b)
	require.NoError(t, err)
	back, err := Bind(bound, b)
	require.NoError(t, err)
	cos, err := Cosine(back, a)
	require.NoError(t, err)
	require.GreaterOrEqual(t, cos, 0.5)
}

func TestPermuteDistributesOverBind(t *testing.T) {
	a := Random(500, 0.05, 10)
	b := Random(500, 0.05, 20)
	bound, err := Bind(a, b)
	require.NoError(t, err)
	permBound := Permute(bound, 7)

	permA := Permute(a, 7)
	permB := Permute(b, 7)
	boundPerm, err := Bind(permA, permB)
	require.NoError(t, err)
	require.True(t, permBound.Equal(boundPerm))
}

func TestPermuteRoundTrip(t *testing.T) {
	a := Random(500, 0.05, 30)
	shifted := Permute(a, 13)
	back := Permute(shifted, 500-13)
	require.True(t, a.Equal(back))
}

func TestCosineSelfIsOne(t *testing.T) {
	a := Random(10000, 0.01, 42)
	c, err := Cosine(a, a)
	require.NoError(t, err)
	require.InDelta(t, 1.0, c, 1e-10)
}

func TestCosineSymmetric(t *testing.T) {
	a := Random(1000, 0.02, 1)
	b := Random(1000, 0.02, 2)
	ab, err := Cosine(a, b)
	require.NoError(t, err)
	ba, err := Cosine(b, a)
	require.NoError(t, err)
	require.InDelta(t, ab, ba, 1e-12)
}

func TestCosineBounded(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		a := Random(1000, 0.05, seed)
		b := Random(1000, 0.05, seed+100)
		c, err := Cosine(a, b)
		require.NoError(t, err)
		require.True(t, c >= -1-1e-9 && c <= 1+1e-9)
	}
}

func TestDimensionMismatchIsInvariantViolation(t *testing.T) {
	a := New(10)
	b := New(20)
	_, err := Bundle(a, b)
	require.Error(t, err)
	_, err = Bind(a, b)
	require.Error(t, err)
	_, err = Cosine(a, b)
	require.Error(t, err)
}

func TestDensePathMatchesSparsePathForBundle(t *testing.T) {
	D := 400
	a := Random(D, 0.4, 5) // dense: > D/4 nonzero
	b := Random(D, 0.4, 6)
	dense := bundleDense(a, b)

	// force sparse path by calling the sparse algorithm directly
	aggPos := intersect(a.Pos, b.Pos)
	aggNeg := intersect(a.Neg, b.Neg)
	onlyAPos := difference(a.Pos, union(b.Pos, b.Neg))
	onlyBPos := difference(b.Pos, union(a.Pos, a.Neg))
	onlyANeg := difference(a.Neg, union(b.Pos, b.Neg))
	onlyBNeg := difference(b.Neg, union(a.Pos, a.Neg))
	sparse := STV{
		D:   D,
		Pos: sortedMerge(aggPos, onlyAPos, onlyBPos),
		Neg: sortedMerge(aggNeg, onlyANeg, onlyBNeg),
	}
	require.True(t, dense.Equal(sparse))
}

func TestDensePathMatchesSparsePathForBind(t *testing.T) {
	D := 400
	a := Random(D, 0.4, 7)
	b := Random(D, 0.4, 8)
	dense := bindDense(a, b)
	sparse := STV{
		D:   D,
		Pos: sortedMerge(intersect(a.Pos, b.Pos), intersect(a.Neg, b.Neg)),
		Neg: sortedMerge(intersect(a.Pos, b.Neg), intersect(a.Neg, b.Pos)),
	}
	require.True(t, dense.Equal(sparse))
}

func TestRandomDeterministic(t *testing.T) {
	a := Random(1000, 0.01, 99)
	b := Random(1000, 0.01, 99)
	require.True(t, a.Equal(b))
}

func TestRoleVectorDeterministic(t *testing.T) {
	a := RoleVector(1, "src/main.go", 2, 1000, 0.01)
	b := RoleVector(1, "src/main.go", 2, 1000, 0.01)
	require.True(t, a.Equal(b))

	c := RoleVector(1, "src/other.go", 2, 1000, 0.01)
	require.False(t, a.Equal(c))
}

func TestBundleHybridPicksSumManyAboveBudget(t *testing.T) {
	// Construct vectors guaranteed to collide heavily: a and b are +1 on
	// dims 0-9 and c is -1 on every one of them. SumMany keeps +1 on all
	// ten (2 votes to 1), while folding pairwise Bundle left to right
	// would cancel them all, so the equality below shows which path ran.
	pos := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	a := mustSTV(t, 20, pos, nil)
	negAll := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	b := mustSTV(t, 20, pos, nil)
	c := mustSTV(t, 20, nil, negAll)

	out, err := BundleHybrid([]STV{a, b, c}, 1)
	require.NoError(t, err)
	want, err := BundleSumMany([]STV{a, b, c})
	require.NoError(t, err)
	require.True(t, out.Equal(want))
}

func TestBundleHybridSingleInput(t *testing.T) {
	a := Random(100, 0.05, 1)
	out, err := BundleHybrid([]STV{a}, 32)
	require.NoError(t, err)
	require.True(t, out.Equal(a))
}

func TestNonzeroCountAndSparsity(t *testing.T) {
	a := mustSTV(t, 100, []int32{1, 2, 3}, []int32{50})
	require.Equal(t, 4, a.NonzeroCount())
	require.InDelta(t, 0.04, a.Sparsity(), 1e-9)
}

func TestAtOutOfBandIsZero(t *testing.T) {
	a := mustSTV(t, 10, []int32{3}, nil)
	require.Equal(t, int8(0), a.At(7))
}

func TestSumManyAndThin(t *testing.T) {
	a := mustSTV(t, 10, []int32{1, 2, 3}, nil)
	b := mustSTV(t, 10, []int32{1, 2}, []int32{4})
	c := mustSTV(t, 10, []int32{1}, []int32{4})

	sums, D, err := SumMany([]STV{a, b, c})
	require.NoError(t, err)
	require.Equal(t, 10, D)
	// dim 1: +1+1+1=3, dim2: +1+1=2, dim3: +1, dim4: -1-1=-2
	require.Equal(t, int32(3), sums[1])
	require.Equal(t, int32(2), sums[2])
	require.Equal(t, int32(1), sums[3])
	require.Equal(t, int32(-2), sums[4])

	thinned := Thin(sums, D, 2)
	require.Equal(t, 2, thinned.NonzeroCount())
	// dims 2 and 4 tie at |2|; the lower dimension index wins the tie.
	require.Contains(t, thinned.Pos, int32(1))
	require.Contains(t, thinned.Pos, int32(2))
}

func TestThinNoLimitKeepsAllNonzero(t *testing.T) {
	sums := []int32{0, 3, -1, 0, 2}
	thinned := Thin(sums, 5, 0)
	require.Equal(t, 3, thinned.NonzeroCount())
}

func TestThinTieBreaksByDimensionIndex(t *testing.T) {
	sums := []int32{2, 2, 2, 0, 0}
	thinned := Thin(sums, 5, 2)
	require.Equal(t, []int32{0, 1}, thinned.Pos)
}
