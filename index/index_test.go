package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/codebook"
	"github.com/tzervas/embeddenator-core/kernel"
	"github.com/tzervas/embeddenator-core/stv"
)

func buildStore(t *testing.T, n int, D int) (*codebook.Codebook, []chunk.ID) {
	t.Helper()
	cb := codebook.New()
	ids := make([]chunk.ID, n)
	for i := 0; i < n; i++ {
		id := chunk.ID("c" + string(rune('a'+i)))
		v := stv.Random(D, 0.02, uint64(i+1))
		require.NoError(t, cb.Insert(id, v))
		ids[i] = id
	}
	return cb, ids
}

func TestBuildAndLen(t *testing.T) {
	cb, ids := buildStore(t, 5, 200)
	idx := Build(cb, 200)
	require.Equal(t, len(ids), idx.Len())
}

func TestQueryReturnsExactMatchFirst(t *testing.T) {
	cb, ids := buildStore(t, 20, 300)
	idx := Build(cb, 300)

	target, _ := cb.Get(ids[3])
	results := idx.Query(target, 3)
	require.NotEmpty(t, results)
	require.Equal(t, ids[3], results[0])
}

func TestCandidateIDsIncludesExactMatch(t *testing.T) {
	cb, ids := buildStore(t, 10, 200)
	idx := Build(cb, 200)
	target, _ := cb.Get(ids[2])
	cands := idx.CandidateIDs(target)
	require.Contains(t, cands, ids[2])
}

func TestQueryAndRerankMatchesBruteForceCosine(t *testing.T) {
	cb, ids := buildStore(t, 15, 400)
	idx := Build(cb, 400)
	backend := kernel.DefaultBackend{}

	target, _ := cb.Get(ids[7])
	got, err := idx.QueryAndRerank(backend, cb, target, 5, 100)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.Equal(t, ids[7], got[0].ID)
	require.InDelta(t, 1.0, got[0].Score, 1e-9)

	for i := 1; i < len(got); i++ {
		require.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestQueryDeterministicTieBreakByID(t *testing.T) {
	cb := codebook.New()
	// Two identical vectors under different ids: scores tie, order must
	// be by ascending chunk_id.
	v := stv.Random(100, 0.05, 42)
	require.NoError(t, cb.Insert(chunk.ID("z"), v))
	require.NoError(t, cb.Insert(chunk.ID("a"), v))
	idx := Build(cb, 100)

	got := idx.Query(v, 2)
	require.Equal(t, []chunk.ID{chunk.ID("a"), chunk.ID("z")}, got)
}
