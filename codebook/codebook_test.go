package codebook

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/stv"
)

func TestInsertGetContains(t *testing.T) {
	cb := New()
	v := stv.Random(100, 0.05, 1)
	require.NoError(t, cb.Insert("a", v))
	require.True(t, cb.Contains("a"))
	got, ok := cb.Get("a")
	require.True(t, ok)
	require.True(t, got.Equal(v))
}

func TestInsertIdempotent(t *testing.T) {
	cb := New()
	v := stv.Random(100, 0.05, 1)
	require.NoError(t, cb.Insert("a", v))
	require.NoError(t, cb.Insert("a", v))
	require.Equal(t, 2, cb.RefCount("a"))
	require.Equal(t, 1, cb.Len())
}

func TestInsertRejectsConflictingVector(t *testing.T) {
	cb := New()
	v1 := stv.Random(100, 0.05, 1)
	v2 := stv.Random(100, 0.05, 2)
	require.NoError(t, cb.Insert("a", v1))
	err := cb.Insert("a", v2)
	require.Error(t, err)
}

func TestIterIsSortedByChunkID(t *testing.T) {
	cb := New()
	ids := []chunk.ID{"z", "m", "a", "q"}
	for i, id := range ids {
		require.NoError(t, cb.Insert(id, stv.Random(50, 0.1, uint64(i))))
	}
	var got []chunk.ID
	cb.Iter(func(id chunk.ID, _ stv.STV) bool {
		got = append(got, id)
		return true
	})
	require.Equal(t, []chunk.ID{"a", "m", "q", "z"}, got)
}

func TestReleaseAndDelete(t *testing.T) {
	cb := New()
	v := stv.Random(50, 0.1, 1)
	require.NoError(t, cb.Insert("a", v))
	require.NoError(t, cb.Insert("a", v))
	require.False(t, cb.Release("a"))
	require.True(t, cb.Release("a"))
	require.True(t, cb.Contains("a")) // Release doesn't delete by itself
	cb.Delete("a")
	require.False(t, cb.Contains("a"))
}
