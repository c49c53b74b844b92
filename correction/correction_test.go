package correction

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tzervas/embeddenator-core/chunk"
)

func TestComputeApplyRoundTrip(t *testing.T) {
	original := []byte("the quick brown fox")
	decoded := []byte("the brick brown fax")
	rec := Compute(original, decoded)
	got, err := rec.Apply(decoded)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func TestComputeIdenticalYieldsNoDiffs(t *testing.T) {
	data := []byte("identical")
	rec := Compute(data, data)
	require.Empty(t, rec.Diffs)
	require.Nil(t, rec.Dense)
	got, err := rec.Apply(data)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestComputeFallsBackToDenseWhenMostlyDifferent(t *testing.T) {
	original := []byte("aaaaaaaaaa")
	decoded := []byte("bbbbbbbbbb")
	rec := Compute(original, decoded)
	require.NotNil(t, rec.Dense)
	got, err := rec.Apply(decoded)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func TestComputeHandlesShortDecoded(t *testing.T) {
	original := []byte("abcdef")
	decoded := []byte("abc")
	rec := Compute(original, decoded)
	require.NotNil(t, rec.Dense)
}

func TestStorePutIdempotent(t *testing.T) {
	s := NewStore()
	id := chunk.ID("c1")
	rec := Record{Size: 3, Diffs: []Diff{{Offset: 1, XOR: 0xFF}}}
	require.NoError(t, s.Put(id, rec))
	require.NoError(t, s.Put(id, rec))
	require.Equal(t, 2, s.RefCount(id))
	require.Equal(t, 1, s.Len())
}

func TestStorePutRejectsConflictingRecord(t *testing.T) {
	s := NewStore()
	id := chunk.ID("c1")
	require.NoError(t, s.Put(id, Record{Size: 3}))
	err := s.Put(id, Record{Size: 4})
	require.Error(t, err)
}

func TestStoreReleaseDropsAtZeroRefcount(t *testing.T) {
	s := NewStore()
	id := chunk.ID("c1")
	rec := Record{Size: 3}
	require.NoError(t, s.Put(id, rec))
	require.NoError(t, s.Put(id, rec))
	require.Equal(t, 2, s.RefCount(id))

	s.Release(id)
	require.Equal(t, 1, s.RefCount(id))
	_, ok := s.Get(id)
	require.True(t, ok)

	s.Release(id)
	require.Equal(t, 0, s.RefCount(id))
	_, ok = s.Get(id)
	require.False(t, ok)
}

func TestVerifierAcceptsCorrectedBytes(t *testing.T) {
	original := []byte("lossy decode target")
	decoded := []byte("l0ssy dec0de targe7")
	rec := Compute(original, decoded)
	v := Verifier{}
	require.NoError(t, v.Verify(chunk.ID("x"), original, decoded, rec))
}

func TestVerifierRejectsWrongRecord(t *testing.T) {
	original := []byte("abc")
	decoded := []byte("abd")
	rec := Compute([]byte("abc"), []byte("abc")) // no-op record, wrong for this decoded
	v := Verifier{}
	err := v.Verify(chunk.ID("x"), original, decoded, rec)
	require.Error(t, err)
}
