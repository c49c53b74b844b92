package ternary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackUnpackWordRoundTrip(t *testing.T) {
	trits := make([]int8, TritsPerWord)
	for i := range trits {
		trits[i] = int8(i%3) - 1
	}
	w, err := PackWord(trits)
	require.NoError(t, err)

	got := w.Unpack()
	for i := range trits {
		require.Equalf(t, trits[i], got[i], "trit %d", i)
	}
}

func TestWordAtMatchesUnpack(t *testing.T) {
	trits := []int8{1, -1, 0, 1, 1, -1, 0, 0}
	w, err := PackWord(trits)
	require.NoError(t, err)
	unpacked := w.Unpack()
	for i := range trits {
		require.Equal(t, unpacked[i], w.At(i))
	}
}

func TestPackWordRejectsOutOfRange(t *testing.T) {
	_, err := PackWord([]int8{2})
	require.Error(t, err)
}

func TestPackWordRejectsOverCapacity(t *testing.T) {
	_, err := PackWord(make([]int8, TritsPerWord+1))
	require.Error(t, err)
}

func TestLiftLowerBytesRoundTrip(t *testing.T) {
	data := []byte("Hello, World!\n")
	trits := LiftBytes(data)
	require.Len(t, trits, len(data)*5)

	back, err := LowerTrits(trits)
	require.NoError(t, err)
	require.Equal(t, data, back)
}

func TestLiftLowerAllByteValues(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	trits := LiftBytes(data)
	back, err := LowerTrits(trits)
	require.NoError(t, err)
	require.Equal(t, data, back)
}

func TestLowerTritsRejectsBadLength(t *testing.T) {
	_, err := LowerTrits([]int8{1, 0, -1})
	require.Error(t, err)
}

func TestSaturatingAdd(t *testing.T) {
	cases := []struct{ a, b, want int8 }{
		{-1, -1, -1},
		{1, 1, 1},
		{1, -1, 0},
		{0, 0, 0},
		{1, 0, 1},
		{-1, 0, -1},
	}
	for _, c := range cases {
		require.Equal(t, c.want, SaturatingAdd(c.a, c.b))
	}
}

func TestMultiply(t *testing.T) {
	require.Equal(t, int8(-1), Multiply(-1, 1))
	require.Equal(t, int8(0), Multiply(0, 1))
	require.Equal(t, int8(1), Multiply(-1, -1))
}

func TestCountNonzero(t *testing.T) {
	require.Equal(t, 3, CountNonzero([]int8{1, 0, -1, 0, 1}))
}
