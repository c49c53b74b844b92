package stv

import (
	"sync"

	"github.com/tzervas/embeddenator-core/ternary"
)

// wordsFor returns ceil(D/TritsPerWord).
func wordsFor(D int) int {
	return (D + ternary.TritsPerWord - 1) / ternary.TritsPerWord
}

// wordScratchPool holds reusable packed-trit word buffers (spec §4.B,
// "packed-trit fast path using scratch buffers reused per thread").
// sync.Pool is the idiomatic Go stand-in for erigon-style thread-local
// scratch — a goroutine borrows a buffer, uses it, and returns it.
var wordScratchPool = sync.Pool{
	New: func() any { return new([]ternary.Word) },
}

func getWordScratch(n int) []ternary.Word {
	buf := wordScratchPool.Get().(*[]ternary.Word)
	if cap(*buf) < n {
		*buf = make([]ternary.Word, n)
	}
	s := (*buf)[:n]
	for i := range s {
		s[i] = 0
	}
	return s
}

func putWordScratch(s []ternary.Word) {
	wordScratchPool.Put(&s)
}

// toPackedWords packs v's index sets into a dense trit-word
// representation of length wordsFor(v.D).
func toPackedWords(v STV, dst []ternary.Word) {
	group := make([]int8, ternary.TritsPerWord)
	pi, ni := 0, 0
	for w := range dst {
		base := w * ternary.TritsPerWord
		n := ternary.TritsPerWord
		if base+n > v.D {
			n = v.D - base
		}
		for i := 0; i < n; i++ {
			group[i] = 0
		}
		for pi < len(v.Pos) && int(v.Pos[pi]) < base+n {
			group[int(v.Pos[pi])-base] = 1
			pi++
		}
		for ni < len(v.Neg) && int(v.Neg[ni]) < base+n {
			group[int(v.Neg[ni])-base] = -1
			ni++
		}
		packed, err := ternary.PackWord(group[:n])
		if err != nil {
			// group values are always in {-1,0,1} by construction above.
			panic("stv: internal: " + err.Error())
		}
		dst[w] = packed
	}
}

// fromPackedWords extracts sparse pos/neg index sets from a dense
// trit-word representation covering dimensionality D.
func fromPackedWords(words []ternary.Word, D int) (pos, neg []int32) {
	for w, word := range words {
		base := w * ternary.TritsPerWord
		n := ternary.TritsPerWord
		if base+n > D {
			n = D - base
		}
		if n <= 0 {
			break
		}
		unpacked := word.Unpack()
		for i := 0; i < n; i++ {
			switch unpacked[i] {
			case 1:
				pos = append(pos, int32(base+i))
			case -1:
				neg = append(neg, int32(base+i))
			}
		}
	}
	return pos, neg
}

// bundleDense computes pairwise Bundle via the packed-trit path:
// elementwise SaturatingAdd is exactly the pairwise-bundle rule (agree
// keeps sign, conflict cancels to 0, lone nonzero passes through).
func bundleDense(a, b STV) STV {
	n := wordsFor(a.D)
	aw := getWordScratch(n)
	defer putWordScratch(aw)
	bw := getWordScratch(n)
	defer putWordScratch(bw)
	toPackedWords(a, aw)
	toPackedWords(b, bw)

	out := getWordScratch(n)
	defer putWordScratch(out)
	combineWords(aw, bw, out, a.D, ternary.SaturatingAdd)

	pos, neg := fromPackedWords(out, a.D)
	return STV{D: a.D, Pos: pos, Neg: neg}
}

// bindDense computes Bind via the packed-trit path: elementwise
// Multiply matches the sign-multiplying convolution rule exactly.
func bindDense(a, b STV) STV {
	n := wordsFor(a.D)
	aw := getWordScratch(n)
	defer putWordScratch(aw)
	bw := getWordScratch(n)
	defer putWordScratch(bw)
	toPackedWords(a, aw)
	toPackedWords(b, bw)

	out := getWordScratch(n)
	defer putWordScratch(out)
	combineWords(aw, bw, out, a.D, ternary.Multiply)

	pos, neg := fromPackedWords(out, a.D)
	return STV{D: a.D, Pos: pos, Neg: neg}
}

func combineWords(a, b, out []ternary.Word, D int, op func(x, y int8) int8) {
	group := make([]int8, ternary.TritsPerWord)
	for w := range out {
		base := w * ternary.TritsPerWord
		n := ternary.TritsPerWord
		if base+n > D {
			n = D - base
		}
		au := a[w].Unpack()
		bu := b[w].Unpack()
		for i := 0; i < n; i++ {
			group[i] = op(au[i], bu[i])
		}
		packed, err := ternary.PackWord(group[:n])
		if err != nil {
			panic("stv: internal: " + err.Error())
		}
		out[w] = packed
	}
}
