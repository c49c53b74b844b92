package stv

import (
	"encoding/binary"
	"math/rand"
	"sort"

	"github.com/spaolacci/murmur3"
)

// Seed derives a 64-bit subkey from a master seed and an arbitrary byte
// label, via murmur3 (spec §5, "RNG... derives from a caller-supplied
// master seed plus a per-task deterministic subkey"). Grounded on
// other_examples' hdc-encoder.go symbolTable, which mixes a namespace
// seed with a per-symbol key via a multiplicative hash; murmur3 replaces
// that ad hoc mix with a stronger, still-deterministic avalanche.
func Seed(masterSeed uint64, label []byte) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], masterSeed)
	h := murmur3.New64WithSeed(uint32(masterSeed ^ (masterSeed >> 32)))
	h.Write(buf[:])
	h.Write(label)
	return h.Sum64()
}

// Random returns a deterministic sparse ternary vector of dimensionality
// D with sparsity approximately `sparsity`, generated from seed. Equal
// (D, sparsity, seed) always yields an equal STV: RNGs are never shared
// across threads (spec §5) since each call constructs its own
// math/rand.Rand from the derived seed.
func Random(D int, sparsity float64, seed uint64) STV {
	if D <= 0 {
		return STV{}
	}
	count := int(float64(D) * sparsity)
	if count == 0 && sparsity > 0 {
		count = 1
	}
	if count > D {
		count = D
	}
	rng := rand.New(rand.NewSource(int64(seed)))
	chosen := rng.Perm(D)[:count]
	sort.Slice(chosen, func(i, j int) bool { return chosen[i] < chosen[j] })

	var pos, neg []int32
	for _, d := range chosen {
		if rng.Intn(2) == 0 {
			pos = append(pos, int32(d))
		} else {
			neg = append(neg, int32(d))
		}
	}
	sort.Slice(pos, func(i, j int) bool { return pos[i] < pos[j] })
	sort.Slice(neg, func(i, j int) bool { return neg[i] < neg[j] })
	return STV{D: D, Pos: pos, Neg: neg}
}

// RoleVector derives a deterministic "role" STV for a path prefix and
// hierarchy level (spec §4.B glossary: "role/filler"; §4.F, §4.I). Two
// calls with the same (masterSeed, prefix, level, D, sparsity) always produce the
// same role, independent of process or goroutine.
func RoleVector(masterSeed uint64, prefix string, level int, D int, sparsity float64) STV {
	label := append([]byte(prefix), byte(level))
	seed := Seed(masterSeed, label)
	return Random(D, sparsity, seed)
}
