// Package index implements the ternary inverted posting-list index (spec
// §4.G): for each dimension, two posting lists (positive, negative) of
// vector IDs, used for sub-linear candidate generation ahead of an exact
// cosine rerank.
//
// Grounded on other_examples' sift/internal/index (candidate store +
// metadata wrapping a backing vector store) and zoekt/indexdata.go
// (posting-list-per-term shape), adapted from token postings to
// per-dimension sign postings. Posting lists are RoaringBitmap/roaring/v2
// bitmaps (erigon-lib require) rather than plain slices: vector IDs are
// assigned dense sequential uint32s at insertion (see idToChunk/chunkToID
// below), so a
// compressed bitmap is both memory-efficient and fast to union/intersect
// if a future caller needs raw set algebra beyond the scored accumulation
// this package performs.
package index

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/kernel"
	"github.com/tzervas/embeddenator-core/stv"
)

// TernaryInvertedIndex is the posting-list index over a fixed set of
// chunk_ids and their STVs (spec §4.G).
type TernaryInvertedIndex struct {
	D            int
	posPostings  []*roaring.Bitmap // len D
	negPostings  []*roaring.Bitmap // len D
	idToChunk    []chunk.ID        // dense uint32 id -> chunk_id
	chunkToID    map[chunk.ID]uint32
}

// New builds an empty index over dimensionality D.
func New(D int) *TernaryInvertedIndex {
	return &TernaryInvertedIndex{
		D:         D,
		chunkToID: make(map[chunk.ID]uint32),
	}
}

// Build constructs a TernaryInvertedIndex from every (chunk_id, STV) pair
// a kernel.VectorStore exposes, assigning dense ids in the store's
// iteration order. For a codebook (btree-backed), that order is ascending
// chunk_id, which keeps id assignment deterministic across runs of the
// same corpus (spec §8 property 9, "Deterministic retrieval").
func Build(store kernel.VectorStore, D int) *TernaryInvertedIndex {
	idx := New(D)
	store.Iter(func(id chunk.ID, v stv.STV) bool {
		idx.insert(id, v)
		return true
	})
	return idx
}

func (idx *TernaryInvertedIndex) insert(id chunk.ID, v stv.STV) {
	if _, ok := idx.chunkToID[id]; ok {
		return
	}
	rid := uint32(len(idx.idToChunk))
	idx.idToChunk = append(idx.idToChunk, id)
	idx.chunkToID[id] = rid

	idx.ensurePostings()
	for _, d := range v.Pos {
		idx.posPostings[d].Add(rid)
	}
	for _, d := range v.Neg {
		idx.negPostings[d].Add(rid)
	}
}

func (idx *TernaryInvertedIndex) ensurePostings() {
	if idx.posPostings != nil {
		return
	}
	idx.posPostings = make([]*roaring.Bitmap, idx.D)
	idx.negPostings = make([]*roaring.Bitmap, idx.D)
	for d := 0; d < idx.D; d++ {
		idx.posPostings[d] = roaring.New()
		idx.negPostings[d] = roaring.New()
	}
}

// Len reports the number of distinct chunk_ids indexed.
func (idx *TernaryInvertedIndex) Len() int { return len(idx.idToChunk) }

// scored is one accumulator slot. Query allocates one zeroed slot for
// every indexed ID; the touched flag and the parallel touched-ID list
// restrict sorting and ranking to the IDs the query actually hit.
type scored struct {
	score   int64
	touched bool
}

// Query accumulates an integer score per candidate ID — +1 for every
// posting agreeing with the query's sign at a dimension, -1 for every
// posting disagreeing — and returns the top-k IDs by score, ties broken
// by ID for determinism (spec §4.G).
func (idx *TernaryInvertedIndex) Query(q stv.STV, k int) []chunk.ID {
	acc := make([]scored, len(idx.idToChunk))
	touchedIDs := make([]uint32, 0, 64)

	add := func(rid uint32, delta int64) {
		if !acc[rid].touched {
			acc[rid].touched = true
			touchedIDs = append(touchedIDs, rid)
		}
		acc[rid].score += delta
	}

	for _, d := range q.Pos {
		idx.posPostings[d].Iterate(func(rid uint32) bool { add(rid, 1); return true })
		idx.negPostings[d].Iterate(func(rid uint32) bool { add(rid, -1); return true })
	}
	for _, d := range q.Neg {
		idx.negPostings[d].Iterate(func(rid uint32) bool { add(rid, 1); return true })
		idx.posPostings[d].Iterate(func(rid uint32) bool { add(rid, -1); return true })
	}

	sort.Slice(touchedIDs, func(i, j int) bool {
		ri, rj := touchedIDs[i], touchedIDs[j]
		if acc[ri].score != acc[rj].score {
			return acc[ri].score > acc[rj].score
		}
		return idx.idToChunk[ri] < idx.idToChunk[rj]
	})

	if k >= 0 && k < len(touchedIDs) {
		touchedIDs = touchedIDs[:k]
	}
	out := make([]chunk.ID, len(touchedIDs))
	for i, rid := range touchedIDs {
		out[i] = idx.idToChunk[rid]
	}
	return out
}

// CandidateIDs returns every chunk_id touched by q's query (i.e. every
// vector sharing at least one nonzero dimension with q), without scoring
// or ordering — the raw candidate set ahead of rerank. Most callers want
// Query or QueryAndRerank instead; this is exposed for components
// (hquery/) that need to compose candidate generation with their own
// merge logic.
func (idx *TernaryInvertedIndex) CandidateIDs(q stv.STV) []chunk.ID {
	seen := roaring.New()
	for _, d := range q.Pos {
		seen.Or(idx.posPostings[d])
		seen.Or(idx.negPostings[d])
	}
	for _, d := range q.Neg {
		seen.Or(idx.posPostings[d])
		seen.Or(idx.negPostings[d])
	}
	out := make([]chunk.ID, 0, seen.GetCardinality())
	seen.Iterate(func(rid uint32) bool {
		out = append(out, idx.idToChunk[rid])
		return true
	})
	return out
}

// QueryAndRerank runs Query for a wider candidate pool (fanOut*k, or all
// touched IDs if smaller), then reranks that pool by exact cosine via
// backend/store, returning the true top-k (spec §4.G: "Rerank. Compute
// exact cosine against the top candidates using the codebook").
func (idx *TernaryInvertedIndex) QueryAndRerank(backend kernel.VsaBackend, store kernel.VectorStore, q stv.STV, k, fanOut int) ([]kernel.Candidate, error) {
	poolSize := k * fanOut
	if poolSize <= 0 || poolSize > len(idx.idToChunk) {
		poolSize = len(idx.idToChunk)
	}
	candidates := idx.Query(q, poolSize)
	return kernel.RerankTopKByCosine(backend, store, q, candidates, k)
}
