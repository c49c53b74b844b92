// Package kernel defines the two narrow interop seams that isolate
// components A-J from their callers (spec §4.K, §9 "Dynamic dispatch"):
// VsaBackend and VectorStore. Both are small (<=5 operations) by design,
// to avoid a plugin-framework tar pit.
package kernel

import (
	"sort"

	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/stv"
)

// VsaBackend is the encode/bundle/bind/cosine contract. The default
// backend (DefaultBackend, below) delegates straight to stv/; a packed backend is
// plug-replaceable behind this interface without touching callers.
type VsaBackend interface {
	EncodeData(c chunk.Chunk, dimensionality int) (stv.STV, error)
	Bundle(a, b stv.STV) (stv.STV, error)
	Bind(a, b stv.STV) (stv.STV, error)
	Cosine(a, b stv.STV) (float64, error)
}

// VectorStore is the minimum the retrieval layer needs from whatever is
// holding vectors: the codebook (codebook.Codebook satisfies this
// directly), a sub-engram's local vector set, or a test double.
type VectorStore interface {
	Get(id chunk.ID) (stv.STV, bool)
	Iter(fn func(chunk.ID, stv.STV) bool)
}

// DefaultBackend implements VsaBackend by delegating to chunk/ and stv/
// directly — the "default backend" spec §4.K describes.
type DefaultBackend struct{}

func (DefaultBackend) EncodeData(c chunk.Chunk, dimensionality int) (stv.STV, error) {
	return chunk.Encode(c, dimensionality)
}

func (DefaultBackend) Bundle(a, b stv.STV) (stv.STV, error) { return stv.Bundle(a, b) }
func (DefaultBackend) Bind(a, b stv.STV) (stv.STV, error)   { return stv.Bind(a, b) }
func (DefaultBackend) Cosine(a, b stv.STV) (float64, error) { return stv.Cosine(a, b) }

// Candidate is one reranked result: a vector ID paired with its exact
// cosine similarity against the query.
type Candidate struct {
	ID    chunk.ID
	Score float64
}

// RerankTopKByCosine computes exact cosine similarity between query and
// every id in candidateIDs (looked up via store), sorts descending by
// score (ties broken by ID for determinism, spec §4.G), and returns the
// top k. This is the seam callers use instead of depending on concrete
// STV/codebook types directly (spec §4.K).
func RerankTopKByCosine(backend VsaBackend, store VectorStore, query stv.STV, candidateIDs []chunk.ID, k int) ([]Candidate, error) {
	out := make([]Candidate, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		v, ok := store.Get(id)
		if !ok {
			continue
		}
		score, err := backend.Cosine(query, v)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{ID: id, Score: score})
	}
	sortCandidates(out)
	if k >= 0 && k < len(out) {
		out = out[:k]
	}
	return out, nil
}

func sortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].ID < cs[j].ID
	})
}
