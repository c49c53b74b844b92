// Package hquery implements beam-bounded selective unfolding over a
// hierarchical manifest (spec §4.H): instead of scanning every chunk in
// the corpus, it descends only the most promising sub-engrams, bounded
// by beam width, depth, and a hard expansion budget, merging each
// visited node's local top hits into one global top-k.
//
// Grounded on erigon-lib's bounded-resource discipline (freelru-style
// capped caches over unbounded growth) and on other_examples' zoekt
// indexdata.go for the "build a small index per shard, merge centrally"
// shape — here a shard is a sub-engram instead of a file.
package hquery

import (
	"container/heap"
	"sort"

	"github.com/elastic/go-freelru"
	"github.com/spaolacci/murmur3"

	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/config"
	"github.com/tzervas/embeddenator-core/engram"
	"github.com/tzervas/embeddenator-core/errs"
	"github.com/tzervas/embeddenator-core/index"
	"github.com/tzervas/embeddenator-core/kernel"
	"github.com/tzervas/embeddenator-core/stv"
)

// SubEngramStore loads a SubEngram by id. Spec §6: "Loaders return
// SubEngram?; missing ids are an error, not a silent empty" — Load
// returns an error rather than a zero value/ok bool for that reason.
type SubEngramStore interface {
	Load(id string) (engram.SubEngram, error)
}

// MemoryStore serves sub-engrams straight out of an
// already-materialized HierarchicalManifest — the case where the whole
// hierarchy is resident, no directory-form loading needed.
type MemoryStore struct {
	Manifest engram.HierarchicalManifest
}

func (s MemoryStore) Load(id string) (engram.SubEngram, error) { return s.Manifest.Get(id) }

func hashString(s string) uint32 { return murmur3.Sum32([]byte(s)) }

// Caches wraps the two LRU caches spec §4.H requires: loaded sub-engrams
// and the per-node inverted indices built over their chunk_ids. Exposed
// so a caller can share caches across queries (the common case) or build
// a fresh pair per call.
type Caches struct {
	engrams *freelru.LRU[string, engram.SubEngram]
	indices *freelru.LRU[string, *index.TernaryInvertedIndex]
}

// NewCaches allocates both LRUs with the given bounds. maxOpenEngrams
// and maxOpenIndices <= 0 default to 1 (an LRU of size zero cannot
// usefully exist).
func NewCaches(maxOpenEngrams, maxOpenIndices int) (*Caches, error) {
	if maxOpenEngrams <= 0 {
		maxOpenEngrams = 1
	}
	if maxOpenIndices <= 0 {
		maxOpenIndices = 1
	}
	engrams, err := freelru.New[string, engram.SubEngram](uint32(maxOpenEngrams), hashString)
	if err != nil {
		return nil, err
	}
	indices, err := freelru.New[string, *index.TernaryInvertedIndex](uint32(maxOpenIndices), hashString)
	if err != nil {
		return nil, err
	}
	return &Caches{engrams: engrams, indices: indices}, nil
}

func (c *Caches) loadSubEngram(store SubEngramStore, id string) (engram.SubEngram, error) {
	if se, ok := c.engrams.Get(id); ok {
		return se, nil
	}
	se, err := store.Load(id)
	if err != nil {
		return engram.SubEngram{}, err
	}
	c.engrams.Add(id, se)
	return se, nil
}

func (c *Caches) buildIndex(id string, se engram.SubEngram, vectors kernel.VectorStore, D int) *index.TernaryInvertedIndex {
	if idx, ok := c.indices.Get(id); ok {
		return idx
	}
	scoped := scopedStore{vectors: vectors, ids: se.ChunkIDs}
	idx := index.Build(scoped, D)
	c.indices.Add(id, idx)
	return idx
}

// frontierEntry is one element of the beam's max-heap, ordered by
// descending propagated score with sub_engram_id as a deterministic
// tiebreak (spec §4.H: "Tie-breaking by sub_engram_id for determinism").
type frontierEntry struct {
	score float64
	id    string
	depth int
}

type frontier []frontierEntry

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].score != f[j].score {
		return f[i].score > f[j].score
	}
	return f[i].id < f[j].id
}
func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)   { *f = append(*f, x.(frontierEntry)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	x := old[n-1]
	*f = old[:n-1]
	return x
}

// Bounds collects the beam query's hard limits (spec §4.H).
type Bounds struct {
	K              int
	BeamWidth      int
	MaxDepth       int
	MaxExpansions  int
	MaxOpenEngrams int
	MaxOpenIndices int
}

// BoundsFromConfig adapts a config.HierarchicalConfig into Bounds.
func BoundsFromConfig(c config.HierarchicalConfig) Bounds {
	return Bounds{
		K:              c.K,
		BeamWidth:      c.BeamWidth,
		MaxDepth:       c.MaxDepth,
		MaxExpansions:  c.MaxExpansions,
		MaxOpenEngrams: c.MaxOpenEngrams,
		MaxOpenIndices: c.MaxOpenIndices,
	}
}

// childCandidate is a sub-engram scored for frontier admission.
type childCandidate struct {
	score float64
	id    string
}

func sortChildrenDesc(children []childCandidate) {
	sort.Slice(children, func(i, j int) bool {
		if children[i].score != children[j].score {
			return children[i].score > children[j].score
		}
		return children[i].id < children[j].id
	})
}

// Query performs the beam search described in spec §4.H: starting from
// the hierarchical root, repeatedly pop the frontier's best-scoring
// sub-engram, query+rerank its local chunk set, merge the hits into a
// global top-k, and push its children scored by cosine against q. The
// search stops when expansions reach MaxExpansions, depth reaches
// MaxDepth, or the frontier empties — whichever comes first, regardless
// of remaining frontier content (spec §8 invariant 12).
func Query(h engram.HierarchicalManifest, store SubEngramStore, vectors kernel.VectorStore, backend kernel.VsaBackend, q stv.STV, bounds Bounds) ([]kernel.Candidate, error) {
	if h.RootID == "" {
		return nil, errs.Wrap(errs.InvariantViolation, "hquery: empty hierarchical manifest")
	}
	caches, err := NewCaches(bounds.MaxOpenEngrams, bounds.MaxOpenIndices)
	if err != nil {
		return nil, err
	}

	rootSE, err := h.Get(h.RootID)
	if err != nil {
		return nil, err
	}
	rootScore, err := backend.Cosine(q, rootSE.Root)
	if err != nil {
		return nil, err
	}

	fr := &frontier{{score: rootScore, id: h.RootID, depth: 0}}
	heap.Init(fr)

	best := map[chunk.ID]float64{}

	expansions := 0
	for fr.Len() > 0 {
		if bounds.MaxExpansions > 0 && expansions >= bounds.MaxExpansions {
			break
		}
		top := heap.Pop(fr).(frontierEntry)
		expansions++

		if bounds.MaxDepth > 0 && top.depth > bounds.MaxDepth {
			continue
		}

		se, err := caches.loadSubEngram(store, top.id)
		if err != nil {
			return nil, err
		}

		if len(se.ChunkIDs) > 0 {
			idx := caches.buildIndex(top.id, se, vectors, q.D)
			hits, err := idx.QueryAndRerank(backend, vectors, q, bounds.K, 4)
			if err != nil {
				return nil, err
			}
			for _, hit := range hits {
				if prev, ok := best[hit.ID]; !ok || hit.Score > prev {
					best[hit.ID] = hit.Score
				}
			}
		}

		if bounds.MaxDepth > 0 && top.depth >= bounds.MaxDepth {
			continue
		}

		children := make([]childCandidate, 0, len(se.Children))
		for _, childID := range se.Children {
			childSE, err := caches.loadSubEngram(store, childID)
			if err != nil {
				return nil, err
			}
			score, err := backend.Cosine(q, childSE.Root)
			if err != nil {
				return nil, err
			}
			children = append(children, childCandidate{score: score, id: childID})
		}
		// Only the BeamWidth best-scoring children are admitted to the
		// frontier, keeping it from growing unboundedly wide.
		if bounds.BeamWidth > 0 {
			sortChildrenDesc(children)
			if len(children) > bounds.BeamWidth {
				children = children[:bounds.BeamWidth]
			}
		}
		for _, c := range children {
			heap.Push(fr, frontierEntry{score: c.score, id: c.id, depth: top.depth + 1})
		}
	}

	out := make([]kernel.Candidate, 0, len(best))
	for id, score := range best {
		out = append(out, kernel.Candidate{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if bounds.K > 0 && bounds.K < len(out) {
		out = out[:bounds.K]
	}
	return out, nil
}
