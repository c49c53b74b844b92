package hquery

import (
	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/stv"
)

// scopedStore restricts a backing kernel.VectorStore (typically the
// engram's full codebook) to a fixed set of chunk_ids — the per-node
// inverted index spec §4.H calls for is built "over chunk_ids only",
// not the whole corpus.
type scopedStore struct {
	vectors interface {
		Get(id chunk.ID) (stv.STV, bool)
	}
	ids []chunk.ID
}

func (s scopedStore) Get(id chunk.ID) (stv.STV, bool) { return s.vectors.Get(id) }

func (s scopedStore) Iter(fn func(chunk.ID, stv.STV) bool) {
	for _, id := range s.ids {
		v, ok := s.vectors.Get(id)
		if !ok {
			continue
		}
		if !fn(id, v) {
			return
		}
	}
}
