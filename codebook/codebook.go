// Package codebook implements the content-addressed chunk_id -> STV
// registry (spec §4.E): a codebook entry is inserted once per distinct
// chunk_id and looked up by every component that needs a chunk's vector
// (index/, engram/, hquery/).
//
// Grounded on erigon-lib/kv/tables.go's convention of a single stable
// name and documented key/value shape per stored entity — here realized
// as one btree.BTreeG ordered by chunk_id (google/btree, present in
// erigon-lib's require block) rather than a bare map, so Iter() yields
// the sorted-by-chunk_id order the engram envelope's codebook section
// requires (spec §6) without a separate sort pass.
package codebook

import (
	"fmt"

	"github.com/google/btree"

	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/stv"
)

// entry is the btree element: ordered by ID.
type entry struct {
	ID chunk.ID
	V  stv.STV
}

func lessEntry(a, b entry) bool { return a.ID < b.ID }

// Codebook maps chunk_id -> STV with sub-linear lookup and deterministic,
// sorted-by-chunk_id iteration. Refcounting supports incremental update
// (spec §4.J): entries referenced by zero live chunks are eligible for
// removal by the caller (Codebook itself never auto-evicts; see
// update/.)
type Codebook struct {
	tree *btree.BTreeG[entry]
	refs map[chunk.ID]int
}

// New returns an empty Codebook.
func New() *Codebook {
	return &Codebook{
		tree: btree.NewG(32, lessEntry),
		refs: make(map[chunk.ID]int),
	}
}

// Insert adds id -> v if id is not already present, and always increments
// id's refcount. Insertion is idempotent: re-inserting the same id with a
// different STV is rejected — under a fixed VsaConfig, encode_chunk(bytes,
// chunk_id) is deterministic, so two different vectors for the same
// chunk_id indicate a config or caller bug (spec §4.E: "must not yield a
// different STV under equal config").
func (c *Codebook) Insert(id chunk.ID, v stv.STV) error {
	if existing, ok := c.tree.Get(entry{ID: id}); ok {
		if !existing.V.Equal(v) {
			return fmt.Errorf("codebook: Insert: chunk %s already registered with a different vector", id)
		}
		c.refs[id]++
		return nil
	}
	c.tree.ReplaceOrInsert(entry{ID: id, V: v})
	c.refs[id] = 1
	return nil
}

// Get returns the STV for id, if present (kernel.VectorStore contract).
func (c *Codebook) Get(id chunk.ID) (stv.STV, bool) {
	e, ok := c.tree.Get(entry{ID: id})
	if !ok {
		return stv.STV{}, false
	}
	return e.V, true
}

// Contains reports whether id has an entry.
func (c *Codebook) Contains(id chunk.ID) bool {
	_, ok := c.tree.Get(entry{ID: id})
	return ok
}

// Release decrements id's refcount and reports whether it reached zero
// (the caller, typically update/, then removes the entry via Delete).
func (c *Codebook) Release(id chunk.ID) bool {
	if c.refs[id] <= 0 {
		return false
	}
	c.refs[id]--
	if c.refs[id] == 0 {
		delete(c.refs, id)
		return true
	}
	return false
}

// RefCount reports how many live chunk occurrences reference id.
func (c *Codebook) RefCount(id chunk.ID) int { return c.refs[id] }

// Delete removes id's entry outright, regardless of refcount. Used by
// update.Apply (via releaseChunks) once an entry's refcount has dropped
// to zero.
func (c *Codebook) Delete(id chunk.ID) {
	c.tree.Delete(entry{ID: id})
	delete(c.refs, id)
}

// Len reports the number of distinct chunk_ids registered.
func (c *Codebook) Len() int { return c.tree.Len() }

// Clone returns an independent copy: mutating the clone (Insert, Release,
// Delete) never affects c. update/ clones before applying a diff so a
// reader holding c as a snapshot keeps seeing the pre-update state (spec
// §5, "Updates construct a new snapshot, then publish atomically").
func (c *Codebook) Clone() *Codebook {
	out := New()
	c.tree.Ascend(func(e entry) bool {
		out.tree.ReplaceOrInsert(e)
		return true
	})
	for id, n := range c.refs {
		out.refs[id] = n
	}
	return out
}

// Iter calls fn for every (chunk_id, STV) pair in ascending chunk_id
// order (spec §6: codebook section is "sorted by chunk_id"). Iteration
// stops early if fn returns false.
func (c *Codebook) Iter(fn func(chunk.ID, stv.STV) bool) {
	c.tree.Ascend(func(e entry) bool {
		return fn(e.ID, e.V)
	})
}
