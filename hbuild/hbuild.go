// Package hbuild builds a HierarchicalManifest from a flat engram (spec
// §4.I): files are grouped by every directory prefix of their path, each
// prefix gets a SubEngram whose root is a sparsity-thinned, role-bound
// bundle of its children, and a prefix holding more chunk_ids than
// MaxChunksPerNode also gets router nodes, each carrying one shard of
// those chunk_ids, appended to its children. The prefix node itself keeps
// its full chunk_id list, so sharding does not bound the size of any
// single node.
//
// Grounded on erigon-lib/common/math/integer.go's spirit of small,
// self-contained numeric helpers (here, deterministic id derivation and
// router sharding math) and on the hierarchical-traversal shape hinted at
// by turbo/snapshotsync's segment-range naming (stable, derivable node
// ids rather than random ones).
package hbuild

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/config"
	"github.com/tzervas/embeddenator-core/engram"
	"github.com/tzervas/embeddenator-core/errs"
	"github.com/tzervas/embeddenator-core/kernel"
	"github.com/tzervas/embeddenator-core/stv"
)

// subEngramID derives a stable, collision-resistant id from a prefix
// and level: two builds of the same file tree under the same config
// always produce the same ids (spec §8 invariant 8, deterministic
// serialization).
func subEngramID(prefix string, level int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", level, prefix)))
	return hex.EncodeToString(h[:8])
}

// routerID derives a stable id for a router-node shard of prefix at
// level, keyed additionally by the shard index.
func routerID(prefix string, level, shard int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("router:%d:%d:%s", level, shard, prefix)))
	return hex.EncodeToString(h[:8])
}

// node accumulates, for one (level, prefix) pair, the file vectors of
// every file directly grouped under it plus the direct next-level
// prefixes beneath it, before its SubEngram is materialized.
type node struct {
	level     int
	prefix    string
	fileVecs  []stv.STV
	chunkIDs  []chunk.ID
	children  map[string]bool // immediate child prefixes (next level)
}

// Build constructs a HierarchicalManifest from e (spec §6 "bundle_hier"):
// every FileEntry's directory prefixes become nodes; each node bundles
// its files (and, transitively, its children's roots) and binds the
// result to a role vector derived from hash(prefix||level); the bundle
// is thinned to hcfg.MaxLevelSparsity before binding. If a node holds
// more chunk_ids than hcfg.MaxChunksPerNode, synthetic router nodes, each
// holding a shard of those chunk_ids, are added to its children; the node
// keeps its full chunk_id list.
func Build(e *engram.Engram, vcfg config.VsaConfig, hcfg config.HierarchicalConfig, backend kernel.VsaBackend) (engram.HierarchicalManifest, error) {
	// fileVectorByPath rebuilds each file's unbound file_vector (the
	// hybrid bundle of its permuted chunk vectors) the same way the flat
	// engram does, so descending into a leaf and ascending the flat root
	// agree (spec §8 invariant 10).
	fileVectorByPath := make(map[string]stv.STV, len(e.Manifest.Files))
	for _, f := range e.Manifest.Files {
		chunkVectors := make([]stv.STV, 0, len(f.ChunkIDs))
		for _, id := range f.ChunkIDs {
			v, ok := e.Codebook.Get(id)
			if !ok {
				return engram.HierarchicalManifest{}, errs.Wrapf(errs.CorruptEngram, "hbuild: dangling chunk_id %s in %q", id, f.Path)
			}
			shift := int(stv.Seed(vcfg.MasterSeed, []byte(id)) % uint64(vcfg.Dimensionality))
			chunkVectors = append(chunkVectors, stv.Permute(v, shift))
		}
		fv, err := stv.BundleHybrid(chunkVectors, vcfg.HybridBundleCollisionBudget)
		if err != nil {
			return engram.HierarchicalManifest{}, err
		}
		fileVectorByPath[f.Path] = fv
	}

	// Bucket every path's prefixes by (level, prefix).
	nodesByLevel := map[int]map[string]*node{}
	maxLevel := 0
	for _, f := range e.Manifest.Files {
		prefixes := engram.PathPrefixes(f.Path)
		for level, prefix := range prefixes {
			if level > maxLevel {
				maxLevel = level
			}
			byPrefix, ok := nodesByLevel[level]
			if !ok {
				byPrefix = map[string]*node{}
				nodesByLevel[level] = byPrefix
			}
			n, ok := byPrefix[prefix]
			if !ok {
				n = &node{level: level, prefix: prefix, children: map[string]bool{}}
				byPrefix[prefix] = n
			}
			isLeaf := level == len(prefixes)-1
			if isLeaf {
				n.fileVecs = append(n.fileVecs, fileVectorByPath[f.Path])
				n.chunkIDs = append(n.chunkIDs, f.ChunkIDs...)
			} else {
				childPrefix := prefixes[level+1]
				n.children[childPrefix] = true
			}
		}
	}

	h := engram.HierarchicalManifest{
		Version:    engram.FormatVersion,
		SubEngrams: map[string]engram.SubEngram{},
	}

	// Build bottom-up so a parent can bundle its already-built children's
	// roots alongside its own direct files.
	childRoot := map[string]stv.STV{} // prefix -> its SubEngram's Root, filled as we ascend
	for level := maxLevel; level >= 0; level-- {
		byPrefix := nodesByLevel[level]
		if byPrefix == nil {
			continue
		}
		prefixes := make([]string, 0, len(byPrefix))
		for p := range byPrefix {
			prefixes = append(prefixes, p)
		}
		sort.Strings(prefixes)

		var items []engram.LevelItem
		for _, prefix := range prefixes {
			n := byPrefix[prefix]
			childPrefixes := make([]string, 0, len(n.children))
			for c := range n.children {
				childPrefixes = append(childPrefixes, c)
			}
			sort.Strings(childPrefixes)

			vecs := append([]stv.STV(nil), n.fileVecs...)
			for _, c := range childPrefixes {
				vecs = append(vecs, childRoot[c])
			}
			if len(vecs) == 0 {
				continue
			}

			sums, D, err := stv.SumMany(vecs)
			if err != nil {
				return engram.HierarchicalManifest{}, err
			}
			budget := 0
			if hcfg.MaxLevelSparsity > 0 {
				budget = int(hcfg.MaxLevelSparsity * float64(D))
				if budget < 1 {
					budget = 1
				}
			}
			thinned := stv.Thin(sums, D, budget)
			role := stv.RoleVector(vcfg.MasterSeed, prefix, level, D, vcfg.TargetSparsity)
			root, err := backend.Bind(role, thinned)
			if err != nil {
				return engram.HierarchicalManifest{}, err
			}

			childIDs := make([]string, len(childPrefixes))
			for i, c := range childPrefixes {
				childIDs[i] = subEngramID(c, level+1)
			}

			id := subEngramID(prefix, level)
			if hcfg.MaxChunksPerNode > 0 && len(n.chunkIDs) > hcfg.MaxChunksPerNode {
				routedChildren, routedSubEngrams, err := shardChunks(prefix, level, n.chunkIDs, vecs, vcfg, hcfg, backend)
				if err != nil {
					return engram.HierarchicalManifest{}, err
				}
				for rid, se := range routedSubEngrams {
					h.SubEngrams[rid] = se
				}
				childIDs = append(childIDs, routedChildren...)
			}

			// SubEngram.Level is 1-based from this path-prefix bucketing
			// (spec §3: "non-negative depth from root=0"); the synthetic
			// node bundling every top-level prefix below occupies level 0.
			se := engram.NewSubEngram(id, root, n.chunkIDs, childIDs, level+1)
			h.SubEngrams[id] = se
			childRoot[prefix] = root
			items = append(items, engram.LevelItem{PathPrefix: prefix, SubEngramID: id})
		}
		if len(items) > 0 {
			h.Levels = append([]engram.Level{{Level: level + 1, Items: items}}, h.Levels...)
		}
	}

	if len(e.Manifest.Files) > 0 {
		h.RootID = subEngramID("", 0)
		// Dedup top-level prefixes before bundling the synthetic root.
		seen := map[string]bool{}
		var topChildren []string
		var topVecs []stv.STV
		for _, f := range e.Manifest.Files {
			top := engram.PathPrefixes(f.Path)[0]
			if seen[top] {
				continue
			}
			seen[top] = true
			topChildren = append(topChildren, subEngramID(top, 0))
			topVecs = append(topVecs, childRoot[top])
		}
		rootVector, err := stv.BundleHybrid(topVecs, vcfg.HybridBundleCollisionBudget)
		if err != nil {
			return engram.HierarchicalManifest{}, err
		}
		allChunks := make([]chunk.ID, 0)
		for _, f := range e.Manifest.Files {
			allChunks = append(allChunks, f.ChunkIDs...)
		}
		h.SubEngrams[h.RootID] = engram.NewSubEngram(h.RootID, rootVector, allChunks, topChildren, 0)
		h.Levels = append([]engram.Level{{Level: 0, Items: []engram.LevelItem{{PathPrefix: "", SubEngramID: h.RootID}}}}, h.Levels...)
	}

	return h, nil
}

// shardChunks splits an over-wide node's chunk set into
// ceil(len(chunkIDs)/maxChunksPerNode) router sub-engrams, each bundling
// an even slice of the parent's constituent vectors (spec §4.I: "insert
// router nodes that further shard the child set").
func shardChunks(prefix string, level int, chunkIDs []chunk.ID, vecs []stv.STV, vcfg config.VsaConfig, hcfg config.HierarchicalConfig, backend kernel.VsaBackend) ([]string, map[string]engram.SubEngram, error) {
	shardSize := hcfg.MaxChunksPerNode
	if shardSize <= 0 {
		shardSize = len(chunkIDs)
	}
	numShards := (len(chunkIDs) + shardSize - 1) / shardSize
	if numShards < 1 {
		numShards = 1
	}
	vecShard := (len(vecs) + numShards - 1) / numShards
	if vecShard < 1 {
		vecShard = 1
	}

	ids := make([]string, 0, numShards)
	out := map[string]engram.SubEngram{}
	for i := 0; i < numShards; i++ {
		lo, hi := i*shardSize, (i+1)*shardSize
		if hi > len(chunkIDs) {
			hi = len(chunkIDs)
		}
		vlo, vhi := i*vecShard, (i+1)*vecShard
		if vhi > len(vecs) {
			vhi = len(vecs)
		}
		if vlo >= len(vecs) {
			vlo, vhi = 0, len(vecs)
		}
		shardVecs := vecs[vlo:vhi]
		if len(shardVecs) == 0 {
			shardVecs = vecs
		}

		root, err := stv.BundleHybrid(shardVecs, vcfg.HybridBundleCollisionBudget)
		if err != nil {
			return nil, nil, err
		}
		id := routerID(prefix, level, i)
		se := engram.NewSubEngram(id, root, chunkIDs[lo:hi], nil, level+2)
		out[id] = se
		ids = append(ids, id)
	}
	return ids, out, nil
}
