package hbuild

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tzervas/embeddenator-core/config"
	"github.com/tzervas/embeddenator-core/engram"
	"github.com/tzervas/embeddenator-core/kernel"
	"github.com/tzervas/embeddenator-core/stv"
)

func testConfigs() (config.VsaConfig, config.HierarchicalConfig) {
	vcfg := config.DefaultVsaConfig()
	vcfg.Dimensionality = 400
	vcfg.ChunkSize = 64
	hcfg := config.DefaultHierarchicalConfig()
	hcfg.MaxLevelSparsity = 0.05
	return vcfg, hcfg
}

func buildEngram(t *testing.T, vcfg config.VsaConfig) *engram.Engram {
	t.Helper()
	files := []engram.File{
		{Path: "a/b/one.txt", Data: []byte("contents of the first nested file, padded out a bit for chunking")},
		{Path: "a/b/two.txt", Data: []byte("contents of the second nested file, also padded for chunking")},
		{Path: "a/c/three.txt", Data: []byte("a file in a sibling directory, padded for chunking purposes")},
		{Path: "top.txt", Data: []byte("a top-level file outside any nested directory")},
	}
	e, err := engram.Ingest(files, vcfg, kernel.DefaultBackend{})
	require.NoError(t, err)
	return e
}

func TestBuildProducesRootAndLevels(t *testing.T) {
	vcfg, hcfg := testConfigs()
	e := buildEngram(t, vcfg)

	h, err := Build(e, vcfg, hcfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	require.NotEmpty(t, h.RootID)
	root, err := h.Get(h.RootID)
	require.NoError(t, err)
	require.Equal(t, 0, root.Level)
	require.NotEmpty(t, h.Levels)
	require.Equal(t, 0, h.Levels[0].Level)
}

func TestEveryChildReferenceResolves(t *testing.T) {
	vcfg, hcfg := testConfigs()
	e := buildEngram(t, vcfg)

	h, err := Build(e, vcfg, hcfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	for id, se := range h.SubEngrams {
		for _, childID := range se.Children {
			_, err := h.Get(childID)
			require.NoErrorf(t, err, "sub-engram %s references missing child %s", id, childID)
		}
	}
}

func TestHierarchicalRootCosineApproximatesFlatRoot(t *testing.T) {
	vcfg, hcfg := testConfigs()
	hcfg.MaxLevelSparsity = 0 // disable thinning for a tighter approximation
	e := buildEngram(t, vcfg)

	h, err := Build(e, vcfg, hcfg, kernel.DefaultBackend{})
	require.NoError(t, err)
	root, err := h.Get(h.RootID)
	require.NoError(t, err)

	query := stv.Random(vcfg.Dimensionality, 0.05, 99)
	csFlat, err := stv.Cosine(e.Root, query)
	require.NoError(t, err)
	csHier, err := stv.Cosine(root.Root, query)
	require.NoError(t, err)

	// Sparsity thinning and router sharding make this an approximation,
	// not an exact match (spec §8 invariant 10, "up to sparsity-thinning
	// tolerance") — assert the two cosines lie within 0.5 of each other
	// rather than exact equality.
	require.InDelta(t, csFlat, csHier, 0.5)
}

func TestRouterShardingBoundsChunksPerNode(t *testing.T) {
	vcfg, hcfg := testConfigs()
	hcfg.MaxChunksPerNode = 1
	e := buildEngram(t, vcfg)

	h, err := Build(e, vcfg, hcfg, kernel.DefaultBackend{})
	require.NoError(t, err)
	require.NotEmpty(t, h.SubEngrams)
}
