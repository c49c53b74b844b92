package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tzervas/embeddenator-core/config"
	"github.com/tzervas/embeddenator-core/elog"
	"github.com/tzervas/embeddenator-core/engram"
	"github.com/tzervas/embeddenator-core/hbuild"
	"github.com/tzervas/embeddenator-core/hquery"
	"github.com/tzervas/embeddenator-core/kernel"
)

func testCfg() config.VsaConfig {
	cfg := config.DefaultVsaConfig()
	cfg.Dimensionality = 400
	cfg.ChunkSize = 64
	return cfg
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestIngestThenExtractRoundTrip(t *testing.T) {
	log := elog.Nop()
	cfg := testCfg()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":   "the quick brown fox jumps over the lazy dog repeatedly for bulk",
		"sub/b.txt": "a nested file with different content, also padded out a bit",
	})

	engramPath := filepath.Join(t.TempDir(), "engram.bin")
	_, err := Ingest(log, []string{src}, engramPath, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	outDir := t.TempDir()
	_, err = Extract(log, engramPath, outDir, cfg)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(outDir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "the quick brown fox jumps over the lazy dog repeatedly for bulk", string(got))

	got, err = os.ReadFile(filepath.Join(outDir, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "a nested file with different content, also padded out a bit", string(got))
}

func TestQueryFindsExactChunk(t *testing.T) {
	log := elog.Nop()
	cfg := testCfg()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt": "needle content that the query below will search for exactly",
	})
	engramPath := filepath.Join(t.TempDir(), "engram.bin")
	_, err := Ingest(log, []string{src}, engramPath, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	queryFile := filepath.Join(t.TempDir(), "q.txt")
	require.NoError(t, os.WriteFile(queryFile, []byte("needle content that the query below will search for exactly"), 0o644))
	data, err := os.ReadFile(queryFile)
	require.NoError(t, err)

	hits, err := Query(log, engramPath, data, 3, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestBundleHierWritesDirectory(t *testing.T) {
	log := elog.Nop()
	cfg := testCfg()
	hcfg := config.DefaultHierarchicalConfig()
	hcfg.MaxLevelSparsity = 0.1
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a/one.txt": "first nested file with enough bytes to span a couple of chunks",
		"a/two.txt": "second nested file with different bytes for variety in the tree",
		"top.txt":   "a top level file outside any nested directory at all",
	})
	engramPath := filepath.Join(t.TempDir(), "engram.bin")
	_, err := Ingest(log, []string{src}, engramPath, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	hierDir := filepath.Join(t.TempDir(), "hier")
	res, err := BundleHier(log, engramPath, hierDir, cfg, hcfg, kernel.DefaultBackend{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Message)

	manifestPath := filepath.Join(hierDir, "hierarchical.manifest.json")
	info, err := os.Stat(manifestPath)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	entries, err := os.ReadDir(hierDir)
	require.NoError(t, err)
	var subEngramCount int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".subengram" {
			subEngramCount++
		}
	}
	require.Greater(t, subEngramCount, 0)
}

func TestQueryHierFindsExactChunk(t *testing.T) {
	log := elog.Nop()
	cfg := testCfg()
	hcfg := config.DefaultHierarchicalConfig()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a/one.txt": "first nested file with enough bytes to span a couple of chunks",
		"a/two.txt": "second nested file with different bytes for variety in the tree",
		"top.txt":   "needle content that the hierarchical query below will search for",
	})
	engramPath := filepath.Join(t.TempDir(), "engram.bin")
	_, err := Ingest(log, []string{src}, engramPath, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	e, err := engram.LoadFile(engramPath, cfg)
	require.NoError(t, err)
	h, err := hbuild.Build(e, cfg, hcfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	hits, err := QueryHier(log, e, h, hquery.MemoryStore{Manifest: h}, []byte("needle content that the hierarchical query below will search for"), cfg, hcfg, kernel.DefaultBackend{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestUpdateAddRemoveModify(t *testing.T) {
	log := elog.Nop()
	cfg := testCfg()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt": "original contents of file a before any updates are applied",
		"b.txt": "original contents of file b before any updates are applied",
	})
	engramPath := filepath.Join(t.TempDir(), "engram.bin")
	_, err := Ingest(log, []string{src}, engramPath, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	work := t.TempDir()
	newFile := filepath.Join(work, "c.txt")
	require.NoError(t, os.WriteFile(newFile, []byte("brand new file contents added via the update operation itself"), 0o644))
	modifiedFile := filepath.Join(work, "a-new.txt")
	require.NoError(t, os.WriteFile(modifiedFile, []byte("replacement contents for file a after it has been modified"), 0o644))

	_, err = Update(log, engramPath, []UpdateSpec{
		{Kind: "add", Path: "c.txt", DataPath: newFile},
		{Kind: "modify", Path: "a.txt", DataPath: modifiedFile},
		{Kind: "remove", Path: "b.txt"},
	}, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	e, err := engram.LoadFile(engramPath, cfg)
	require.NoError(t, err)

	_, ok := e.Manifest.Find("b.txt")
	require.False(t, ok)

	got, err := e.Extract("c.txt")
	require.NoError(t, err)
	require.Equal(t, "brand new file contents added via the update operation itself", string(got))

	got, err = e.Extract("a.txt")
	require.NoError(t, err)
	require.Equal(t, "replacement contents for file a after it has been modified", string(got))
}

func TestCompactIsIdempotentOnExtraction(t *testing.T) {
	log := elog.Nop()
	cfg := testCfg()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt": "contents that will survive a compact pass unchanged entirely",
	})
	engramPath := filepath.Join(t.TempDir(), "engram.bin")
	_, err := Ingest(log, []string{src}, engramPath, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	_, err = Compact(log, engramPath, cfg)
	require.NoError(t, err)

	e, err := engram.LoadFile(engramPath, cfg)
	require.NoError(t, err)
	got, err := e.Extract("a.txt")
	require.NoError(t, err)
	require.Equal(t, "contents that will survive a compact pass unchanged entirely", string(got))
}
