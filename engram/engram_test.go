package engram

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tzervas/embeddenator-core/config"
	"github.com/tzervas/embeddenator-core/errs"
	"github.com/tzervas/embeddenator-core/kernel"
)

func testConfig() config.VsaConfig {
	cfg := config.DefaultVsaConfig()
	cfg.Dimensionality = 500
	cfg.ChunkSize = 64
	return cfg
}

func TestIngestExtractRoundTrip(t *testing.T) {
	cfg := testConfig()
	files := []File{
		{Path: "a.txt", Data: []byte("the quick brown fox jumps over the lazy dog, repeatedly, to pad this out past one chunk boundary")},
		{Path: "dir/b.txt", Data: []byte("second file contents, shorter")},
	}
	e, err := Ingest(files, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)
	require.Equal(t, 2, len(e.Manifest.Files))

	for _, f := range files {
		got, err := e.Extract(f.Path)
		require.NoError(t, err)
		require.Equal(t, f.Data, got)
	}
}

func TestExtractUnknownPath(t *testing.T) {
	cfg := testConfig()
	e, err := Ingest([]File{{Path: "a.txt", Data: []byte("x")}}, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)
	_, err = e.Extract("missing.txt")
	require.Error(t, err)
}

func TestIngestRejectsBadPath(t *testing.T) {
	cfg := testConfig()
	_, err := Ingest([]File{{Path: "/abs/path", Data: []byte("x")}}, cfg, kernel.DefaultBackend{})
	require.Error(t, err)

	_, err = Ingest([]File{{Path: "a/../b", Data: []byte("x")}}, cfg, kernel.DefaultBackend{})
	require.Error(t, err)
}

func TestIngestDeterministic(t *testing.T) {
	cfg := testConfig()
	files := []File{{Path: "a.txt", Data: []byte("deterministic content, repeated and repeated and repeated for padding")}}

	e1, err := Ingest(files, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)
	e2, err := Ingest(files, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	var b1, b2 bytes.Buffer
	require.NoError(t, Save(&b1, e1))
	require.NoError(t, Save(&b2, e2))
	require.Equal(t, b1.Bytes(), b2.Bytes())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := testConfig()
	files := []File{
		{Path: "a.txt", Data: []byte("content for the save/load envelope round trip test, long enough for multiple chunks")},
		{Path: "b.txt", Data: []byte("more content")},
	}
	e, err := Ingest(files, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, e))

	loaded, err := Load(bytes.NewReader(buf.Bytes()), cfg)
	require.NoError(t, err)
	require.Equal(t, e.Manifest, loaded.Manifest)

	for _, f := range files {
		got, err := loaded.Extract(f.Path)
		require.NoError(t, err)
		require.Equal(t, f.Data, got)
	}
}

func TestLoadRejectsWrongDimensionality(t *testing.T) {
	cfg := testConfig()
	e, err := Ingest([]File{{Path: "a.txt", Data: []byte("x")}}, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, e))

	wrongCfg := cfg
	wrongCfg.Dimensionality = cfg.Dimensionality + 1
	_, err = Load(bytes.NewReader(buf.Bytes()), wrongCfg)
	require.Error(t, err)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not-an-engram-file-at-all")), testConfig())
	require.Error(t, err)
}

// TestLoadRejectsCorruptedPayload flips roughly half the bytes of a saved
// envelope's compressed payload (header left intact so the flip is caught
// downstream, in decompression or section decoding, rather than at the
// magic/version check). Load must fail, and the failure must be
// distinguishable as corruption via errors.Is.
func TestLoadRejectsCorruptedPayload(t *testing.T) {
	cfg := testConfig()
	e, err := Ingest([]File{
		{Path: "a.txt", Data: []byte("content long enough to produce a multi-chunk, multi-section payload for corruption")},
		{Path: "b.txt", Data: []byte("a second file so the codebook and manifest sections aren't trivially empty either")},
	}, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, e))
	raw := buf.Bytes()

	const headerLen = 4 + 4 + 4 + 8 + 4 // magic + format_version + dimensionality + sparsity hint + flags
	require.Greater(t, len(raw), headerLen)
	for i := headerLen; i < len(raw); i += 2 {
		raw[i] ^= 0xFF
	}

	_, err = Load(bytes.NewReader(raw), cfg)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.CorruptEngram), "got: %v", err)
}

func TestDescribe(t *testing.T) {
	cfg := testConfig()
	e, err := Ingest([]File{{Path: "a.txt", Data: []byte("some bytes to chunk and describe")}}, cfg, kernel.DefaultBackend{})
	require.NoError(t, err)
	stat := e.Describe()
	require.Equal(t, FormatVersion, stat.Version)
	require.Equal(t, cfg.Dimensionality, stat.Dimensionality)
	require.Equal(t, 1, stat.Files)
	require.Greater(t, stat.Chunks, 0)
}

func TestPathPrefixes(t *testing.T) {
	require.Equal(t, []string{"a", "a/b", "a/b/c.txt"}, PathPrefixes("a/b/c.txt"))
	require.Equal(t, []string{"a.txt"}, PathPrefixes("a.txt"))
}
