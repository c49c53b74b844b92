// Package ops implements the Operations Surface (spec §6): the
// filesystem-facing entrypoints — ingest, extract, query, bundle_hier,
// update — that a caller (a CLI, a test harness, an embedding app) drives
// instead of wiring engram/hbuild/hquery/update/index together itself.
//
// Grounded on turbo/snapshotsync's convention of small, named, single-
// purpose driver functions around a self-contained storage engine —
// here realized over chunk/engram/hbuild/hquery/update instead of
// snapshot segments.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tzervas/embeddenator-core/chunk"
	"github.com/tzervas/embeddenator-core/config"
	"github.com/tzervas/embeddenator-core/elog"
	"github.com/tzervas/embeddenator-core/engram"
	"github.com/tzervas/embeddenator-core/errs"
	"github.com/tzervas/embeddenator-core/hbuild"
	"github.com/tzervas/embeddenator-core/hquery"
	"github.com/tzervas/embeddenator-core/index"
	"github.com/tzervas/embeddenator-core/kernel"
	"github.com/tzervas/embeddenator-core/stv"
	"github.com/tzervas/embeddenator-core/update"
)

// Result is the common outcome shape the Operations Surface returns
// (spec §6: "ingest(...) -> Result"): every op either succeeds with a
// count/stat or fails with one of the §7 error kinds.
type Result struct {
	Message string
	Stat    engram.Stat
}

// Ingest walks every path in inputs (files are taken as-is, directories
// are walked recursively), builds a flat engram from the collected
// files with paths relative to each input root, and saves it to
// engramOut (spec §6 "ingest").
func Ingest(log elog.Logger, inputs []string, engramOut string, cfg config.VsaConfig, backend kernel.VsaBackend) (Result, error) {
	files, err := collectFiles(inputs)
	if err != nil {
		return Result{}, err
	}
	log.Info("ingest: collected files", "count", len(files))

	e, err := engram.Ingest(files, cfg, backend)
	if err != nil {
		return Result{}, err
	}
	if err := engram.SaveFile(engramOut, e); err != nil {
		return Result{}, err
	}
	stat := e.Describe()
	log.Info("ingest: wrote engram", "path", engramOut, "files", stat.Files, "chunks", stat.Chunks)
	return Result{Message: fmt.Sprintf("ingested %d files into %s", stat.Files, engramOut), Stat: stat}, nil
}

// collectFiles expands inputs (files or directories) into engram.File
// values. A directory input contributes every regular file beneath it,
// with Path relative to the directory itself and forward-slashed so
// ValidatePath accepts it regardless of host OS.
func collectFiles(inputs []string) ([]engram.File, error) {
	var out []engram.File
	for _, in := range inputs {
		fi, err := os.Stat(in)
		if err != nil {
			return nil, fmt.Errorf("ops: ingest: stat %s: %w", in, err)
		}
		if !fi.IsDir() {
			data, err := os.ReadFile(in)
			if err != nil {
				return nil, fmt.Errorf("ops: ingest: read %s: %w", in, err)
			}
			out = append(out, engram.File{Path: filepath.Base(in), Data: data})
			continue
		}
		err = filepath.Walk(in, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(in, path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			out = append(out, engram.File{Path: filepath.ToSlash(rel), Data: data})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("ops: ingest: walk %s: %w", in, err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Extract loads engramPath and writes every reconstructed file beneath
// outDir, bit-exact (spec §6 "extract").
func Extract(log elog.Logger, engramPath, outDir string, cfg config.VsaConfig) (Result, error) {
	e, err := engram.LoadFile(engramPath, cfg)
	if err != nil {
		return Result{}, err
	}
	files, err := e.ExtractAll()
	if err != nil {
		return Result{}, err
	}
	for path, data := range files {
		dst := filepath.Join(outDir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return Result{}, fmt.Errorf("ops: extract: mkdir for %s: %w", dst, err)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return Result{}, fmt.Errorf("ops: extract: write %s: %w", dst, err)
		}
	}
	log.Info("extract: wrote files", "count", len(files), "out_dir", outDir)
	return Result{Message: fmt.Sprintf("extracted %d files to %s", len(files), outDir), Stat: e.Describe()}, nil
}

// QueryHit is one scored result returned by Query (spec §6: "ordered
// list of (chunk_id, score)").
type QueryHit struct {
	ChunkID string
	Score   float64
}

// Query loads engramPath, encodes queryBytes into a query STV the same
// way ingest would encode a one-chunk file, builds a flat
// TernaryInvertedIndex over the whole codebook, and returns the top-k
// hits (spec §6 "query").
func Query(log elog.Logger, engramPath string, queryBytes []byte, k int, cfg config.VsaConfig, backend kernel.VsaBackend) ([]QueryHit, error) {
	e, err := engram.LoadFile(engramPath, cfg)
	if err != nil {
		return nil, err
	}
	q, err := encodeQuery(queryBytes, cfg, backend)
	if err != nil {
		return nil, err
	}
	idx := index.Build(e.Codebook, cfg.Dimensionality)
	log.Debug("query: built flat index", "vectors", idx.Len())
	hits, err := idx.QueryAndRerank(backend, e.Codebook, q, k, 4)
	if err != nil {
		return nil, err
	}
	out := make([]QueryHit, len(hits))
	for i, h := range hits {
		out[i] = QueryHit{ChunkID: string(h.ID), Score: h.Score}
	}
	return out, nil
}

// encodeQuery turns arbitrary bytes into a single query STV, the same
// encode_data path a one-chunk ingest would take.
func encodeQuery(data []byte, cfg config.VsaConfig, backend kernel.VsaBackend) (stv.STV, error) {
	size := len(data)
	if size == 0 {
		size = 1
	}
	chunks, err := chunk.Split(data, size)
	if err != nil {
		return stv.STV{}, err
	}
	if len(chunks) == 0 {
		return stv.New(cfg.Dimensionality), nil
	}
	return backend.EncodeData(chunks[0], cfg.Dimensionality)
}

// BundleHier loads engramPath, builds its hierarchical manifest, and
// writes it out in the directory form spec §6 describes: one
// `<id>.subengram` blob per sub-engram plus a `hierarchical.manifest.json`
// index.
func BundleHier(log elog.Logger, engramPath, outDir string, vcfg config.VsaConfig, hcfg config.HierarchicalConfig, backend kernel.VsaBackend) (Result, error) {
	e, err := engram.LoadFile(engramPath, vcfg)
	if err != nil {
		return Result{}, err
	}
	h, err := hbuild.Build(e, vcfg, hcfg, backend)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("ops: bundle_hier: mkdir %s: %w", outDir, err)
	}
	for id, se := range h.SubEngrams {
		path := filepath.Join(outDir, id+".subengram")
		f, err := os.Create(path)
		if err != nil {
			return Result{}, fmt.Errorf("ops: bundle_hier: create %s: %w", path, err)
		}
		err = engram.SaveSubEngram(f, se)
		closeErr := f.Close()
		if err != nil {
			return Result{}, err
		}
		if closeErr != nil {
			return Result{}, fmt.Errorf("ops: bundle_hier: close %s: %w", path, closeErr)
		}
	}
	if err := writeHierarchicalManifestJSON(filepath.Join(outDir, "hierarchical.manifest.json"), h); err != nil {
		return Result{}, err
	}
	log.Info("bundle_hier: wrote hierarchy", "sub_engrams", len(h.SubEngrams), "out_dir", outDir)
	return Result{Message: fmt.Sprintf("built %d sub-engrams into %s", len(h.SubEngrams), outDir), Stat: e.Describe()}, nil
}

// hierarchicalManifestJSON mirrors the JSON shape spec §6 names for the
// hierarchical form, independent of engram.HierarchicalManifest's
// in-memory layout (which keys SubEngrams by id and needs no repetition
// of that id inside each value for JSON).
type hierarchicalManifestJSON struct {
	Version int                 `json:"version"`
	RootID  string              `json:"root_id"`
	Levels  []hierLevelJSON     `json:"levels"`
	Nodes   map[string]nodeJSON `json:"nodes"`
}

type hierLevelJSON struct {
	Level int                 `json:"level"`
	Items []hierLevelItemJSON `json:"items"`
}

type hierLevelItemJSON struct {
	PathPrefix  string `json:"path_prefix"`
	SubEngramID string `json:"sub_engram_id"`
}

type nodeJSON struct {
	ChunkIDs []string `json:"chunk_ids"`
	Children []string `json:"children"`
	Level    int      `json:"level"`
}

func writeHierarchicalManifestJSON(path string, h engram.HierarchicalManifest) error {
	doc := hierarchicalManifestJSON{Version: h.Version, RootID: h.RootID, Nodes: make(map[string]nodeJSON, len(h.SubEngrams))}
	for _, lvl := range h.Levels {
		items := make([]hierLevelItemJSON, len(lvl.Items))
		for i, it := range lvl.Items {
			items[i] = hierLevelItemJSON{PathPrefix: it.PathPrefix, SubEngramID: it.SubEngramID}
		}
		doc.Levels = append(doc.Levels, hierLevelJSON{Level: lvl.Level, Items: items})
	}
	for id, se := range h.SubEngrams {
		chunkIDs := make([]string, len(se.ChunkIDs))
		for i, c := range se.ChunkIDs {
			chunkIDs[i] = string(c)
		}
		doc.Nodes[id] = nodeJSON{ChunkIDs: chunkIDs, Children: se.Children, Level: se.Level}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ops: bundle_hier: marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("ops: bundle_hier: write %s: %w", path, err)
	}
	return nil
}

// QueryHier runs the beam-bounded hierarchical query (spec §6 "query"
// against a hierarchical engram, §4.H) over an in-memory
// HierarchicalManifest built moments earlier by BundleHier's caller, or
// loaded back from a directory — load-from-directory is left to a
// caller-supplied hquery.SubEngramStore since spec §6's directory form
// loads sub-engrams lazily, not all at once.
func QueryHier(log elog.Logger, e *engram.Engram, h engram.HierarchicalManifest, store hquery.SubEngramStore, queryBytes []byte, cfg config.VsaConfig, hcfg config.HierarchicalConfig, backend kernel.VsaBackend) ([]QueryHit, error) {
	q, err := encodeQuery(queryBytes, cfg, backend)
	if err != nil {
		return nil, err
	}
	bounds := hquery.BoundsFromConfig(hcfg)
	hits, err := hquery.Query(h, store, e.Codebook, backend, q, bounds)
	if err != nil {
		return nil, err
	}
	log.Debug("query_hier: beam search complete", "hits", len(hits))
	out := make([]QueryHit, len(hits))
	for i, hit := range hits {
		out[i] = QueryHit{ChunkID: string(hit.ID), Score: hit.Score}
	}
	return out, nil
}

// UpdateSpec is one change to apply via Update, using the same path
// vocabulary as collectFiles: DataPath is read from disk for Added and
// Modified, ignored for Removed.
type UpdateSpec struct {
	Kind     string // "add", "remove", "modify"
	Path     string // manifest path
	DataPath string // filesystem path to read new bytes from (add/modify)
}

// Update applies a batch of add/remove/modify changes to the engram at
// engramPath, under the entrypoint's advisory lock (spec §6
// "update{add,remove,modify,...}").
func Update(log elog.Logger, engramPath string, specs []UpdateSpec, cfg config.VsaConfig, backend kernel.VsaBackend) (Result, error) {
	diffs := make([]update.Diff, len(specs))
	for i, s := range specs {
		kind, err := parseDiffKind(s.Kind)
		if err != nil {
			return Result{}, err
		}
		d := update.Diff{Kind: kind, Path: s.Path}
		if kind != update.Removed {
			data, err := os.ReadFile(s.DataPath)
			if err != nil {
				return Result{}, fmt.Errorf("ops: update: read %s: %w", s.DataPath, err)
			}
			d.Data = data
		}
		diffs[i] = d
	}
	e, err := update.ApplyToFile(engramPath, diffs, cfg, backend)
	if err != nil {
		return Result{}, err
	}
	log.Info("update: applied diffs", "count", len(diffs), "path", engramPath)
	return Result{Message: fmt.Sprintf("applied %d changes to %s", len(diffs), engramPath), Stat: e.Describe()}, nil
}

// Compact runs update.CompactFile against engramPath (spec §6 "update
// ... compact").
func Compact(log elog.Logger, engramPath string, cfg config.VsaConfig) (Result, error) {
	e, err := update.CompactFile(engramPath, cfg)
	if err != nil {
		return Result{}, err
	}
	log.Info("compact: rebuilt engram", "path", engramPath, "chunks", e.Codebook.Len())
	return Result{Message: fmt.Sprintf("compacted %s", engramPath), Stat: e.Describe()}, nil
}

func parseDiffKind(s string) (update.Kind, error) {
	switch strings.ToLower(s) {
	case "add", "added":
		return update.Added, nil
	case "remove", "removed":
		return update.Removed, nil
	case "modify", "modified":
		return update.Modified, nil
	default:
		return 0, errs.Wrapf(errs.InvariantViolation, "ops: update: unknown diff kind %q", s)
	}
}
