// Package config holds the core's process configuration. There is no
// module-level default instance: every entrypoint takes a VsaConfig (or
// PoolConfig) value explicitly (spec §9, "Global state: forbidden"). A
// Default*() constructor is a convenience, not shared state.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"
)

// VsaConfig parameterizes the VSA substrate and chunk codec. D is fixed
// process-wide for any given engram; a reader that opens an engram built
// with a different D must reject it (spec §6).
type VsaConfig struct {
	// Dimensionality of every STV in this engram.
	Dimensionality int `toml:"dimensionality"`

	// TargetSparsity is the fraction of nonzero dimensions used for role
	// vectors and recorded as the engram header's sparsity hint (spec §3,
	// "typically ~1%"). chunk.Encode does not read it.
	TargetSparsity float64 `toml:"target_sparsity"`

	// ChunkSize is the ingest chunk size in bytes. The last chunk of a
	// file may be shorter.
	ChunkSize datasize.ByteSize `toml:"chunk_size"`

	// HybridBundleCollisionBudget is the number of estimated dimension
	// conflicts above which bundle_hybrid switches from pairwise bundle to
	// bundle_sum_many to preserve associativity (spec §4.B, §9 Open
	// Questions: "should be a configurable parameter").
	HybridBundleCollisionBudget int `toml:"hybrid_bundle_collision_budget"`

	// DenseFastPathThreshold is loaded and stored with the config but is
	// not read by any operation; the stv package applies its own fixed
	// D/4 threshold for the packed-trit fast path (spec §4.B, "~D/4").
	DenseFastPathThreshold int `toml:"dense_fast_path_threshold"`

	// MasterSeed seeds every randomized primitive (role vectors,
	// permutation subkeys) deterministically (spec §5, RNG).
	MasterSeed uint64 `toml:"master_seed"`
}

// DefaultVsaConfig returns the spec's suggested defaults: D=10000,
// ~1% sparsity, 4 KiB chunks.
func DefaultVsaConfig() VsaConfig {
	return VsaConfig{
		Dimensionality:              10000,
		TargetSparsity:              0.01,
		ChunkSize:                   4 * datasize.KB,
		HybridBundleCollisionBudget: 32,
		DenseFastPathThreshold:      2500,
		MasterSeed:                  0x5eed,
	}
}

// Validate rejects a configuration that would make the codec or STV
// algebra ill-defined.
func (c VsaConfig) Validate() error {
	if c.Dimensionality <= 0 {
		return fmt.Errorf("config: dimensionality must be positive, got %d", c.Dimensionality)
	}
	if c.TargetSparsity <= 0 || c.TargetSparsity >= 1 {
		return fmt.Errorf("config: target_sparsity must be in (0,1), got %f", c.TargetSparsity)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("config: chunk_size must be positive, got %s", c.ChunkSize)
	}
	if c.HybridBundleCollisionBudget < 0 {
		return fmt.Errorf("config: hybrid_bundle_collision_budget must be >= 0, got %d", c.HybridBundleCollisionBudget)
	}
	return nil
}

// HierarchicalConfig parameterizes the hierarchical builder (spec §4.I)
// and beam query (spec §4.H).
type HierarchicalConfig struct {
	MaxLevelSparsity  float64 `toml:"max_level_sparsity"`
	MaxChunksPerNode  int     `toml:"max_chunks_per_node"`
	K                 int     `toml:"k"`
	BeamWidth         int     `toml:"beam_width"`
	MaxDepth          int     `toml:"max_depth"`
	MaxExpansions     int     `toml:"max_expansions"`
	MaxOpenEngrams    int     `toml:"max_open_engrams"`
	MaxOpenIndices    int     `toml:"max_open_indices"`
}

// DefaultHierarchicalConfig returns conservative bounds suitable for a
// modest corpus.
func DefaultHierarchicalConfig() HierarchicalConfig {
	return HierarchicalConfig{
		MaxLevelSparsity: 0.02,
		MaxChunksPerNode: 4096,
		K:                10,
		BeamWidth:        16,
		MaxDepth:         8,
		MaxExpansions:    512,
		MaxOpenEngrams:   64,
		MaxOpenIndices:   64,
	}
}

// PoolConfig configures the caller-owned worker pool (spec §5). The core
// never creates a pool implicitly.
type PoolConfig struct {
	// Workers is the number of goroutines in the pool. 0 means one worker
	// per physical core (poolcfg.New falls back to runtime.NumCPU() if the
	// probe fails), resolved once at construction time, not re-read.
	Workers int `toml:"workers"`
}

// DefaultPoolConfig returns a config that resolves to one worker per
// physical core when passed to poolcfg.New.
func DefaultPoolConfig() PoolConfig { return PoolConfig{Workers: 0} }

// File is the on-disk TOML configuration envelope combining every
// sub-config. Unknown keys are a load error — see Load.
type File struct {
	Vsa          VsaConfig          `toml:"vsa"`
	Hierarchical HierarchicalConfig `toml:"hierarchical"`
	Pool         PoolConfig         `toml:"pool"`
}

// DefaultFile returns a File populated with every sub-config's defaults.
func DefaultFile() File {
	return File{
		Vsa:          DefaultVsaConfig(),
		Hierarchical: DefaultHierarchicalConfig(),
		Pool:         DefaultPoolConfig(),
	}
}

// Load reads and parses a TOML configuration file. Unknown keys are
// rejected (no silent ignore), matching the manifest-parsing policy in
// spec §6.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	f := DefaultFile()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}
