// Package poolcfg is the core's single "configure pool" entrypoint (spec
// §5): the core never creates a global worker pool implicitly, and no
// suspension points exist inside STV ops, encode/decode, or index query —
// every task submitted here is pure CPU.
package poolcfg

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/errgroup"

	"github.com/tzervas/embeddenator-core/config"
)

// Pool runs CPU-bound, data-parallel tasks (per-chunk encoding,
// per-candidate scoring, per-vector bundling) with a bounded number of
// concurrent workers and a deterministic final merge left to the caller.
type Pool struct {
	workers int
}

// New resolves cfg.Workers (0 => physical core count) once and returns a
// Pool. The resolution happens here, not lazily, so behavior doesn't change
// mid-run if GOMAXPROCS is adjusted.
func New(cfg config.PoolConfig) *Pool {
	n := cfg.Workers
	if n <= 0 {
		n = physicalCoreCount()
	}
	return &Pool{workers: n}
}

// physicalCoreCount returns the machine's physical (non-hyperthreaded) core
// count, falling back to runtime.NumCPU()'s logical count if the platform
// probe fails — a default=physical-cores worker pool still needs to start
// on a host where gopsutil can't read /proc/cpuinfo or its platform
// equivalent.
func physicalCoreCount() int {
	n, err := cpu.Counts(false)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Workers reports the resolved worker count.
func (p *Pool) Workers() int { return p.workers }

// Run partitions [0, n) into contiguous, deterministic chunks — one per
// worker — and calls fn(start, end) for each partition concurrently. A
// deterministic partition boundary (rather than a shared work queue) keeps
// parallel reductions associative-by-construction when the caller combines
// partial results in partition order (spec §5, "Ordering guarantees").
func (p *Pool) Run(ctx context.Context, n int, fn func(start, end int) error) error {
	if n <= 0 {
		return nil
	}
	workers := p.workers
	if workers > n {
		workers = n
	}
	g, ctx := errgroup.WithContext(ctx)
	base := n / workers
	rem := n % workers
	start := 0
	for w := 0; w < workers; w++ {
		size := base
		if w < rem {
			size++
		}
		s, e := start, start+size
		start = e
		if s == e {
			continue
		}
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fn(s, e)
		})
	}
	return g.Wait()
}

// RunIndexed is Run, but fn receives the index directly rather than a
// [start,end) range; useful when per-item work is not uniform in cost.
func (p *Pool) RunIndexed(ctx context.Context, n int, fn func(i int) error) error {
	return p.Run(ctx, n, func(start, end int) error {
		for i := start; i < end; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	})
}
