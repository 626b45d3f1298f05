package reduce

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Launcher schedules one kernel invocation per worker position over a
// bounded set of goroutines. Positions are split in contiguous blocks; a
// block runs its positions in order on one goroutine. The launcher does not
// order blocks relative to each other.
type Launcher struct {
	// Workers bounds the number of concurrent goroutines. Zero or negative
	// means runtime.NumCPU().
	Workers int
	// BlockSize is the number of positions per block. Zero or negative
	// splits the positions evenly across workers.
	BlockSize int
}

// NewLauncher returns a launcher with the given parallelism.
func NewLauncher(workers int) *Launcher {
	return &Launcher{Workers: workers}
}

// DefaultLauncher uses one goroutine per CPU.
var DefaultLauncher = NewLauncher(0)

func (l *Launcher) workers(n int) int {
	w := runtime.NumCPU()
	if l != nil && l.Workers > 0 {
		w = l.Workers
	}
	return max(1, min(w, n))
}

// Launch calls fn(p) exactly once for every p in [0, n) unless ctx is
// cancelled first. Cancellation is only observed between blocks; a block
// that started always completes. When Launch returns an error the output of
// the dispatch is undefined and must be recomputed in full.
func (l *Launcher) Launch(ctx context.Context, n int, fn func(p int)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n <= 0 {
		return nil
	}

	workers := l.workers(n)
	blockSize := (n + workers - 1) / workers
	if l != nil && l.BlockSize > 0 {
		blockSize = l.BlockSize
	}

	if workers == 1 && blockSize >= n {
		for p := 0; p < n; p++ {
			fn(p)
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(workers)
	cancelled := false
	for start := 0; start < n; start += blockSize {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		end := min(start+blockSize, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for p := start; p < end; p++ {
				fn(p)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if cancelled {
		return ctx.Err()
	}
	return nil
}
