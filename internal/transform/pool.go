package transform

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
)

// Pool is a fixed-size worker pool for CPU-bound image transforms. It is
// sized independently of the dispatcher's executor pool: transform work
// wants one worker per spare core, while the dispatcher's concurrency is
// about overlapping I/O waits. The workers are long-lived and pull from a
// shared task channel, so the pool size bounds parallel transform work
// across all in-flight jobs.
type Pool struct {
	size     int
	maxBytes int
	tasks    chan task
	logger   *slog.Logger
	wg       sync.WaitGroup
	once     sync.Once
}

type task struct {
	idx  int
	data []byte
	out  chan<- result
}

type result struct {
	idx  int
	data []byte
	err  error
}

// Config holds transform pool configuration.
type Config struct {
	Logger *slog.Logger
	// Size is the number of workers. Zero means DefaultSize().
	Size int
	// MaxBytes is the per-image byte budget. Zero means DefaultMaxBytes.
	MaxBytes int
}

// DefaultSize leaves one core for everything else and caps at 8.
func DefaultSize() int {
	size := runtime.NumCPU() - 1
	if size < 1 {
		size = 1
	}
	if size > 8 {
		size = 8
	}
	return size
}

// NewPool creates the pool and starts its workers.
func NewPool(cfg *Config) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = DefaultSize()
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	p := &Pool{
		size:     size,
		maxBytes: maxBytes,
		tasks:    make(chan task),
		logger:   cfg.Logger,
	}

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.logger.Info("Transform pool started",
		slog.Int("workers", size),
		slog.Int("max_bytes", maxBytes),
	)

	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// worker processes transform tasks until the pool closes. Transforms are
// pure functions over their input, so workers share no mutable state.
func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		data, err := normalizeImage(t.data, p.maxBytes)
		t.out <- result{idx: t.idx, data: data, err: err}
	}
}

// ProcessAll submits every blob to the pool and waits for all results,
// preserving input order. The first error is returned after all submitted
// work has settled; partial results are discarded.
func (p *Pool) ProcessAll(ctx context.Context, blobs [][]byte) ([][]byte, error) {
	if len(blobs) == 0 {
		return nil, nil
	}

	out := make(chan result, len(blobs))

	go func() {
		for i, blob := range blobs {
			select {
			case p.tasks <- task{idx: i, data: blob, out: out}:
			case <-ctx.Done():
				out <- result{idx: i, err: ctx.Err()}
			}
		}
	}()

	results := make([][]byte, len(blobs))
	var firstErr error
	for range blobs {
		r := <-out
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		results[r.idx] = r.data
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// Close stops the workers. Pending ProcessAll calls must have returned.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.tasks)
		p.wg.Wait()
		p.logger.Info("Transform pool stopped")
	})
}
