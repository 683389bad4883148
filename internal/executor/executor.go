// Package executor runs the chunk-parallel minimal trace computation: the
// ROM is replayed once per chunk, each replay on its own goroutine with a
// thread-local device bus, and the resulting per-chunk counters are merged
// back in chunk order once every replay completes.
package executor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rubo/ziskgo/internal/device"
)

// EmuTrace is one chunk's replay input: the starting step count and the
// operations a single chunk-player pass must process.
type EmuTrace struct {
	ChunkID    int
	StartStep  uint64
	Operations []device.Operation
}

// ChunkResult pairs a chunk's id with the counters its thread-local bus
// accumulated, so results can be sorted back into chunk order after the
// parallel map phase.
type ChunkResult struct {
	ChunkID  int
	Counters map[uint32]uint64
}

// ExecutionResult is the outcome of a full minimal-trace run.
type ExecutionResult struct {
	TotalSteps uint64
}

// BusFactory builds a fresh, thread-local bus (with its counting devices
// subscribed) for one chunk replay. Implementations typically subscribe
// the same counter devices the full proving run uses.
type BusFactory func() *device.Bus

// Config configures the chunk-parallel executor.
type Config struct {
	// ChunkSize is the number of steps per emulated chunk; informational
	// here, since chunk boundaries are precomputed by the caller.
	ChunkSize uint64

	// WorkerCount bounds how many chunk replays run concurrently; 0 means
	// unbounded (errgroup's default, gated only by GOMAXPROCS scheduling).
	WorkerCount int

	// OwnsROM marks this partition as the owner of the ROM; only the
	// owning partition consumes the ROM-histogram stream in Execute.
	OwnsROM bool

	NewBus BusFactory
}

// Executor replays minimal traces across chunks in parallel and reduces
// their device counters into one combined table.
type Executor struct {
	cfg Config
}

func New(cfg Config) (*Executor, error) {
	if cfg.NewBus == nil {
		return nil, fmt.Errorf("executor: NewBus factory is required")
	}
	return &Executor{cfg: cfg}, nil
}

// RunMT replays every chunk's operations against a thread-local bus built
// by the configured BusFactory, merging every chunk's final counters back
// in chunk-id order once all replays have finished.
func (e *Executor) RunMT(ctx context.Context, traces []EmuTrace) (ExecutionResult, map[uint32]uint64, error) {
	var mu sync.Mutex
	results := make([]ChunkResult, 0, len(traces))

	group, ctx := errgroup.WithContext(ctx)
	if e.cfg.WorkerCount > 0 {
		group.SetLimit(e.cfg.WorkerCount)
	}

	var totalSteps uint64
	var stepsMu sync.Mutex

	for _, trace := range traces {
		trace := trace
		group.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			bus := e.cfg.NewBus()
			for _, op := range trace.Operations {
				bus.Publish(op)
			}

			counters := collectCounters(bus)

			mu.Lock()
			results = append(results, ChunkResult{ChunkID: trace.ChunkID, Counters: counters})
			mu.Unlock()

			stepsMu.Lock()
			totalSteps += uint64(len(trace.Operations))
			stepsMu.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return ExecutionResult{}, nil, err
	}

	sortChunkResults(results)

	perChunk := make([]map[uint32]uint64, len(results))
	for i, r := range results {
		perChunk[i] = r.Counters
	}

	return ExecutionResult{TotalSteps: totalSteps}, device.MergeCounters(perChunk...), nil
}

func collectCounters(bus *device.Bus) map[uint32]uint64 {
	merged := make(map[uint32]uint64)
	for _, counter := range bus.OpcodeCounters() {
		for op, count := range counter.Counts() {
			merged[op] += count
		}
	}
	return merged
}
