package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rubo/ziskgo/internal/device"
)

// StreamKind names which emulator output stream a chunk envelope belongs
// to.
type StreamKind int

const (
	StreamMainTrace StreamKind = iota
	StreamMemOps
	StreamROMHistogram
)

func (k StreamKind) String() string {
	switch k {
	case StreamMainTrace:
		return "main-trace"
	case StreamMemOps:
		return "mem-ops"
	case StreamROMHistogram:
		return "rom-histogram"
	default:
		return "unknown"
	}
}

// Chunk is one chunk envelope: a header naming the producing stream and
// carrying the cumulative step count, and a body that is either a trace
// slice (main trace) or a merged set of per-device counts (memory ops,
// ROM histogram).
type Chunk struct {
	Stream          StreamKind
	ChunkID         int
	CumulativeSteps uint64

	Trace  []device.Operation
	Counts map[uint32]uint64
}

// ChunkSource yields successive chunk envelopes from one emulator output
// stream. Next returns (nil, nil) once the stream is exhausted.
type ChunkSource interface {
	Next(ctx context.Context) (*Chunk, error)
}

// InputWriter publishes the run's standard input to the shared-memory
// input region the emulator reads from, before any chunk is produced.
type InputWriter interface {
	WriteInput(data []byte) error
}

// PipelineResult is the outcome of a full Execute run: the merged main
// counters in chunk order plus the secondary streams' merged counts.
type PipelineResult struct {
	TotalSteps   uint64
	MainCounters map[uint32]uint64
	PerChunk     []ChunkResult
	MemOps       map[uint32]uint64
	ROMHistogram map[uint32]uint64
}

// Execute runs the full execution pipeline: write stdin to the emulator's
// input region, then spawn the MT (main trace), MO (memory ops) and RH
// (ROM histogram) workers. MT chunks are fanned out to chunk-parallel
// replays against thread-local buses; MO and RH counts are merged as
// they arrive. The RH source is only consumed when cfg.OwnsROM is set
// (the ROM histogram exists only on the partition that owns the ROM);
// pass rh == nil otherwise.
//
// Every ChunkID on the main trace must appear exactly once; a duplicate
// is an internal-consistency error. The emulator's reported step count
// (the last main-trace chunk's CumulativeSteps) must equal the total
// steps replayed.
func (e *Executor) Execute(ctx context.Context, stdin []byte, in InputWriter, mt, mo, rh ChunkSource) (PipelineResult, error) {
	if mt == nil {
		return PipelineResult{}, fmt.Errorf("executor: main-trace source is required")
	}
	if in != nil {
		if err := in.WriteInput(stdin); err != nil {
			return PipelineResult{}, fmt.Errorf("executor: write input region: %w", err)
		}
	}

	var (
		mu       sync.Mutex
		results  []ChunkResult
		seen     = make(map[int]struct{})
		reported uint64
		replayed uint64

		memOps = make(map[uint32]uint64)
		romHis = make(map[uint32]uint64)
	)

	replayCtx, cancelReplays := context.WithCancel(ctx)
	defer cancelReplays()
	replays := new(errgroup.Group)
	if e.cfg.WorkerCount > 0 {
		replays.SetLimit(e.cfg.WorkerCount)
	}

	group, ctx := errgroup.WithContext(ctx)

	// MT worker: pull sequential main-trace chunks, schedule one replay
	// task per chunk.
	group.Go(func() error {
		for {
			chunk, err := mt.Next(ctx)
			if err != nil {
				return fmt.Errorf("executor: main-trace source: %w", err)
			}
			if chunk == nil {
				return nil
			}
			if chunk.Stream != StreamMainTrace {
				return fmt.Errorf("executor: main-trace source produced a %s chunk", chunk.Stream)
			}

			mu.Lock()
			if _, dup := seen[chunk.ChunkID]; dup {
				mu.Unlock()
				return fmt.Errorf("executor: chunk %d appeared in more than one batch", chunk.ChunkID)
			}
			seen[chunk.ChunkID] = struct{}{}
			if chunk.CumulativeSteps > reported {
				reported = chunk.CumulativeSteps
			}
			mu.Unlock()

			trace := chunk
			replays.Go(func() error {
				select {
				case <-replayCtx.Done():
					return replayCtx.Err()
				default:
				}

				bus := e.cfg.NewBus()
				for _, op := range trace.Trace {
					bus.Publish(op)
				}
				counters := collectCounters(bus)
				bus.Close()

				mu.Lock()
				results = append(results, ChunkResult{ChunkID: trace.ChunkID, Counters: counters})
				replayed += uint64(len(trace.Trace))
				mu.Unlock()
				return nil
			})
		}
	})

	// MO worker: pull the merged memory-operation stream.
	if mo != nil {
		group.Go(func() error {
			return drainCountStream(ctx, mo, StreamMemOps, &mu, memOps)
		})
	}

	// RH worker: the ROM histogram exists only on the ROM-owning
	// partition.
	if e.cfg.OwnsROM && rh != nil {
		group.Go(func() error {
			return drainCountStream(ctx, rh, StreamROMHistogram, &mu, romHis)
		})
	}

	if err := group.Wait(); err != nil {
		cancelReplays()
		_ = replays.Wait()
		return PipelineResult{}, err
	}
	if err := replays.Wait(); err != nil {
		return PipelineResult{}, err
	}

	if reported != replayed {
		return PipelineResult{}, fmt.Errorf("executor: emulator reported %d steps but %d were replayed", reported, replayed)
	}

	sortChunkResults(results)
	perChunk := make([]map[uint32]uint64, len(results))
	for i, r := range results {
		perChunk[i] = r.Counters
	}

	return PipelineResult{
		TotalSteps:   replayed,
		MainCounters: device.MergeCounters(perChunk...),
		PerChunk:     results,
		MemOps:       memOps,
		ROMHistogram: romHis,
	}, nil
}

func sortChunkResults(results []ChunkResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].ChunkID < results[j].ChunkID })
}

func drainCountStream(ctx context.Context, src ChunkSource, want StreamKind, mu *sync.Mutex, into map[uint32]uint64) error {
	for {
		chunk, err := src.Next(ctx)
		if err != nil {
			return fmt.Errorf("executor: %s source: %w", want, err)
		}
		if chunk == nil {
			return nil
		}
		if chunk.Stream != want {
			return fmt.Errorf("executor: %s source produced a %s chunk", want, chunk.Stream)
		}

		mu.Lock()
		for k, v := range chunk.Counts {
			into[k] += v
		}
		mu.Unlock()
	}
}
