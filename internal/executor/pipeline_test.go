package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rubo/ziskgo/internal/device"
)

// sliceSource replays a fixed chunk sequence.
type sliceSource struct {
	chunks []*Chunk
	next   int
}

func (s *sliceSource) Next(ctx context.Context) (*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.chunks) {
		return nil, nil
	}
	c := s.chunks[s.next]
	s.next++
	return c, nil
}

type recordingInput struct {
	data []byte
}

func (r *recordingInput) WriteInput(data []byte) error {
	r.data = append([]byte(nil), data...)
	return nil
}

func mainChunk(id int, cumulative uint64, ops int) *Chunk {
	trace := make([]device.Operation, ops)
	for i := range trace {
		trace[i] = device.Operation{Opcode: opAdd}
	}
	return &Chunk{Stream: StreamMainTrace, ChunkID: id, CumulativeSteps: cumulative, Trace: trace}
}

func TestExecuteMergesAllThreeStreams(t *testing.T) {
	ex, err := New(Config{NewBus: newCountingBus, WorkerCount: 2, OwnsROM: true})
	require.NoError(t, err)

	mt := &sliceSource{chunks: []*Chunk{
		mainChunk(0, 2, 2),
		mainChunk(1, 3, 1),
		mainChunk(2, 6, 3),
	}}
	mo := &sliceSource{chunks: []*Chunk{
		{Stream: StreamMemOps, ChunkID: 0, Counts: map[uint32]uint64{1: 4}},
		{Stream: StreamMemOps, ChunkID: 1, Counts: map[uint32]uint64{1: 6, 2: 1}},
	}}
	rh := &sliceSource{chunks: []*Chunk{
		{Stream: StreamROMHistogram, ChunkID: 0, Counts: map[uint32]uint64{0x1000: 5}},
	}}

	in := &recordingInput{}
	result, err := ex.Execute(context.Background(), []byte("stdin-bytes"), in, mt, mo, rh)
	require.NoError(t, err)

	require.Equal(t, []byte("stdin-bytes"), in.data)
	require.Equal(t, uint64(6), result.TotalSteps)
	require.Equal(t, uint64(6), result.MainCounters[opAdd])
	require.Equal(t, uint64(10), result.MemOps[1])
	require.Equal(t, uint64(1), result.MemOps[2])
	require.Equal(t, uint64(5), result.ROMHistogram[0x1000])

	require.Len(t, result.PerChunk, 3)
	for i, r := range result.PerChunk {
		require.Equal(t, i, r.ChunkID)
	}
}

func TestExecuteSkipsROMHistogramWhenNotOwner(t *testing.T) {
	ex, err := New(Config{NewBus: newCountingBus})
	require.NoError(t, err)

	mt := &sliceSource{chunks: []*Chunk{mainChunk(0, 1, 1)}}
	rh := &sliceSource{chunks: []*Chunk{
		{Stream: StreamROMHistogram, ChunkID: 0, Counts: map[uint32]uint64{0x1000: 5}},
	}}

	result, err := ex.Execute(context.Background(), nil, nil, mt, nil, rh)
	require.NoError(t, err)
	require.Empty(t, result.ROMHistogram)
	require.Zero(t, rh.next)
}

func TestExecuteRejectsDuplicateChunkID(t *testing.T) {
	ex, err := New(Config{NewBus: newCountingBus})
	require.NoError(t, err)

	mt := &sliceSource{chunks: []*Chunk{
		mainChunk(0, 1, 1),
		mainChunk(0, 2, 1),
	}}

	_, err = ex.Execute(context.Background(), nil, nil, mt, nil, nil)
	require.ErrorContains(t, err, "more than one batch")
}

func TestExecuteRejectsStepCountMismatch(t *testing.T) {
	ex, err := New(Config{NewBus: newCountingBus})
	require.NoError(t, err)

	// The emulator claims 5 cumulative steps but only 2 are in the trace.
	mt := &sliceSource{chunks: []*Chunk{mainChunk(0, 5, 2)}}

	_, err = ex.Execute(context.Background(), nil, nil, mt, nil, nil)
	require.ErrorContains(t, err, "steps")
}

func TestExecuteRejectsWrongStreamKind(t *testing.T) {
	ex, err := New(Config{NewBus: newCountingBus})
	require.NoError(t, err)

	mt := &sliceSource{chunks: []*Chunk{
		{Stream: StreamMemOps, ChunkID: 0, Counts: map[uint32]uint64{1: 1}},
	}}

	_, err = ex.Execute(context.Background(), nil, nil, mt, nil, nil)
	require.ErrorContains(t, err, "main-trace source produced")
}
