package pubout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type execSummary struct {
	Steps  uint64
	Status uint32
}

func TestWriteReadRoundTrip(t *testing.T) {
	b := New()

	want := execSummary{Steps: 12345, Status: 7}
	n, err := b.Write(want)
	require.NoError(t, err)
	require.Positive(t, n)

	got, err := Read[execSummary](b, 0, n)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestWriteSequentialValues(t *testing.T) {
	b := New()

	n1, err := b.Write(uint64(42))
	require.NoError(t, err)
	n2, err := b.Write("hello")
	require.NoError(t, err)

	v1, err := Read[uint64](b, 0, n1)
	require.NoError(t, err)
	require.Equal(t, uint64(42), v1)

	v2, err := Read[string](b, n1, n2)
	require.NoError(t, err)
	require.Equal(t, "hello", v2)
}

func TestWriteRejectsOverflow(t *testing.T) {
	b := New()
	_, err := b.Write(make([]byte, NumSlots*4))
	require.Error(t, err)
}

func TestReadRejectsOutOfBounds(t *testing.T) {
	b := New()
	_, err := Read[uint64](b, NumSlots-1, 2)
	require.Error(t, err)
	_, err = Read[uint64](b, -1, 1)
	require.Error(t, err)
}

func TestPublicBytesZeroExtendsEachSlot(t *testing.T) {
	b := New()
	b.slots[0] = 0x11223344
	b.slots[1] = 0x55667788
	b.slots[NumSlots-1] = 0xFFFFFFFF

	words := b.PublicBytes()
	require.Len(t, words[:], NumSlots)
	require.Equal(t, uint64(0x11223344), words[0])
	require.Equal(t, uint64(0x55667788), words[1])
	require.Equal(t, uint64(0xFFFFFFFF), words[NumSlots-1])
	require.Equal(t, uint64(0), words[2])
}

func TestPublicBytesSolidityByteSwaps(t *testing.T) {
	b := New()
	b.slots[0] = 0x11223344

	out := b.PublicBytesSolidity()
	require.Equal(t, uint32(0x44332211), out[0])
	require.Len(t, out[:], NumSlots)
}
