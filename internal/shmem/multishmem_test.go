package shmem

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// writeProducerFile creates and populates base_name_idx directly under
// /dev/shm, standing in for the producer process the reader expects to
// race against.
func writeProducerFile(t *testing.T, name string, size int, fill byte) {
	t.Helper()
	path := "/dev/shm/" + name
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	require.NoError(t, err)
	defer f.Close()
	t.Cleanup(func() { os.Remove(path) })
	require.NoError(t, f.Truncate(int64(size)))
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = fill
	}
	_, err = f.WriteAt(buf, 0)
	require.NoError(t, err)
}

func writeHeader(t *testing.T, name string, headerSize int, allocatedSize uint64) {
	t.Helper()
	path := "/dev/shm/" + name
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer f.Close()
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(header, allocatedSize)
	_, err = f.WriteAt(header, 0)
	require.NoError(t, err)
}

func uniqueBaseName(t *testing.T) string {
	return fmt.Sprintf("ziskgo_test_%s_%d", t.Name(), rand.Uint64())
}

func TestOpenMapsFileZeroContiguously(t *testing.T) {
	const headerSize = 64
	const initialSize = 4096
	base := uniqueBaseName(t)

	writeProducerFile(t, base+"_0", initialSize, 0xAB)
	writeHeader(t, base+"_0", headerSize, initialSize)

	m, err := Open(base, headerSize, initialSize, 4096, 1<<20, true)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, initialSize, m.TotalMappedSize())
	require.Equal(t, 1, m.NumMappedFiles())

	data := unsafe.Slice((*byte)(m.DataPtr()), initialSize-headerSize)
	for _, b := range data {
		require.Equal(t, byte(0xAB), b)
	}
}

func TestCheckSizeChangedMapsGrowthFilesAtContiguousOffsets(t *testing.T) {
	const headerSize = 64
	const initialSize = 4096
	const incrementalSize = 4096
	base := uniqueBaseName(t)

	writeProducerFile(t, base+"_0", initialSize, 0x01)
	writeHeader(t, base+"_0", headerSize, initialSize)

	m, err := Open(base, headerSize, initialSize, incrementalSize, 1<<20, true)
	require.NoError(t, err)
	defer m.Close()

	basePtr := m.MappedPtr()

	writeProducerFile(t, base+"_1", incrementalSize, 0x02)
	writeHeader(t, base+"_0", headerSize, uint64(initialSize+incrementalSize))

	readHeader := func(p unsafe.Pointer) uint64 {
		return binary.LittleEndian.Uint64(unsafe.Slice((*byte)(p), 8))
	}

	changed, err := m.CheckSizeChanged(readHeader)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 2, m.NumMappedFiles())
	require.Equal(t, initialSize+incrementalSize, m.TotalMappedSize())

	// The reservation never relocates: file 0's base pointer is unchanged.
	require.Equal(t, basePtr, m.MappedPtr())

	grown := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(m.MappedPtr())+uintptr(initialSize))), incrementalSize)
	for _, b := range grown {
		require.Equal(t, byte(0x02), b)
	}

	// Idempotent: calling again with no change in allocated size is a no-op.
	changed, err = m.CheckSizeChanged(readHeader)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestOpenRejectsMaxSizeSmallerThanInitialSize(t *testing.T) {
	base := uniqueBaseName(t)
	_, err := Open(base, 64, 4096, 4096, 1024, true)
	require.Error(t, err)
}

func TestReleaseIncrementalKeepsFileZero(t *testing.T) {
	const headerSize = 64
	const initialSize = 4096
	const incrementalSize = 4096
	base := uniqueBaseName(t)

	writeProducerFile(t, base+"_0", initialSize, 0x01)
	writeHeader(t, base+"_0", headerSize, initialSize)

	m, err := Open(base, headerSize, initialSize, incrementalSize, 1<<20, true)
	require.NoError(t, err)
	defer m.Close()

	writeProducerFile(t, base+"_1", incrementalSize, 0x02)
	writeHeader(t, base+"_0", headerSize, uint64(initialSize+incrementalSize))
	_, err = m.CheckSizeChanged(func(p unsafe.Pointer) uint64 {
		return binary.LittleEndian.Uint64(unsafe.Slice((*byte)(p), 8))
	})
	require.NoError(t, err)
	require.Equal(t, 2, m.NumMappedFiles())

	m.ReleaseIncremental()
	require.Equal(t, 1, m.NumMappedFiles())
	require.Equal(t, initialSize, m.TotalMappedSize())
}

func TestRawMmapRejectsInvalidFd(t *testing.T) {
	_, err := rawMmap(0, 4096, unix.PROT_READ, unix.MAP_SHARED, 99999, 0)
	require.Error(t, err)
}
