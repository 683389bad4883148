package shmem

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInputRegionWriteAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input_0")

	r, err := OpenInputRegion(path, 64)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.WriteInput([]byte("stdin payload")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, uint64(13), binary.LittleEndian.Uint64(raw[:8]))
	require.Equal(t, "stdin payload", string(raw[8:8+13]))
}

func TestInputRegionRejectsOversizedInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input_0")

	r, err := OpenInputRegion(path, 8)
	require.NoError(t, err)
	defer r.Close()

	require.Error(t, r.WriteInput(make([]byte, 9)))
	require.NoError(t, r.WriteInput(make([]byte, 8)))
}

func TestInputRegionClosedWriteFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input_0")

	r, err := OpenInputRegion(path, 8)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.Error(t, r.WriteInput([]byte("x")))
}

func TestOpenInputRegionRejectsZeroCapacity(t *testing.T) {
	_, err := OpenInputRegion(filepath.Join(t.TempDir(), "input_0"), 0)
	require.Error(t, err)
}
