package shmem

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
)

// inputHeaderSize is the fixed prefix of an input region: a u64 length
// field the emulator reads before the payload.
const inputHeaderSize = 8

// InputRegion is the writable shared-memory region a run's standard input
// is published to before the emulator starts (the executor pipeline's
// first step). It is the producer-side counterpart of MultiSharedMemory's
// consumer-side mapping: a single fixed-size file-backed mapping, since
// the input is written once and never grows.
type InputRegion struct {
	file *os.File

	mu  sync.Mutex
	mem mmap.MMap
}

// OpenInputRegion creates (or truncates) the named shared-memory file at
// the given capacity and maps it read-write.
func OpenInputRegion(name string, capacity int) (*InputRegion, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("shmem: input region capacity must be positive, got %d", capacity)
	}

	f, err := os.OpenFile(shmPath(name), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmem: open input region %q: %w", name, err)
	}
	if err := f.Truncate(int64(inputHeaderSize + capacity)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shmem: size input region %q: %w", name, err)
	}

	mem, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmem: map input region %q: %w", name, err)
	}

	return &InputRegion{file: f, mem: mem}, nil
}

// WriteInput publishes data into the region: payload first, then the
// length word, so a concurrent reader polling the length never observes a
// non-zero length ahead of the payload.
func (r *InputRegion) WriteInput(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mem == nil {
		return fmt.Errorf("shmem: input region is closed")
	}
	if len(data) > len(r.mem)-inputHeaderSize {
		return fmt.Errorf("shmem: input of %d bytes exceeds region capacity %d", len(data), len(r.mem)-inputHeaderSize)
	}

	copy(r.mem[inputHeaderSize:], data)
	binary.LittleEndian.PutUint64(r.mem[:inputHeaderSize], uint64(len(data)))
	return r.mem.Flush()
}

// Close unmaps the region and closes the backing file.
func (r *InputRegion) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mem == nil {
		return nil
	}
	err := r.mem.Unmap()
	r.mem = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func shmPath(name string) string {
	// Same /dev/shm convention the consumer-side mapper uses; tests can
	// pass an absolute path to land elsewhere.
	if len(name) > 0 && name[0] == '/' {
		return name
	}
	return shmDir + "/" + name
}
