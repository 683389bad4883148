// Package shmem implements the multi-file shared-memory mapper: a sequence
// of independently-allocated POSIX shared-memory segments presented to the
// reader as one contiguous, never-relocating virtual region.
package shmem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// golang.org/x/sys/unix's Mmap/Munmap wrappers never take an explicit
// address (they always pass addr=0 to the kernel), so there is no way to
// express MAP_FIXED through them. The reservation and per-file mapping
// calls below go through the raw mmap(2)/munmap(2) syscalls instead, the
// same way the unix package implements Mmap internally.
func rawMmap(addr uintptr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	r, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, errno
	}
	return r, nil
}

func rawMunmap(addr uintptr, length uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Header is implemented by the fixed-layout struct stored at the start of
// file 0, publishing the producer's current live extent.
type Header interface {
	AllocatedSize() uint64
}

// shmDir is where POSIX shared-memory objects live on Linux; shm_open is a
// glibc convenience wrapper around opening a file here, so this package
// talks to it directly via golang.org/x/sys/unix rather than shelling out
// to cgo. (edsrzf/mmap-go, the other candidate for this component, only
// exposes a plain mmap of an existing fd — it has no way to request
// PROT_NONE/MAP_NORESERVE/MAP_FIXED, which this algorithm requires, so the
// reservation and growth logic below goes directly through
// golang.org/x/sys/unix instead.)
const shmDir = "/dev/shm"

type mappedFile struct {
	fd   int
	size int
}

// MultiSharedMemory reserves max_size bytes of virtual address space up
// front and incrementally maps growing producer files into contiguous
// offsets of that reservation, so previously returned pointers into it never
// move.
type MultiSharedMemory struct {
	baseName           string
	headerSize         int
	reservedAddr       uintptr
	reservedSize       int
	initialSize        int
	incrementalSize    int
	unlockMappedMemory bool

	mu              sync.Mutex
	mappedFiles     []mappedFile
	totalMappedSize int
}

// Open reserves maxSize bytes of address space and maps file 0
// (base_name+"_0") into the first initialSize bytes of it.
func Open(baseName string, headerSize, initialSize, incrementalSize, maxSize int, unlockMappedMemory bool) (*MultiSharedMemory, error) {
	if baseName == "" {
		return nil, errors.New("shmem: base name cannot be empty")
	}
	if maxSize < initialSize {
		return nil, fmt.Errorf("shmem: max_size (%d) must be >= initial_size (%d)", maxSize, initialSize)
	}
	if incrementalSize == 0 {
		return nil, errors.New("shmem: incremental_size must be > 0")
	}

	reservedAddr, err := rawMmap(0, uintptr(maxSize), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE, -1, 0)
	if err != nil {
		return nil, fmt.Errorf("shmem: failed to reserve %d bytes of address space for %q: %w", maxSize, baseName, err)
	}

	m := &MultiSharedMemory{
		baseName:           baseName,
		headerSize:         headerSize,
		reservedAddr:       reservedAddr,
		reservedSize:       maxSize,
		initialSize:        initialSize,
		incrementalSize:    incrementalSize,
		unlockMappedMemory: unlockMappedMemory,
	}

	if err := m.mapFile(0); err != nil {
		unmapPtr(m.reservedAddr, m.reservedSize)
		return nil, err
	}

	m.totalMappedSize = initialSize

	return m, nil
}

// CheckSizeChanged reads the producer's current allocated_size from the
// header (always file 0) and maps any not-yet-mapped growth files, without
// moving any existing mapping.
func (m *MultiSharedMemory) CheckSizeChanged(readHeader func(base unsafe.Pointer) uint64) (bool, error) {
	allocatedSize := int(readHeader(unsafe.Pointer(m.reservedAddr)))

	m.mu.Lock()
	if allocatedSize <= m.totalMappedSize {
		m.mu.Unlock()
		return false, nil
	}

	var filesNeeded int
	if allocatedSize <= m.initialSize {
		filesNeeded = 1
	} else {
		filesNeeded = 1 + ceilDiv(allocatedSize-m.initialSize, m.incrementalSize)
	}
	currentFiles := len(m.mappedFiles)
	m.mu.Unlock()

	if filesNeeded <= currentFiles {
		m.mu.Lock()
		m.totalMappedSize = allocatedSize
		m.mu.Unlock()
		return true, nil
	}

	for idx := currentFiles; idx < filesNeeded; idx++ {
		if err := m.mapFile(idx); err != nil {
			return false, err
		}
	}

	m.mu.Lock()
	m.totalMappedSize = allocatedSize
	m.mu.Unlock()

	return true, nil
}

func (m *MultiSharedMemory) mapFile(fileIdx int) error {
	fileName := fmt.Sprintf("%s_%d", m.baseName, fileIdx)

	// Unlinking is the producer's job; the consumer only opens by name so
	// later growth files stay reachable.
	fd, err := shmOpen(fileName, os.O_RDONLY)
	if err != nil {
		return fmt.Errorf("shmem: shm_open(%q) failed: %w", fileName, err)
	}

	if fileIdx == 0 {
		headerAddr, err := rawMmap(0, uintptr(m.headerSize), unix.PROT_READ, unix.MAP_SHARED, fd, 0)
		if err != nil {
			unix.Close(fd)
			return fmt.Errorf("shmem: mmap failed for header of %q: %w", fileName, err)
		}
		allocated := *(*uint64)(unsafe.Pointer(headerAddr))
		rawMunmap(headerAddr, uintptr(m.headerSize))
		if allocated == 0 {
			unix.Close(fd)
			return fmt.Errorf("shmem: shared memory %q has zero allocated size", fileName)
		}
	}

	var offset int
	if fileIdx != 0 {
		offset = m.initialSize + (fileIdx-1)*m.incrementalSize
	}
	fileSize := m.incrementalSize
	if fileIdx == 0 {
		fileSize = m.initialSize
	}

	targetAddr := m.reservedAddr + uintptr(offset)

	flags := unix.MAP_SHARED | unix.MAP_FIXED
	if !m.unlockMappedMemory {
		flags |= unix.MAP_LOCKED
	}

	if _, err := rawMmap(targetAddr, uintptr(fileSize), unix.PROT_READ, flags, fd, 0); err != nil {
		unix.Close(fd)
		return fmt.Errorf("shmem: mmap(MAP_FIXED) failed for %q: %w (%d bytes at %#x)", fileName, err, fileSize, targetAddr)
	}

	m.mu.Lock()
	m.mappedFiles = append(m.mappedFiles, mappedFile{fd: fd, size: fileSize})
	m.mu.Unlock()

	return nil
}

// MappedPtr returns the base pointer of the reservation.
func (m *MultiSharedMemory) MappedPtr() unsafe.Pointer { return unsafe.Pointer(m.reservedAddr) }

// DataPtr returns a pointer to the data area, immediately after the header.
func (m *MultiSharedMemory) DataPtr() unsafe.Pointer {
	return unsafe.Pointer(m.reservedAddr + uintptr(m.headerSize))
}

// TotalMappedSize returns the currently mapped extent.
func (m *MultiSharedMemory) TotalMappedSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalMappedSize
}

// NumMappedFiles returns the number of currently mapped files.
func (m *MultiSharedMemory) NumMappedFiles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mappedFiles)
}

// ReleaseIncremental closes descriptors for files 1.. while keeping file 0
// and the reservation, allowing the instance to be reused for a new
// session.
func (m *MultiSharedMemory) ReleaseIncremental() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.mappedFiles) > 1 {
		last := m.mappedFiles[len(m.mappedFiles)-1]
		m.mappedFiles = m.mappedFiles[:len(m.mappedFiles)-1]
		unix.Close(last.fd)
	}
	m.totalMappedSize = m.initialSize
}

// Close closes all file descriptors and unmaps the entire reservation in
// one call.
func (m *MultiSharedMemory) Close() error {
	m.mu.Lock()
	files := m.mappedFiles
	m.mappedFiles = nil
	m.mu.Unlock()

	for _, f := range files {
		unix.Close(f.fd)
	}

	if m.reservedAddr != 0 && m.reservedSize > 0 {
		return unmapPtr(m.reservedAddr, m.reservedSize)
	}
	return nil
}

func shmOpen(name string, flag int) (int, error) {
	return unix.Open(filepath.Join(shmDir, name), flag, 0)
}

func unmapPtr(addr uintptr, size int) error {
	return rawMunmap(addr, uintptr(size))
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
