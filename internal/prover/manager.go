package prover

import (
	"fmt"
	"sync"

	"github.com/rubo/ziskgo/internal/mpi"
)

// Manager is the proof manager: a process-wide singleton because it owns
// the MPI communicators used for the one cluster-wide synchronization
// point. Custom commits (like the ROM's Merkle key) are
// registered against it by name.
type Manager struct {
	mu      sync.Mutex
	commits map[string]string
	comm    *mpi.Comm
}

// Comm lazily creates (on first call) and returns the Manager's MPI
// communicator sized for worldSize ranks. Subsequent calls with a
// different worldSize than the one the communicator was created with are
// a caller bug, since a communicator's size is fixed once ranks start
// calling Barrier/Broadcast against it.
func (m *Manager) Comm(worldSize int) (*mpi.Comm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.comm != nil {
		if m.comm.Size() != worldSize {
			return nil, fmt.Errorf("prover: communicator already created with size %d, got %d", m.comm.Size(), worldSize)
		}
		return m.comm, nil
	}
	comm, err := mpi.NewComm(worldSize)
	if err != nil {
		return nil, err
	}
	m.comm = comm
	return comm, nil
}

var (
	managerOnce sync.Once
	manager     *Manager
)

// DefaultManager returns the process-wide Manager singleton, constructing
// it exactly once.
func DefaultManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{commits: make(map[string]string)}
	})
	return manager
}

// RegisterCommit registers a named custom commit (e.g. "rom") against its
// file path. Re-registering the same name overwrites the prior path,
// since a facade's Setup may run more than once against a different ELF
// within the same process.
func (m *Manager) RegisterCommit(name, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[name] = path
}

// Commit returns the registered path for name, if any.
func (m *Manager) Commit(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path, ok := m.commits[name]
	return path, ok
}

// proveWitness is the proof-manager prove entry point. The constraint
// system and commitment scheme are external collaborators; what belongs
// to this core is the envelope the aggregation tree and the persisted
// artifacts carry: the ROM commit it was proved against and the executed
// step count the final proof reports.
func (m *Manager) proveWitness(rom *ROM, executedSteps uint64) []byte {
	romCommit, ok := m.Commit("rom")
	if !ok {
		romCommit = rom.MerkleKeyPath
	}
	out := make([]byte, 0, 8+len(romCommit))
	for i := 0; i < 8; i++ {
		out = append(out, byte(executedSteps>>(8*i)))
	}
	return append(out, romCommit...)
}

// witnessCell is a single-set cell: the witness library is
// registered at most meaningfully once; subsequent registrations are a
// no-op rather than an error ("registration fails idempotently").
type witnessCell struct {
	mu  sync.Mutex
	set bool
	lib WitnessLibrary
}

func (c *witnessCell) register(lib WitnessLibrary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return nil
	}
	c.lib = lib
	c.set = true
	return nil
}

func (c *witnessCell) get() (WitnessLibrary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lib, c.set
}

// asmServices models the assembly backend's external micro-services
// (memory-operations and histogram) started over per-partition
// port-based shared memory. The processes themselves are
// external collaborators; this type only tracks the addresses/handles a
// real implementation would plumb through.
type asmServices struct {
	memOpsAddr    string
	histogramAddr string
}

func startASMServices(cfg AsmConfig) (*asmServices, error) {
	if cfg.BasePort <= 0 {
		return nil, fmt.Errorf("prover: asm backend requires a positive BasePort")
	}
	return &asmServices{
		memOpsAddr:    shmemName("memops", cfg.BasePort, cfg.LocalRank),
		histogramAddr: shmemName("histogram", cfg.BasePort, cfg.LocalRank),
	}, nil
}

// shmemName derives a shared-memory/port base name from (service, port,
// local_rank): "{service}_{port}_{local_rank}_{k}"
// (the _{k} growth-file suffix is appended by the shmem package itself).
func shmemName(service string, port, localRank int) string {
	return fmt.Sprintf("%s_%d_%d", service, port, localRank)
}
