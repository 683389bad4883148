package device

import "sync"

// AirInstance is a generated witness table: one row per processed
// operation, columns opaque to this package (owned by the constraint
// system, out of scope here).
type AirInstance struct {
	Name string
	Rows [][]uint64
}

// WitnessGenerator is implemented by devices whose ProcessData derives a
// witness table from accumulated inputs, e.g. 256-bit arithmetic, BN254 /
// BLS12-381 curve and pairing devices, SHA-256, Keccak-f, Poseidon2.
//
// ComputeWitness can run chunk-parallel: each caller passes a disjoint slice
// of inputs and its own buffer. The interface has no reduce step; combining
// per-chunk results is left to the caller.
type WitnessGenerator interface {
	ComputeWitness(inputs []Operation, buffer *AirInstance) (AirInstance, error)
}

// OpcodeCounter is the generic counter-mode device shape used by 256-bit
// arithmetic, curve, pairing, and hash devices: it accumulates an
// occurrence count per opcode. Per-chunk snapshots from Counts are reduced
// with MergeCounters after the chunk-parallel map phase.
type OpcodeCounter struct {
	opcodes map[uint32]struct{}

	mu     sync.Mutex
	counts map[uint32]uint64
}

// NewOpcodeCounter builds a counter subscribed to exactly the given opcodes.
func NewOpcodeCounter(opcodes ...uint32) *OpcodeCounter {
	set := make(map[uint32]struct{}, len(opcodes))
	for _, op := range opcodes {
		set[op] = struct{}{}
	}
	return &OpcodeCounter{opcodes: set, counts: make(map[uint32]uint64)}
}

func (c *OpcodeCounter) BusIDs() []BusID { return []BusID{BusOperation} }

func (c *OpcodeCounter) Measure(op Operation) {
	if _, ok := c.opcodes[op.Opcode]; !ok {
		return
	}
	c.mu.Lock()
	c.counts[op.Opcode]++
	c.mu.Unlock()
}

func (c *OpcodeCounter) ProcessData(Operation) []Operation { return nil }

// Counts returns a snapshot of per-opcode occurrence counts.
func (c *OpcodeCounter) Counts() map[uint32]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint32]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// MergeCounters reduces a set of per-chunk OpcodeCounter snapshots
// (collected from thread-local counters during the map phase) into one
// combined map, keyed by opcode.
func MergeCounters(chunks ...map[uint32]uint64) map[uint32]uint64 {
	merged := make(map[uint32]uint64)
	for _, chunk := range chunks {
		for op, count := range chunk {
			merged[op] += count
		}
	}
	return merged
}
