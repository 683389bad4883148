package device

// DMA opcodes on the operation bus. OpDMACopy is published by the executor
// for a memcpy-shaped precompile operation; the DMA device decomposes it
// into up to four derived sub-operations, which are themselves published
// back onto the bus for the corresponding sub-devices to count.
const (
	OpDMACopy uint32 = iota + 1
	opDMAPre
	opDMAPost
	opDMABodyAligned
	opDMABodyUnaligned
)

// DMADevice classifies each published OpDMACopy operation into its
// unaligned head/tail and aligned/unaligned body sub-operations, using the
// compact bit-packed encoding from EncodeMemcpy.
type DMADevice struct {
	copies uint64
}

func NewDMADevice() *DMADevice { return &DMADevice{} }

func (d *DMADevice) BusIDs() []BusID { return []BusID{BusOperation} }

func (d *DMADevice) Measure(op Operation) {
	if op.Opcode == OpDMACopy {
		d.copies++
	}
}

func (d *DMADevice) Copies() uint64 { return d.copies }

func (d *DMADevice) ProcessData(op Operation) []Operation {
	if op.Opcode != OpDMACopy || len(op.Extra) == 0 {
		return nil
	}

	dst, src, count := op.A, op.B, int(op.Extra[0])
	encoded := EncodeMemcpy(dst, src, count)

	var derived []Operation

	if GetPreCount(encoded) > 0 {
		derived = append(derived, Operation{Opcode: opDMAPre, A: dst, B: src, Extra: []uint64{uint64(GetPreCount(encoded))}})
	}
	if GetPostCount(encoded) > 0 {
		derived = append(derived, Operation{Opcode: opDMAPost, A: dst, B: src, Extra: []uint64{uint64(GetPostCount(encoded))}})
	}
	if loopCount := GetLoopCount(encoded); loopCount > 0 {
		bodyOpcode := uint32(opDMABodyAligned)
		if GetDstOffset(encoded) != GetSrcOffset(encoded) {
			bodyOpcode = opDMABodyUnaligned
		}
		derived = append(derived, Operation{Opcode: bodyOpcode, A: dst, B: src, Extra: []uint64{uint64(loopCount)}})
	}

	return derived
}

// DMASubCounter counts trace rows for one of the DMA sub-devices (pre, post,
// aligned body, unaligned body).
type DMASubCounter struct {
	opcode uint32
	rows   uint64
}

func newDMASubCounter(opcode uint32) *DMASubCounter { return &DMASubCounter{opcode: opcode} }

func NewDMAPreCounter() *DMASubCounter           { return newDMASubCounter(opDMAPre) }
func NewDMAPostCounter() *DMASubCounter          { return newDMASubCounter(opDMAPost) }
func NewDMABodyAlignedCounter() *DMASubCounter   { return newDMASubCounter(opDMABodyAligned) }
func NewDMABodyUnalignedCounter() *DMASubCounter { return newDMASubCounter(opDMABodyUnaligned) }

func (c *DMASubCounter) BusIDs() []BusID { return []BusID{BusOperation} }

func (c *DMASubCounter) Measure(op Operation) {
	if op.Opcode == c.opcode && len(op.Extra) > 0 {
		c.rows += op.Extra[0]
	}
}

func (c *DMASubCounter) ProcessData(Operation) []Operation { return nil }

func (c *DMASubCounter) Rows() uint64 { return c.rows }

// Counts satisfies CounterDevice, reporting rows under this sub-device's
// own opcode key so it merges alongside OpcodeCounter-based devices.
func (c *DMASubCounter) Counts() map[uint32]uint64 {
	if c.rows == 0 {
		return nil
	}
	return map[uint32]uint64{c.opcode: c.rows}
}
