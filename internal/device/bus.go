// Package device implements the precompile device bundle: a pub/sub bus of
// state-machine devices, each either accumulating opcode-level counters or
// generating follow-up bus operations for a precompile's memory accesses.
package device

// BusID names a logical channel on the Bus. In practice only the operation
// bus is used; the type exists so additional buses (e.g. a dedicated memory
// bus) can be introduced without changing the subscriber interface.
type BusID int

const BusOperation BusID = 0

// Operation is a single published bus event: an opcode tag plus operands.
// Extra carries precompile-specific operands (e.g. DMA's byte count) beyond
// the two generic 64-bit operands every opcode carries.
type Operation struct {
	Opcode uint32
	A, B   uint64
	Extra  []uint64
}

// Device subscribes to one or more buses. Measure accumulates per-opcode
// metrics; ProcessData may enqueue derived operations (e.g. DMA fanning out
// into aligned/unaligned body reads and writes), which the bus publishes in
// turn.
//
// The bus holds subscribers as Device interface values in a per-bus slice
// and dispatches each published operation by iterating that slice; there
// is no tagged variant over the concrete device types.
type Device interface {
	BusIDs() []BusID
	Measure(op Operation)
	ProcessData(op Operation) []Operation
}

// CounterDevice is implemented by devices that expose a per-opcode
// occurrence count (OpcodeCounter, DMASubCounter), letting the executor's
// chunk pipeline reduce a bus's final counters without type-switching over
// the closed device set.
type CounterDevice interface {
	Device
	Counts() map[uint32]uint64
}

// Bus fans out published operations to every subscribed device, and
// recursively publishes any derived operations a device's ProcessData
// returns.
type Bus struct {
	subscribers map[BusID][]Device
	counters    []CounterDevice
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[BusID][]Device)}
}

// Subscribe registers d against every bus it names in BusIDs.
func (b *Bus) Subscribe(d Device) {
	for _, id := range d.BusIDs() {
		b.subscribers[id] = append(b.subscribers[id], d)
	}
	if c, ok := d.(CounterDevice); ok {
		b.counters = append(b.counters, c)
	}
}

// OpcodeCounters returns every subscribed device that exposes per-opcode
// counts, in subscription order.
func (b *Bus) OpcodeCounters() []CounterDevice {
	return b.counters
}

// Publish invokes Measure and ProcessData on every subscriber of op's bus,
// recursively publishing any derived operations.
func (b *Bus) Publish(op Operation) {
	b.publishOn(BusOperation, op)
}

func (b *Bus) publishOn(id BusID, op Operation) {
	for _, d := range b.subscribers[id] {
		d.Measure(op)
		for _, derived := range d.ProcessData(op) {
			b.publishOn(id, derived)
		}
	}
}

// Close detaches all subscribers, dropping any per-device state the caller
// doesn't want to keep. Callers that want to read final counters should do
// so before calling Close.
func (b *Bus) Close() {
	b.subscribers = make(map[BusID][]Device)
}
