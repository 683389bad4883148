// Package pubout implements the public-output buffer: 64 u32 slots
// (256 bytes) filled through a write cursor, with values serialized in and out
// via encoding/gob.
package pubout

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
)

// NumSlots is the number of 32-bit slots backing the public-output
// region (256 bytes total).
const NumSlots = 64

// Buffer is the 64-slot public-output region with a write cursor.
type Buffer struct {
	slots [NumSlots]uint32
	pos   int
}

// New returns an empty Buffer.
func New() *Buffer { return &Buffer{} }

// Write serializes v with gob and packs the result into consecutive u32
// slots starting at the current write position (the end of any
// previously written values), returning the number of slots consumed.
func (b *Buffer) Write(v any) (int, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return 0, fmt.Errorf("pubout: encode: %w", err)
	}

	data := buf.Bytes()
	slotsNeeded := (len(data) + 3) / 4
	if b.pos+slotsNeeded > NumSlots {
		return 0, fmt.Errorf("pubout: value needs %d slots, only %d remain", slotsNeeded, NumSlots-b.pos)
	}

	padded := make([]byte, slotsNeeded*4)
	copy(padded, data)
	for i := 0; i < slotsNeeded; i++ {
		b.slots[b.pos+i] = binary.LittleEndian.Uint32(padded[i*4 : i*4+4])
	}
	b.pos += slotsNeeded
	return slotsNeeded, nil
}

// Read deserializes a value of type T from the given slot span. Since gob
// framing is self-delimiting only at the stream level, Read requires the
// caller to pass the exact slot span Write reported.
func Read[T any](b *Buffer, fromSlot, slotCount int) (T, error) {
	var out T
	if fromSlot < 0 || fromSlot+slotCount > NumSlots {
		return out, fmt.Errorf("pubout: slot range [%d,%d) out of bounds", fromSlot, fromSlot+slotCount)
	}
	data := make([]byte, slotCount*4)
	for i := 0; i < slotCount; i++ {
		binary.LittleEndian.PutUint32(data[i*4:i*4+4], b.slots[fromSlot+i])
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&out); err != nil {
		return out, fmt.Errorf("pubout: decode: %w", err)
	}
	return out, nil
}

// PublicBytes repacks the 64 slots as 64 little-endian u64 words, each
// slot zero-extended into its own word (512 bytes total).
func (b *Buffer) PublicBytes() [NumSlots]uint64 {
	var out [NumSlots]uint64
	for i, s := range b.slots {
		out[i] = uint64(s)
	}
	return out
}

// PublicBytesSolidity repacks the 64 slots as 64 big-endian u32 words,
// Solidity's ABI convention for fixed arrays.
func (b *Buffer) PublicBytesSolidity() [NumSlots]uint32 {
	var out [NumSlots]uint32
	for i, s := range b.slots {
		out[i] = bitsSwap(s)
	}
	return out
}

// bitsSwap byte-reverses a u32, turning our little-endian-packed slot into
// its big-endian representation.
func bitsSwap(v uint32) uint32 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return binary.BigEndian.Uint32(buf[:])
}
