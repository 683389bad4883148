package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFastEncodeMatchesReferenceEncoder(t *testing.T) {
	// The fast lookup-table encoder must match the reference long-form
	// encoder for every (dst, src, count) combination.
	for dst := uint64(0); dst < 256; dst += 3 {
		for src := uint64(0); src < 256; src += 5 {
			for count := 0; count < 256; count += 7 {
				require.Equal(t, EncodeMemcpy(dst, src, count), FastEncodeMemcpy(dst, src, count),
					"dst=%#x src=%#x count=%d", dst, src, count)
			}
		}
	}
}

func TestFastEncodeTableSmallDomainExhaustive(t *testing.T) {
	for dst := uint64(0); dst < 8; dst++ {
		for src := uint64(0); src < 8; src++ {
			for count := 0; count < 16; count++ {
				require.Equal(t, EncodeMemcpy(dst, src, count), FastEncodeMemcpy(dst, src, count))
			}
		}
	}
}

func TestDmaUnalignedCopyDecomposition(t *testing.T) {
	// dst = ...03, src = ...05, count = 16: expect 1 pre (5 bytes), 1
	// unaligned body iteration (8 bytes), 1 post (3 bytes).
	encoded := EncodeMemcpy(0x03, 0x05, 16)
	require.Equal(t, 5, GetPreCount(encoded))
	require.Equal(t, 3, GetPostCount(encoded))
	require.Equal(t, 1, GetLoopCount(encoded))
	require.NotZero(t, GetDstOffset(encoded)^GetSrcOffset(encoded), "offsets must differ for unaligned body")
}

func newDMABus() (*Bus, *DMADevice, *DMASubCounter, *DMASubCounter, *DMASubCounter, *DMASubCounter) {
	bus := NewBus()
	dma := NewDMADevice()
	pre := NewDMAPreCounter()
	post := NewDMAPostCounter()
	aligned := NewDMABodyAlignedCounter()
	unaligned := NewDMABodyUnalignedCounter()
	bus.Subscribe(dma)
	bus.Subscribe(pre)
	bus.Subscribe(post)
	bus.Subscribe(aligned)
	bus.Subscribe(unaligned)
	return bus, dma, pre, post, aligned, unaligned
}

func TestDMADeviceDecomposesMisalignedCopyOnBus(t *testing.T) {
	// dst = ...03, src = ...05, count = 16: one 5-byte pre, one unaligned
	// 64-bit body iteration, one 3-byte post, fanned out as derived bus
	// operations and counted by the sub-devices.
	bus, dma, pre, post, aligned, unaligned := newDMABus()

	bus.Publish(Operation{Opcode: OpDMACopy, A: 0x1003, B: 0x2005, Extra: []uint64{16}})

	if got := dma.Copies(); got != 1 {
		t.Fatalf("Copies() = %d, want 1", got)
	}
	if got := pre.Rows(); got != 5 {
		t.Fatalf("pre rows = %d, want 5", got)
	}
	if got := unaligned.Rows(); got != 1 {
		t.Fatalf("unaligned body rows = %d, want 1", got)
	}
	if got := post.Rows(); got != 3 {
		t.Fatalf("post rows = %d, want 3", got)
	}
	if got := aligned.Rows(); got != 0 {
		t.Fatalf("aligned body rows = %d, want 0", got)
	}
}

func TestDMADeviceAlignedCopyUsesAlignedBody(t *testing.T) {
	// Matching dst/src offsets (mod 8): no shift-blend, aligned body only.
	bus, _, pre, post, aligned, unaligned := newDMABus()

	bus.Publish(Operation{Opcode: OpDMACopy, A: 0x1000, B: 0x2000, Extra: []uint64{32}})

	if got := aligned.Rows(); got != 4 {
		t.Fatalf("aligned body rows = %d, want 4", got)
	}
	if unaligned.Rows() != 0 || pre.Rows() != 0 || post.Rows() != 0 {
		t.Fatalf("unexpected sub-device rows: pre=%d post=%d unaligned=%d",
			pre.Rows(), post.Rows(), unaligned.Rows())
	}
}

func TestDMADeviceIgnoresForeignOpcodes(t *testing.T) {
	bus, dma, pre, _, _, _ := newDMABus()

	bus.Publish(Operation{Opcode: OpSha256, A: 1, B: 2, Extra: []uint64{8}})

	if dma.Copies() != 0 || pre.Rows() != 0 {
		t.Fatalf("non-DMA operation must not reach the DMA sub-devices")
	}
}

func expectedWriteValue(dstOffset, srcOffset, count, preValue uint64, srcValues []uint64) uint64 {
	resultBytes := leBytes(preValue)
	var srcBytes []byte
	for _, v := range srcValues {
		b := leBytes(v)
		srcBytes = append(srcBytes, b[:]...)
	}
	for i := uint64(0); i < count; i++ {
		resultBytes[dstOffset+i] = srcBytes[srcOffset+i]
	}
	return fromLeBytes(resultBytes)
}

func leBytes(v uint64) [8]byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func fromLeBytes(b [8]byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func TestCalculateWriteValueAllCombinations(t *testing.T) {
	src0 := uint64(0x0102030405060708)
	src1 := uint64(0x1112131415161718)
	preValue := uint64(0xAABBCCDDEEFF0011)

	for dstOffset := uint64(0); dstOffset < 8; dstOffset++ {
		for count := uint64(1); count <= 8-dstOffset; count++ {
			for srcOffset := uint64(0); srcOffset < 8; srcOffset++ {
				got := CalculateWriteValue(dstOffset, srcOffset, count, preValue, []uint64{src0, src1})
				want := expectedWriteValue(dstOffset, srcOffset, count, preValue, []uint64{src0, src1})
				require.Equal(t, want, got, "dst=%d src=%d count=%d", dstOffset, srcOffset, count)
			}
		}
	}
}

func TestCalculateWriteValueEdgeCases(t *testing.T) {
	src0 := uint64(0x0102030405060708)
	src1 := uint64(0x1112131415161718)
	preValue := uint64(0xAABBCCDDEEFF0011)

	require.Equal(t, src0, CalculateWriteValue(0, 0, 8, preValue, []uint64{src0, src1}))
	require.Equal(t, uint64(0xAABBCCDDEEFF0008), CalculateWriteValue(0, 0, 1, preValue, []uint64{src0, src1}))
	require.Equal(t, uint64(0x08BBCCDDEEFF0011), CalculateWriteValue(7, 0, 1, preValue, []uint64{src0, src1}))
	require.Equal(t, uint64(0xAABBCCDDEEFF1801), CalculateWriteValue(0, 7, 2, preValue, []uint64{src0, src1}))
}
