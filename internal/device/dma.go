package device

// DMA bit-packed encoding layout:
//
//	bits 0-2   pre_count (0-7)
//	bits 3-5   post_count (0-7)
//	bits 6-7   pre_writes (0,1,2)
//	bits 8-10  dst_offset
//	bits 11-13 src_offset
//	bit  14    double-read-pre flag
//	bit  15    double-read-post flag
//	bits 16-17 extra source reads
//	bit  18    src64_inc_by_pre
//	bit  19    unaligned_dst_src flag
//	bits 29-31 pre_count (replicated, folded into fast-table additions)
//	bits 32-63 loop_count

const fastEncodeTableSize = 8 * 8 * 16

var fastEncodeTable = generateFastEncodeTable()

func generateFastEncodeTable() [fastEncodeTableSize]uint64 {
	var table [fastEncodeTableSize]uint64
	for dstOffset := uint64(0); dstOffset < 8; dstOffset++ {
		baseIndex := dstOffset << 7
		for srcOffset := uint64(0); srcOffset < 8; srcOffset++ {
			index := baseIndex + (srcOffset << 4)
			for count := 0; count < 16; count++ {
				value := EncodeMemcpy(dstOffset, srcOffset, count)
				loopCount := uint64(GetLoopCount(value))
				// The table stores loop_count pre-added so the fast path is a
				// single indexed load plus one shift-add; undo the
				// pre_count contribution folded into the low bits so the
				// caller's (count << 29) term doesn't double up.
				table[int(index)+count] = (value&0x0000_0000_FFFF_FFFF + (loopCount << 32)) - (uint64(count) << 29)
			}
		}
	}
	return table
}

// FastEncodeMemcpy looks up the DMA encoding for (dst, src, count) using the
// 1024-entry precomputed table, equivalent to EncodeMemcpy for all inputs.
func FastEncodeMemcpy(dst, src uint64, count int) uint64 {
	tableCount := count
	if count >= 16 {
		tableCount = count&0x07 | 0x08
	}
	index := ((dst&0x07)<<7 + (src&0x07)<<4) + uint64(tableCount)
	return fastEncodeTable[index] + (uint64(count) << 29)
}

// EncodeMemcpy computes the DMA encoding for a copy of count bytes from
// offset src to offset dst, using the long-form reference algorithm. It is
// exported (rather than test-only) because it also serves as ground truth
// for FastEncodeMemcpy at table-generation time.
func EncodeMemcpy(dst, src uint64, count int) uint64 {
	dstOffset := dst & 0x07
	srcOffset := src & 0x07

	c := uint64(count)
	var preCount, loopCount, postCount uint64
	if dstOffset > 0 {
		pre := 8 - dstOffset
		if pre >= c {
			preCount, loopCount, postCount = c, 0, 0
		} else {
			pending := c - pre
			preCount, loopCount, postCount = pre, pending>>3, pending&0x07
		}
	} else {
		preCount, loopCount, postCount = 0, c>>3, c&0x07
	}

	var preWrites uint64
	if preCount > 0 {
		preWrites++
	}
	if postCount > 0 {
		preWrites++
	}

	srcOffsetPos := (srcOffset + preCount) & 0x07
	doubleSrcPost := srcOffsetPos+postCount > 8
	doubleSrcPre := srcOffset+preCount > 8

	var extraSrcReads uint64
	if count != 0 {
		extraSrcReads = (((src+c-1)>>3)-(src>>3) + 1) - loopCount
	}

	var src64IncByPre uint64
	if preCount > 0 && srcOffset+preCount >= 8 {
		src64IncByPre = 1
	}
	var unalignedDstSrc uint64
	if srcOffset != dstOffset {
		unalignedDstSrc = 1
	}

	encoded := preCount |
		(postCount << 3) |
		(preWrites << 6) |
		(dstOffset << 8) |
		(srcOffset << 11) |
		(b2u64(doubleSrcPre) << 14) |
		(b2u64(doubleSrcPost) << 15) |
		(extraSrcReads << 16) |
		(src64IncByPre << 18) |
		(unalignedDstSrc << 19) |
		(preCount << 29) |
		(loopCount << 32)

	return encoded
}

func b2u64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func GetExtraSrcReads(encoded uint64) int { return int(encoded>>16) & 0x03 }

func GetCount(encoded uint64) int {
	return GetLoopCount(encoded)*8 + GetPreCount(encoded) + GetPostCount(encoded)
}

func GetDstOffset(encoded uint64) int { return int(encoded>>8) & 0x07 }

func GetSrcOffset(encoded uint64) int { return int(encoded>>11) & 0x07 }

func GetLoopCount(encoded uint64) int { return int(encoded >> 32) }

func GetPreWrites(encoded uint64) int { return int(encoded>>6) & 0x03 }

func IsDoubleReadPre(encoded uint64) bool { return encoded&(1<<14) != 0 }

func IsDoubleReadPost(encoded uint64) bool { return encoded&(1<<15) != 0 }

func GetPreCount(encoded uint64) int { return int(encoded) & 0x07 }

func GetPostCount(encoded uint64) int { return int(encoded>>3) & 0x07 }

func GetPre(encoded uint64) int {
	n := 0
	if GetPreCount(encoded) > 0 {
		n++
	}
	if IsDoubleReadPre(encoded) {
		n++
	}
	return n
}

func GetPost(encoded uint64) int {
	n := 0
	if GetPostCount(encoded) > 0 {
		n++
	}
	if IsDoubleReadPost(encoded) {
		n++
	}
	return n
}

func GetSrc64IncByPre(encoded uint64) int { return int(encoded>>18) & 0x01 }

func GetLoopDataOffset(encoded uint64) int {
	preCount := GetPreCount(encoded)
	n := GetPreWrites(encoded)
	if preCount > 0 && GetSrcOffset(encoded)+preCount >= 8 {
		n++
	}
	return n
}

func GetLoopSrcOffset(encoded uint64) uint8 {
	return uint8(GetSrcOffset(encoded)+GetPreCount(encoded)) & 0x07
}

func GetSrcSize(encoded uint64) int { return GetLoopCount(encoded) + GetExtraSrcReads(encoded) }

func GetDataSize(encoded uint64) int { return GetPreWrites(encoded) + GetSrcSize(encoded) }

func GetPostDataOffset(encoded uint64) int {
	extra := 0
	if IsDoubleReadPost(encoded) {
		extra = 1
	}
	return GetPreWrites(encoded) + GetSrcSize(encoded) - (extra + 1)
}

func GetPreWriteOffset(uint64) int { return 0 }

func GetPostWriteOffset(encoded uint64) int {
	if GetPreCount(encoded) != 0 {
		return 1
	}
	return 0
}

func GetPreDataOffset(encoded uint64) int { return GetPreWrites(encoded) }

// CalculateWriteValue blends pre-existing word pre with count bytes read
// from src_values starting at src_offset, written at dst_offset, leaving the
// remaining bytes of pre untouched.
func CalculateWriteValue(dstOffset, srcOffset, count, preValue uint64, srcValues []uint64) uint64 {
	writeMask := (^uint64(0) << ((8 - count) * 8)) >> ((8 - dstOffset - count) * 8)

	var value uint64
	switch {
	case dstOffset < srcOffset:
		value = srcValues[0] >> ((srcOffset - dstOffset) * 8)
		if srcOffset+count > 8 {
			value |= srcValues[1] << ((8 - srcOffset + dstOffset) * 8)
		}
	case dstOffset > srcOffset:
		value = srcValues[0] << ((dstOffset - srcOffset) * 8)
	default:
		value = srcValues[0]
	}

	return (preValue &^ writeMask) | (value & writeMask)
}
