package engine

import "encoding/binary"

// Byte offsets and bits within the XSAVE area, per Intel SDM Vol. 1 §13.1 and
// the xstate_bv component bitmap in the 64-byte XSAVE header starting at
// offset 512. Grounded on
// _examples/go-delve-delve/pkg/proc/amd64util/xsave.go's AMD64XstateRead,
// extended to decode the full 512-bit ZMM16-31 region
// at offset 1664 that the teacher's decoder leaves as an unimplemented TODO.
const (
	xsaveLegacyLen        = 512
	xsaveHeaderStart      = 512
	xsaveHeaderLen        = 64
	xsaveSSERegionStart   = 160 // xmm_space inside the legacy region
	xsaveAVXRegionStart   = 576
	xsaveAVX512Zmm0Start  = 1152
	xsaveAVX512Zmm16Start = 1664

	xstateBitX87     = 0
	xstateBitSSE     = 1
	xstateBitAVX     = 2
	xstateBitOpmask  = 5
	xstateBitZMMHi   = 6
	xstateBitHi16ZMM = 7

	defaultControlWord = 0x037f
	defaultTagWord     = 0xffff
	defaultMXCSR       = 0x1f80
)

// decodeXstate decodes a raw PTRACE_GETREGSET/NT_X86_XSTATE buffer into the
// bitness-independent xstateBanks. nLanes is 16 for a 64-bit tracee (XMM/YMM
// 0-15) and 8 for a 32-bit tracee (XMM/YMM 0-7); AVX-512 always covers the
// full 32 ZMM lanes regardless of tracee bitness since AVX-512 has no 32-bit
// legacy mode restriction in this decoder.
func decodeXstate(raw []byte, nLanes int) xstateBanks {
	var x xstateBanks
	if len(raw) < xsaveHeaderStart+xsaveHeaderLen {
		return decodeLegacyFP(raw, nLanes)
	}

	header := raw[xsaveHeaderStart : xsaveHeaderStart+xsaveHeaderLen]
	xstateBV := binary.LittleEndian.Uint64(header[0:8])
	xcompBV := binary.LittleEndian.Uint64(header[8:16])
	if xcompBV&(1<<63) != 0 {
		// compact format, not produced by PTRACE_GETREGSET; treat as absent.
		return decodeLegacyFP(raw, nLanes)
	}

	decodeX87(raw, &x, xstateBV&(1<<xstateBitX87) != 0)
	decodeSSE(raw, &x, nLanes, xstateBV&(1<<xstateBitSSE) != 0)

	if xstateBV&(1<<xstateBitAVX) != 0 && len(raw) >= xsaveAVXRegionStart+nLanes*16 {
		avx := raw[xsaveAVXRegionStart:]
		for i := 0; i < nLanes; i++ {
			copy(x.simd.registers[i][16:32], avx[i*16:i*16+16])
		}
		x.simd.avxFilled = true
	}

	avx512Present := xstateBV&(1<<xstateBitOpmask) != 0 &&
		xstateBV&(1<<xstateBitZMMHi) != 0 &&
		xstateBV&(1<<xstateBitHi16ZMM) != 0
	if avx512Present {
		if len(raw) >= xsaveAVX512Zmm0Start+16*32 {
			zmmLo := raw[xsaveAVX512Zmm0Start:]
			for i := 0; i < 16; i++ {
				copy(x.simd.registers[i][32:64], zmmLo[i*32:i*32+32])
			}
		}
		if len(raw) >= xsaveAVX512Zmm16Start+16*64 {
			zmmHi := raw[xsaveAVX512Zmm16Start:]
			for i := 0; i < 16; i++ {
				copy(x.simd.registers[16+i][:], zmmHi[i*64:i*64+64])
			}
		}
		x.simd.zmmFilled = true
	}

	return x
}

func decodeX87(raw []byte, x *xstateBanks, present bool) {
	if len(raw) < 24 {
		x.x87.tagWord = defaultTagWord
		x.x87.controlWord = defaultControlWord
		return
	}
	// legacy region layout: cwd(2) swd(2) twd(2) fop(2) fip(8) fdp(8) ...
	x.x87.controlWord = binary.LittleEndian.Uint16(raw[0:2])
	if !present {
		x.x87.tagWord = defaultTagWord
		for i := range x.x87.st {
			x.x87.st[i] = fpuRegister{}
		}
		return
	}
	x.x87.statusWord = binary.LittleEndian.Uint16(raw[2:4])
	x.x87.tagWord = binary.LittleEndian.Uint16(raw[4:6])
	x.x87.opcode = binary.LittleEndian.Uint16(raw[6:8])
	x.x87.instPtrOffset = binary.LittleEndian.Uint64(raw[8:16])
	x.x87.dataPtrOffset = binary.LittleEndian.Uint64(raw[16:24])
	if len(raw) >= 32+128 {
		stSpace := raw[32 : 32+128]
		for i := 0; i < 8; i++ {
			copy(x.x87.st[i][:], stSpace[i*16:i*16+16])
		}
	}
	x.x87.filled = true
}

func decodeSSE(raw []byte, x *xstateBanks, nLanes int, present bool) {
	if len(raw) >= 28 {
		// mxcsr(4) at offset 24, mxcsr_mask(4) at offset 28
		x.simd.mxcsr = binary.LittleEndian.Uint32(raw[24:28])
	}
	if len(raw) >= 32 {
		x.simd.mxcsrMask = binary.LittleEndian.Uint32(raw[28:32])
	}
	if !present {
		x.simd.mxcsr = defaultMXCSR
		return
	}
	if len(raw) >= xsaveSSERegionStart+nLanes*16 {
		xmm := raw[xsaveSSERegionStart:]
		for i := 0; i < nLanes; i++ {
			copy(x.simd.registers[i][0:16], xmm[i*16:i*16+16])
		}
	}
	x.simd.sseFilled = true
}

// decodeLegacyFP decodes a plain struct user_fpregs_struct (no xsave
// header), the fallback tier used when PTRACE_GETREGSET/NT_X86_XSTATE fails
// and the implementation falls back to PTRACE_GETFPREGS/NT_PRFPREG, per
// SPEC_FULL.md §12's three-tier retrieval chain.
func decodeLegacyFP(raw []byte, nLanes int) xstateBanks {
	var x xstateBanks
	decodeX87(raw, &x, len(raw) >= 32+128)
	decodeSSE(raw, &x, nLanes, len(raw) >= xsaveSSERegionStart+nLanes*16)
	return x
}

// zeroStateFallback produces the default-valued xstateBanks used as the
// final tier of the retrieval chain when even PTRACE_GETFPREGS fails.
func zeroStateFallback() xstateBanks {
	var x xstateBanks
	x.x87.tagWord = defaultTagWord
	x.x87.controlWord = defaultControlWord
	x.simd.mxcsr = defaultMXCSR
	return x
}

// encodeXstate serializes xstateBanks back into a buffer suitable for
// PTRACE_SETREGSET/NT_X86_XSTATE. Only the banks previously marked filled
// are written back with their component-bitmap bit set; the component
// bitmap is otherwise left clear so the kernel does not reload stale state
// for banks this package never decoded.
func encodeXstate(x *xstateBanks, nLanes int) []byte {
	buf := make([]byte, xsaveAVX512Zmm16Start+16*64)

	binary.LittleEndian.PutUint16(buf[0:2], x.x87.controlWord)
	binary.LittleEndian.PutUint16(buf[2:4], x.x87.statusWord)
	binary.LittleEndian.PutUint16(buf[4:6], x.x87.tagWord)
	binary.LittleEndian.PutUint16(buf[6:8], x.x87.opcode)
	binary.LittleEndian.PutUint64(buf[8:16], x.x87.instPtrOffset)
	binary.LittleEndian.PutUint64(buf[16:24], x.x87.dataPtrOffset)
	binary.LittleEndian.PutUint32(buf[24:28], x.simd.mxcsr)
	binary.LittleEndian.PutUint32(buf[28:32], x.simd.mxcsrMask)

	var xstateBV uint64
	if x.x87.filled {
		xstateBV |= 1 << xstateBitX87
		for i := 0; i < 8; i++ {
			copy(buf[32+i*16:32+i*16+16], x.x87.st[i][:])
		}
	}
	if x.simd.sseFilled {
		xstateBV |= 1 << xstateBitSSE
		for i := 0; i < nLanes; i++ {
			copy(buf[xsaveSSERegionStart+i*16:xsaveSSERegionStart+i*16+16], x.simd.registers[i][0:16])
		}
	}
	if x.simd.avxFilled {
		xstateBV |= 1 << xstateBitAVX
		for i := 0; i < nLanes; i++ {
			copy(buf[xsaveAVXRegionStart+i*16:xsaveAVXRegionStart+i*16+16], x.simd.registers[i][16:32])
		}
	}
	if x.simd.zmmFilled {
		xstateBV |= 1 << xstateBitOpmask
		xstateBV |= 1 << xstateBitZMMHi
		xstateBV |= 1 << xstateBitHi16ZMM
		for i := 0; i < 16; i++ {
			copy(buf[xsaveAVX512Zmm0Start+i*32:xsaveAVX512Zmm0Start+i*32+32], x.simd.registers[i][32:64])
		}
		for i := 0; i < 16; i++ {
			copy(buf[xsaveAVX512Zmm16Start+i*64:xsaveAVX512Zmm16Start+i*64+64], x.simd.registers[16+i][:])
		}
	}

	binary.LittleEndian.PutUint64(buf[xsaveHeaderStart:xsaveHeaderStart+8], xstateBV)
	return buf
}
