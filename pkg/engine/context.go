package engine

import (
	"strconv"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"
)

// RegisterId names every register surface the Context exposes. Grounded on
// original_source/lib/include/Debug/ContextIntel.hpp's RegisterId enum.
type RegisterId int

const (
	InvalidReg RegisterId = iota

	ORIG_EAX

	GS
	FS
	ES
	DS
	CS
	SS
	FS_BASE
	GS_BASE

	DR0
	DR1
	DR2
	DR3
	DR4
	DR5
	DR6
	DR7

	EFLAGS
	RFLAGS

	EAX
	AX
	AH
	AL
	EBX
	BX
	BH
	BL
	ECX
	CX
	CH
	CL
	EDX
	DX
	DH
	DL
	EDI
	DI
	ESI
	SI
	EBP
	BP
	ESP
	SP
	EIP

	ORIG_RAX
	RAX
	RBX
	RCX
	RDX
	RSI
	SIL
	RDI
	DIL
	RBP
	BPL
	RSP
	SPL
	RIP
	R8
	R8D
	R8W
	R8B
	R9
	R9D
	R9W
	R9B
	R10
	R10D
	R10W
	R10B
	R11
	R11D
	R11W
	R11B
	R12
	R12D
	R12W
	R12B
	R13
	R13D
	R13W
	R13B
	R14
	R14D
	R14W
	R14B
	R15
	R15D
	R15W
	R15B

	// FPU / SIMD
	ST0
	ST1
	ST2
	ST3
	ST4
	ST5
	ST6
	ST7

	CWD
	SWD
	FTW
	FOP
	FIP
	FDP
	MXCSR
	MXCSR_MASK

	MM0
	MM1
	MM2
	MM3
	MM4
	MM5
	MM6
	MM7

	XMM0
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15

	YMM0
	YMM1
	YMM2
	YMM3
	YMM4
	YMM5
	YMM6
	YMM7
	YMM8
	YMM9
	YMM10
	YMM11
	YMM12
	YMM13
	YMM14
	YMM15

	ZMM0
	ZMM1
	ZMM2
	ZMM3
	ZMM4
	ZMM5
	ZMM6
	ZMM7
	ZMM8
	ZMM9
	ZMM10
	ZMM11
	ZMM12
	ZMM13
	ZMM14
	ZMM15
	ZMM16
	ZMM17
	ZMM18
	ZMM19
	ZMM20
	ZMM21
	ZMM22
	ZMM23
	ZMM24
	ZMM25
	ZMM26
	ZMM27
	ZMM28
	ZMM29
	ZMM30
	ZMM31

	// size-generic aliases, resolved against the Context's bitness
	XAX
	XCX
	XDX
	XSI
	XDI
	XIP
	XSP
	XFLAGS
)

// fpuRegister holds one 80-bit x87 register zero-padded to 16 bytes, and one
// unified 64-byte SIMD lane wide enough for a full ZMM register.
type fpuRegister [16]byte
type simdRegister [64]byte

// xstateBanks is the decoded, bitness-independent extended state: x87 and
// the unified XMM/YMM/ZMM register file. Grounded on
// original_source/lib/include/Debug/ContextIntel.hpp's Context_xstate.
type xstateBanks struct {
	x87 struct {
		st              [8]fpuRegister
		instPtrOffset   uint64
		dataPtrOffset   uint64
		instPtrSelector uint16
		dataPtrSelector uint16
		controlWord     uint16
		statusWord      uint16
		tagWord         uint16
		opcode          uint16
		filled          bool
	}
	simd struct {
		// registers[0:16] double as XMM0-15/YMM0-15/ZMM0-15; registers[16:32]
		// only exist once AVX-512 state is present (ZMM16-31 have no
		// legacy XMM/YMM alias).
		registers  [32]simdRegister
		mxcsr      uint32
		mxcsrMask  uint32
		sseFilled  bool
		avxFilled  bool
		zmmFilled  bool
	}
}

// Context is an opaque, populated-or-not register snapshot carrying both
// bitness variants plus the decoded extended state. Grounded on
// original_source/lib/include/Debug/ContextIntel.hpp's Context class; the
// C++ tagged union over {Context64, Context32} becomes a Go struct holding
// both (only one is meaningful at a time, selected by is64).
type Context struct {
	is64   bool
	isSet  bool
	ctx64  context64
	ctx32  context32
	xstate xstateBanks
}

// Is64Bit reports which GP struct variant is populated.
func (c *Context) Is64Bit() bool { return c.is64 }

// IsSet reports whether the Context holds a real snapshot (as opposed to a
// freshly zero-valued Context never read from a thread).
func (c *Context) IsSet() bool { return c.isSet }

// Get returns a RegisterRef for the named register, dispatching on the
// Context's bitness and the register's own bank. The zero RegisterRef
// (IsValid() == false) is returned for an identifier that does not apply to
// this Context's bitness (e.g. R8 on a 32-bit thread).
func (c *Context) Get(id RegisterId) RegisterRef {
	if ref, ok := c.getGP(id); ok {
		return ref
	}
	if ref, ok := c.getXstate(id); ok {
		return ref
	}
	if ref, ok := c.getSizeGeneric(id); ok {
		return ref
	}
	return RegisterRef{}
}

// getSizeGeneric resolves the size-generic aliases (XAX, XIP, ...) to the
// 64- or 32-bit concrete register depending on bitness.
func (c *Context) getSizeGeneric(id RegisterId) (RegisterRef, bool) {
	var concrete RegisterId
	switch id {
	case XAX:
		concrete = pick(c.is64, RAX, EAX)
	case XCX:
		concrete = pick(c.is64, RCX, ECX)
	case XDX:
		concrete = pick(c.is64, RDX, EDX)
	case XSI:
		concrete = pick(c.is64, RSI, ESI)
	case XDI:
		concrete = pick(c.is64, RDI, EDI)
	case XIP:
		concrete = pick(c.is64, RIP, EIP)
	case XSP:
		concrete = pick(c.is64, RSP, ESP)
	case XFLAGS:
		concrete = pick(c.is64, RFLAGS, EFLAGS)
	default:
		return RegisterRef{}, false
	}
	return c.Get(concrete), true
}

func pick(is64 bool, a, b RegisterId) RegisterId {
	if is64 {
		return a
	}
	return b
}

// getXstate resolves x87, MMX, XMM, YMM, ZMM and the FPU control/status
// fields against the decoded xstateBanks. Grounded on
// original_source/lib/include/Debug/ContextIntel.hpp's Context_xstate and
// the RegisterId entries it backs.
func (c *Context) getXstate(id RegisterId) (RegisterRef, bool) {
	x := &c.xstate
	switch id {
	case CWD:
		return makeRegister("CWD", unsafe.Pointer(&x.x87.controlWord), 2), true
	case SWD:
		return makeRegister("SWD", unsafe.Pointer(&x.x87.statusWord), 2), true
	case FTW:
		return makeRegister("FTW", unsafe.Pointer(&x.x87.tagWord), 2), true
	case FOP:
		return makeRegister("FOP", unsafe.Pointer(&x.x87.opcode), 2), true
	case FIP:
		return makeRegister("FIP", unsafe.Pointer(&x.x87.instPtrOffset), 8), true
	case FDP:
		return makeRegister("FDP", unsafe.Pointer(&x.x87.dataPtrOffset), 8), true
	case MXCSR:
		return makeRegister("MXCSR", unsafe.Pointer(&x.simd.mxcsr), 4), true
	case MXCSR_MASK:
		return makeRegister("MXCSR_MASK", unsafe.Pointer(&x.simd.mxcsrMask), 4), true
	}

	if idx, ok := stIndex(id); ok {
		return makeRegister(stName(idx), unsafe.Pointer(&x.x87.st[idx]), 16), true
	}
	if idx, ok := mmIndex(id); ok {
		return makeRegister(mmName(idx), unsafe.Pointer(&x.x87.st[idx]), uintptr(registerWidth(x86asm.M0))), true
	}
	if idx, ok := xmmIndex(id); ok {
		return makeRegister(xmmName(idx), unsafe.Pointer(&x.simd.registers[idx]), uintptr(registerWidth(x86asm.X0))), true
	}
	if idx, ok := ymmIndex(id); ok {
		return makeRegister(ymmName(idx), unsafe.Pointer(&x.simd.registers[idx]), 32), true
	}
	if idx, ok := zmmIndex(id); ok {
		return makeRegister(zmmName(idx), unsafe.Pointer(&x.simd.registers[idx]), 64), true
	}
	return RegisterRef{}, false
}

func stIndex(id RegisterId) (int, bool) {
	if id >= ST0 && id <= ST7 {
		return int(id - ST0), true
	}
	return 0, false
}

func mmIndex(id RegisterId) (int, bool) {
	if id >= MM0 && id <= MM7 {
		return int(id - MM0), true
	}
	return 0, false
}

func xmmIndex(id RegisterId) (int, bool) {
	if id >= XMM0 && id <= XMM15 {
		return int(id - XMM0), true
	}
	return 0, false
}

func ymmIndex(id RegisterId) (int, bool) {
	if id >= YMM0 && id <= YMM15 {
		return int(id - YMM0), true
	}
	return 0, false
}

func zmmIndex(id RegisterId) (int, bool) {
	if id >= ZMM0 && id <= ZMM31 {
		return int(id - ZMM0), true
	}
	return 0, false
}

func stName(i int) string  { return "ST" + strconv.Itoa(i) }
func mmName(i int) string  { return "MM" + strconv.Itoa(i) }
func xmmName(i int) string { return "XMM" + strconv.Itoa(i) }
func ymmName(i int) string { return "YMM" + strconv.Itoa(i) }
func zmmName(i int) string { return "ZMM" + strconv.Itoa(i) }
