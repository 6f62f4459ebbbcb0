package engine

import (
	"unsafe"

	"golang.org/x/arch/x86/x86asm"
)

// context_x86_64 mirrors the kernel's struct user_regs_struct for a 64-bit
// tracee (see sys/user.h). Grounded on
// original_source/lib/include/Debug/ContextIntel.hpp's Context_x86_64.
type context_x86_64 struct {
	r15      uint64
	r14      uint64
	r13      uint64
	r12      uint64
	rbp      uint64
	rbx      uint64
	r11      uint64
	r10      uint64
	r9       uint64
	r8       uint64
	rax      uint64
	rcx      uint64
	rdx      uint64
	rsi      uint64
	rdi      uint64
	origRax  uint64
	rip      uint64
	cs       uint64
	rflags   uint64
	rsp      uint64
	ss       uint64
	fsBase   uint64
	gsBase   uint64
	ds       uint64
	es       uint64
	fs       uint64
	gs       uint64
}

// context_x86_32 mirrors the kernel's struct user_regs_struct for a 32-bit
// tracee.
type context_x86_32 struct {
	ebx     uint32
	ecx     uint32
	edx     uint32
	esi     uint32
	edi     uint32
	ebp     uint32
	eax     uint32
	ds      uint32
	es      uint32
	fs      uint32
	gs      uint32
	origEax uint32
	eip     uint32
	cs      uint32
	eflags  uint32
	esp     uint32
	ss      uint32
}

type context64 struct {
	regs      context_x86_64
	debugRegs [8]uint64
}

type context32 struct {
	regs      context_x86_32
	debugRegs [8]uint32
	fsBase    uint32
	gsBase    uint32
}

// getGP resolves every general-purpose, segment, debug and flags register
// against whichever of ctx64/ctx32 is populated. Grounded on
// original_source/lib/Context.cpp's get_64/get_32 split named in
// ContextIntel.hpp.
func (c *Context) getGP(id RegisterId) (RegisterRef, bool) {
	if c.is64 {
		return c.getGP64(id)
	}
	return c.getGP32(id)
}

func (c *Context) getGP64(id RegisterId) (RegisterRef, bool) {
	r := &c.ctx64.regs
	base := unsafe.Pointer(r)
	switch id {
	case RAX:
		return makeRegister("RAX", unsafe.Pointer(&r.rax), 8), true
	case EAX:
		return makeRegister("EAX", unsafe.Pointer(&r.rax), 4), true
	case AX:
		return makeRegister("AX", unsafe.Pointer(&r.rax), 2), true
	case AH:
		return makeSubRegister("AH", unsafe.Pointer(&r.rax), 1, 1), true
	case AL:
		return makeRegister("AL", unsafe.Pointer(&r.rax), 1), true
	case RBX:
		return makeRegister("RBX", unsafe.Pointer(&r.rbx), 8), true
	case EBX:
		return makeRegister("EBX", unsafe.Pointer(&r.rbx), 4), true
	case BX:
		return makeRegister("BX", unsafe.Pointer(&r.rbx), 2), true
	case BH:
		return makeSubRegister("BH", unsafe.Pointer(&r.rbx), 1, 1), true
	case BL:
		return makeRegister("BL", unsafe.Pointer(&r.rbx), 1), true
	case RCX:
		return makeRegister("RCX", unsafe.Pointer(&r.rcx), 8), true
	case ECX:
		return makeRegister("ECX", unsafe.Pointer(&r.rcx), 4), true
	case CX:
		return makeRegister("CX", unsafe.Pointer(&r.rcx), 2), true
	case CH:
		return makeSubRegister("CH", unsafe.Pointer(&r.rcx), 1, 1), true
	case CL:
		return makeRegister("CL", unsafe.Pointer(&r.rcx), 1), true
	case RDX:
		return makeRegister("RDX", unsafe.Pointer(&r.rdx), 8), true
	case EDX:
		return makeRegister("EDX", unsafe.Pointer(&r.rdx), 4), true
	case DX:
		return makeRegister("DX", unsafe.Pointer(&r.rdx), 2), true
	case DH:
		return makeSubRegister("DH", unsafe.Pointer(&r.rdx), 1, 1), true
	case DL:
		return makeRegister("DL", unsafe.Pointer(&r.rdx), 1), true
	case RSI:
		return makeRegister("RSI", unsafe.Pointer(&r.rsi), 8), true
	case ESI:
		return makeRegister("ESI", unsafe.Pointer(&r.rsi), 4), true
	case SI:
		return makeRegister("SI", unsafe.Pointer(&r.rsi), 2), true
	case SIL:
		return makeRegister("SIL", unsafe.Pointer(&r.rsi), 1), true
	case RDI:
		return makeRegister("RDI", unsafe.Pointer(&r.rdi), 8), true
	case EDI:
		return makeRegister("EDI", unsafe.Pointer(&r.rdi), 4), true
	case DI:
		return makeRegister("DI", unsafe.Pointer(&r.rdi), 2), true
	case DIL:
		return makeRegister("DIL", unsafe.Pointer(&r.rdi), 1), true
	case RBP:
		return makeRegister("RBP", unsafe.Pointer(&r.rbp), 8), true
	case EBP:
		return makeRegister("EBP", unsafe.Pointer(&r.rbp), 4), true
	case BP:
		return makeRegister("BP", unsafe.Pointer(&r.rbp), 2), true
	case BPL:
		return makeRegister("BPL", unsafe.Pointer(&r.rbp), 1), true
	case RSP:
		return makeRegister("RSP", unsafe.Pointer(&r.rsp), 8), true
	case ESP:
		return makeRegister("ESP", unsafe.Pointer(&r.rsp), 4), true
	case SP:
		return makeRegister("SP", unsafe.Pointer(&r.rsp), 2), true
	case SPL:
		return makeRegister("SPL", unsafe.Pointer(&r.rsp), 1), true
	case RIP:
		return makeRegister("RIP", unsafe.Pointer(&r.rip), 8), true
	case EIP:
		return makeRegister("EIP", unsafe.Pointer(&r.rip), 4), true
	case ORIG_RAX:
		return makeRegister("ORIG_RAX", unsafe.Pointer(&r.origRax), 8), true
	case ORIG_EAX:
		return makeRegister("ORIG_EAX", unsafe.Pointer(&r.origRax), 4), true
	case RFLAGS:
		return makeRegister("RFLAGS", unsafe.Pointer(&r.rflags), 8), true
	case EFLAGS:
		return makeRegister("EFLAGS", unsafe.Pointer(&r.rflags), 4), true
	case CS:
		return makeRegister("CS", unsafe.Pointer(&r.cs), 8), true
	case SS:
		return makeRegister("SS", unsafe.Pointer(&r.ss), 8), true
	case DS:
		return makeRegister("DS", unsafe.Pointer(&r.ds), 8), true
	case ES:
		return makeRegister("ES", unsafe.Pointer(&r.es), 8), true
	case FS:
		return makeRegister("FS", unsafe.Pointer(&r.fs), 8), true
	case GS:
		return makeRegister("GS", unsafe.Pointer(&r.gs), 8), true
	case FS_BASE:
		return makeRegister("FS_BASE", unsafe.Pointer(&r.fsBase), 8), true
	case GS_BASE:
		return makeRegister("GS_BASE", unsafe.Pointer(&r.gsBase), 8), true
	}

	if ref, ok := r8Family(id, "R8", unsafe.Pointer(&r.r8)); ok {
		return ref, true
	}
	if ref, ok := r8Family(id, "R9", unsafe.Pointer(&r.r9)); ok {
		return ref, true
	}
	if ref, ok := r8Family(id, "R10", unsafe.Pointer(&r.r10)); ok {
		return ref, true
	}
	if ref, ok := r8Family(id, "R11", unsafe.Pointer(&r.r11)); ok {
		return ref, true
	}
	if ref, ok := r8Family(id, "R12", unsafe.Pointer(&r.r12)); ok {
		return ref, true
	}
	if ref, ok := r8Family(id, "R13", unsafe.Pointer(&r.r13)); ok {
		return ref, true
	}
	if ref, ok := r8Family(id, "R14", unsafe.Pointer(&r.r14)); ok {
		return ref, true
	}
	if ref, ok := r8Family(id, "R15", unsafe.Pointer(&r.r15)); ok {
		return ref, true
	}

	if dr, ok := c.debugReg64(id); ok {
		return dr, true
	}
	_ = base
	return RegisterRef{}, false
}

// r8Family resolves the R8..R15 4-way byte/word/dword/qword aliasing; name
// is the register's base name ("R8".."R15").
func r8Family(id RegisterId, name string, ptr unsafe.Pointer) (RegisterRef, bool) {
	base := rNumFromName(name)
	switch id {
	case base:
		return makeRegister(name, ptr, uintptr(registerWidth(x86asm.RAX))), true
	case base + 1: // R#D
		return makeRegister(name+"D", ptr, uintptr(registerWidth(x86asm.EAX))), true
	case base + 2: // R#W
		return makeRegister(name+"W", ptr, uintptr(registerWidth(x86asm.AX))), true
	case base + 3: // R#B
		return makeRegister(name+"B", ptr, uintptr(registerWidth(x86asm.AL))), true
	}
	return RegisterRef{}, false
}

// rNumFromName maps a register base name back to its RegisterId so the
// four-way family switch above can be written once and reused per register.
func rNumFromName(name string) RegisterId {
	switch name {
	case "R8":
		return R8
	case "R9":
		return R9
	case "R10":
		return R10
	case "R11":
		return R11
	case "R12":
		return R12
	case "R13":
		return R13
	case "R14":
		return R14
	case "R15":
		return R15
	}
	panic("unreachable")
}

func (c *Context) debugReg64(id RegisterId) (RegisterRef, bool) {
	idx := -1
	switch id {
	case DR0:
		idx = 0
	case DR1:
		idx = 1
	case DR2:
		idx = 2
	case DR3:
		idx = 3
	case DR4:
		idx = 4
	case DR5:
		idx = 5
	case DR6:
		idx = 6
	case DR7:
		idx = 7
	default:
		return RegisterRef{}, false
	}
	return makeRegister("DR", unsafe.Pointer(&c.ctx64.debugRegs[idx]), 8), true
}

func (c *Context) getGP32(id RegisterId) (RegisterRef, bool) {
	r := &c.ctx32.regs
	switch id {
	case EAX:
		return makeRegister("EAX", unsafe.Pointer(&r.eax), 4), true
	case AX:
		return makeRegister("AX", unsafe.Pointer(&r.eax), 2), true
	case AH:
		return makeSubRegister("AH", unsafe.Pointer(&r.eax), 1, 1), true
	case AL:
		return makeRegister("AL", unsafe.Pointer(&r.eax), 1), true
	case EBX:
		return makeRegister("EBX", unsafe.Pointer(&r.ebx), 4), true
	case BX:
		return makeRegister("BX", unsafe.Pointer(&r.ebx), 2), true
	case BH:
		return makeSubRegister("BH", unsafe.Pointer(&r.ebx), 1, 1), true
	case BL:
		return makeRegister("BL", unsafe.Pointer(&r.ebx), 1), true
	case ECX:
		return makeRegister("ECX", unsafe.Pointer(&r.ecx), 4), true
	case CX:
		return makeRegister("CX", unsafe.Pointer(&r.ecx), 2), true
	case CH:
		return makeSubRegister("CH", unsafe.Pointer(&r.ecx), 1, 1), true
	case CL:
		return makeRegister("CL", unsafe.Pointer(&r.ecx), 1), true
	case EDX:
		return makeRegister("EDX", unsafe.Pointer(&r.edx), 4), true
	case DX:
		return makeRegister("DX", unsafe.Pointer(&r.edx), 2), true
	case DH:
		return makeSubRegister("DH", unsafe.Pointer(&r.edx), 1, 1), true
	case DL:
		return makeRegister("DL", unsafe.Pointer(&r.edx), 1), true
	case ESI:
		return makeRegister("ESI", unsafe.Pointer(&r.esi), 4), true
	case SI:
		return makeRegister("SI", unsafe.Pointer(&r.esi), 2), true
	case EDI:
		return makeRegister("EDI", unsafe.Pointer(&r.edi), 4), true
	case DI:
		return makeRegister("DI", unsafe.Pointer(&r.edi), 2), true
	case EBP:
		return makeRegister("EBP", unsafe.Pointer(&r.ebp), 4), true
	case BP:
		return makeRegister("BP", unsafe.Pointer(&r.ebp), 2), true
	case ESP:
		return makeRegister("ESP", unsafe.Pointer(&r.esp), 4), true
	case SP:
		return makeRegister("SP", unsafe.Pointer(&r.esp), 2), true
	case EIP:
		return makeRegister("EIP", unsafe.Pointer(&r.eip), 4), true
	case ORIG_EAX:
		return makeRegister("ORIG_EAX", unsafe.Pointer(&r.origEax), 4), true
	case EFLAGS:
		return makeRegister("EFLAGS", unsafe.Pointer(&r.eflags), 4), true
	case CS:
		return makeRegister("CS", unsafe.Pointer(&r.cs), 4), true
	case SS:
		return makeRegister("SS", unsafe.Pointer(&r.ss), 4), true
	case DS:
		return makeRegister("DS", unsafe.Pointer(&r.ds), 4), true
	case ES:
		return makeRegister("ES", unsafe.Pointer(&r.es), 4), true
	case FS:
		return makeRegister("FS", unsafe.Pointer(&r.fs), 4), true
	case GS:
		return makeRegister("GS", unsafe.Pointer(&r.gs), 4), true
	case FS_BASE:
		return makeRegister("FS_BASE", unsafe.Pointer(&c.ctx32.fsBase), 4), true
	case GS_BASE:
		return makeRegister("GS_BASE", unsafe.Pointer(&c.ctx32.gsBase), 4), true
	}
	idx := -1
	switch id {
	case DR0:
		idx = 0
	case DR1:
		idx = 1
	case DR2:
		idx = 2
	case DR3:
		idx = 3
	case DR4:
		idx = 4
	case DR5:
		idx = 5
	case DR6:
		idx = 6
	case DR7:
		idx = 7
	}
	if idx >= 0 {
		return makeRegister("DR", unsafe.Pointer(&c.ctx32.debugRegs[idx]), 4), true
	}
	return RegisterRef{}, false
}
