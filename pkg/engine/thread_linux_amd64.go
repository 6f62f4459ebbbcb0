package engine

import (
	"syscall"
	"unsafe"
)

// debugRegUserOffset is the offset of u_debugreg[0] inside struct user, see
// arch/x86/kernel/ptrace.c in the kernel source. Grounded on
// _examples/go-delve-delve/pkg/proc/native/threads_linux_amd64.go.
const debugRegUserOffset = 848

var ripOffset = unsafe.Offsetof(context_x86_64{}.rip)

// GetContext reads every register bank (GP, extended state, debug,
// segment bases) from the thread and returns a populated Context. Pre-state
// Stopped. Grounded on original_source/lib/Thread.cpp's get_context.
func (t *Thread) GetContext() (*Context, error) {
	t.requireState(ThreadStopped, "GetContext")
	ctx := &Context{is64: t.is64}

	if err := t.getGPBank(ctx); err != nil {
		return nil, err
	}
	if err := t.getXstateBank(ctx); err != nil {
		return nil, err
	}
	if err := t.getDebugBank(ctx); err != nil {
		return nil, err
	}
	if err := t.getSegmentBases(ctx); err != nil {
		return nil, err
	}

	ctx.isSet = true
	return ctx, nil
}

// SetContext writes the GP, debug and extended-state banks back to the
// thread. Segment bases are not writable through this path (matching
// original_source/lib/Thread.cpp, whose set_segment_bases/set_segment_base
// are unimplemented).
func (t *Thread) SetContext(ctx *Context) error {
	t.requireState(ThreadStopped, "SetContext")
	if err := t.setGPBank(ctx); err != nil {
		return err
	}
	if err := t.setXstateBank(ctx); err != nil {
		return err
	}
	if err := t.setDebugBank(ctx); err != nil {
		return err
	}
	return nil
}

// getGPBank implements the dual 64/32-bit path spec.md §4.3 describes: the
// 64-bit path always uses PTRACE_GETREGS directly into the 64-bit struct
// (never NT_PRSTATUS, which would mis-size for a 32-bit thread on this
// 64-bit kernel); the 32-bit path uses PTRACE_GETREGSET/NT_PRSTATUS sized to
// the 32-bit struct.
func (t *Thread) getGPBank(ctx *Context) error {
	var err error
	if t.is64 {
		t.proc.ptrace.exec(func() {
			err = ptraceGetRegsInto(t.Tid, unsafe.Pointer(&ctx.ctx64.regs))
		})
		if err != nil {
			return &RegisterAccessFailed{Bank: "gp64", Tid: t.Tid, Err: err}
		}
		return nil
	}

	var buf []byte
	t.proc.ptrace.exec(func() {
		buf, err = ptraceGetRegSet(t.Tid, _NT_PRSTATUS, sizeofContextX86_32)
	})
	if err != nil {
		return &RegisterAccessFailed{Bank: "gp32", Tid: t.Tid, Err: err}
	}
	if len(buf) >= sizeofContextX86_32 {
		ctx.ctx32.regs = *(*context_x86_32)(unsafe.Pointer(&buf[0]))
	}
	return nil
}

func (t *Thread) setGPBank(ctx *Context) error {
	var err error
	if ctx.is64 {
		t.proc.ptrace.exec(func() {
			err = ptraceSetRegsFrom(t.Tid, unsafe.Pointer(&ctx.ctx64.regs))
		})
		if err != nil {
			return &RegisterAccessFailed{Bank: "gp64", Tid: t.Tid, Err: err}
		}
		return nil
	}
	buf := (*[sizeofContextX86_32]byte)(unsafe.Pointer(&ctx.ctx32.regs))[:]
	t.proc.ptrace.exec(func() {
		err = ptraceSetRegSet(t.Tid, _NT_PRSTATUS, buf)
	})
	if err != nil {
		return &RegisterAccessFailed{Bank: "gp32", Tid: t.Tid, Err: err}
	}
	return nil
}

// getXstateBank implements the three-tier retrieval chain from
// SPEC_FULL.md §12: modern NT_X86_XSTATE, then legacy PTRACE_GETFPREGS, then
// a synthesized default state.
func (t *Thread) getXstateBank(ctx *Context) error {
	nLanes := 16
	if !ctx.is64 {
		nLanes = 8
	}

	var raw []byte
	var err error
	t.proc.ptrace.exec(func() {
		raw, err = ptraceGetRegSet(t.Tid, _NT_X86_XSTATE, xstateBufferSize)
	})
	if err == nil {
		ctx.xstate = decodeXstate(raw, nLanes)
		return nil
	}
	if !tolerableXstateErr(err) {
		return &RegisterAccessFailed{Bank: "xstate", Tid: t.Tid, Err: err}
	}

	var legacy []byte
	t.proc.ptrace.exec(func() {
		legacy, err = ptraceGetFPRegs(t.Tid)
	})
	if err == nil {
		ctx.xstate = decodeLegacyFP(legacy, nLanes)
		return nil
	}
	if !tolerableXstateErr(err) {
		return &RegisterAccessFailed{Bank: "xstate-legacy", Tid: t.Tid, Err: err}
	}

	ctx.xstate = zeroStateFallback()
	return nil
}

// xstateBufferSize is large enough to hold the full XSAVE area including
// ZMM16-31 at offset 1664 (16 * 64 bytes = 1024, ending at 2688).
const xstateBufferSize = 2688

func tolerableXstateErr(err error) bool {
	errno, ok := err.(syscall.Errno)
	if !ok {
		return false
	}
	return errno == syscall.ENODEV || errno == syscall.EIO || errno == syscall.EINVAL
}

func (t *Thread) setXstateBank(ctx *Context) error {
	nLanes := 16
	if !ctx.is64 {
		nLanes = 8
	}
	buf := encodeXstate(&ctx.xstate, nLanes)
	var err error
	t.proc.ptrace.exec(func() {
		err = ptraceSetRegSet(t.Tid, _NT_X86_XSTATE, buf)
	})
	if err != nil && !tolerableXstateErr(err) {
		return &RegisterAccessFailed{Bank: "xstate", Tid: t.Tid, Err: err}
	}
	return nil
}

// getDebugBank reads DR0-DR7 via per-word PTRACE_PEEKUSR against the user
// area. DR4/DR5 alias DR6/DR7 on modern CPUs and return EIO; they are
// skipped and left zero. Grounded on
// _examples/go-delve-delve/pkg/proc/native/threads_linux_amd64.go's
// withDebugRegisters.
func (t *Thread) getDebugBank(ctx *Context) error {
	var err error
	var words [8]uint64
	t.proc.ptrace.exec(func() {
		for i := 0; i < 8; i++ {
			if i == 4 || i == 5 {
				continue
			}
			var w uint64
			w, err = ptracePeekUser(t.Tid, debugRegUserOffset+uintptr(i)*8)
			if err != nil {
				if errno, ok := err.(syscall.Errno); ok && errno == syscall.EIO {
					err = nil
					continue
				}
				return
			}
			words[i] = w
		}
	})
	if err != nil {
		return &RegisterAccessFailed{Bank: "debug", Tid: t.Tid, Err: err}
	}
	if ctx.is64 {
		ctx.ctx64.debugRegs = words
	} else {
		for i := range words {
			ctx.ctx32.debugRegs[i] = uint32(words[i])
		}
	}
	return nil
}

func (t *Thread) setDebugBank(ctx *Context) error {
	var words [8]uint64
	if ctx.is64 {
		words = ctx.ctx64.debugRegs
	} else {
		for i := range words {
			words[i] = uint64(ctx.ctx32.debugRegs[i])
		}
	}
	var err error
	t.proc.ptrace.exec(func() {
		for i := 0; i < 8; i++ {
			if i == 4 || i == 5 {
				continue
			}
			if pokeErr := ptracePokeUser(t.Tid, debugRegUserOffset+uintptr(i)*8, words[i]); pokeErr != nil {
				if errno, ok := pokeErr.(syscall.Errno); ok && errno == syscall.EIO {
					continue
				}
				err = pokeErr
				return
			}
		}
	})
	if err != nil {
		return &RegisterAccessFailed{Bank: "debug", Tid: t.Tid, Err: err}
	}
	return nil
}

// getSegmentBases fills FS_BASE/GS_BASE. For a 64-bit thread they are
// already present in the GP struct from PTRACE_GETREGS; for a 32-bit
// thread, translate the FS/GS selector to a base via the tracing
// thread-area request, skipping LDT selectors. Grounded on
// original_source/lib/Thread.cpp's get_segment_base/get_segment_bases.
func (t *Thread) getSegmentBases(ctx *Context) error {
	if ctx.is64 {
		return nil
	}
	fsBase, err := t.segmentBaseFromSelector(uint16(ctx.ctx32.regs.fs))
	if err == nil {
		ctx.ctx32.fsBase = fsBase
	}
	gsBase, err := t.segmentBaseFromSelector(uint16(ctx.ctx32.regs.gs))
	if err == nil {
		ctx.ctx32.gsBase = gsBase
	}
	return nil
}

// SegmentBase resolves a GDT/TLS segment selector's base address for a
// 32-bit thread; LDT selectors return an error. Exposed as a
// public operation per SPEC_FULL.md §12's "segment-base resolution helper
// surface", beyond the internal use the base spec implies.
func (t *Thread) SegmentBase(selector uint16) (uint32, error) {
	return t.segmentBaseFromSelector(selector)
}

const ldtSelectorBit = 1 << 2

func (t *Thread) segmentBaseFromSelector(selector uint16) (uint32, error) {
	if selector&ldtSelectorBit != 0 {
		return 0, &RegisterAccessFailed{Bank: "segment-base", Tid: t.Tid, Err: errLDTUnsupported}
	}
	index := int(selector >> 3)
	var base uint32
	var err error
	t.proc.ptrace.exec(func() { base, err = ptraceGetThreadArea(t.Tid, index) })
	if err != nil {
		return 0, &RegisterAccessFailed{Bank: "segment-base", Tid: t.Tid, Err: err}
	}
	return base, nil
}

var errLDTUnsupported = ptraceStaticError("tracecore: LDT segment base resolution is not supported, only GDT/TLS selectors")

type ptraceStaticError string

func (e ptraceStaticError) Error() string { return string(e) }

// PC returns the thread's current instruction pointer, using the fastest
// available path: PEEKUSR against the user-area RIP offset on a 64-bit
// host tracing a 64-bit thread. Grounded on spec.md §4.3's "instruction
// pointer helpers".
func (t *Thread) PC() (uint64, error) {
	t.requireState(ThreadStopped, "PC")
	if t.is64 {
		var pc uint64
		var err error
		t.proc.ptrace.exec(func() { pc, err = ptracePeekUser(t.Tid, ripOffset) })
		if err != nil {
			return 0, &RegisterAccessFailed{Bank: "pc", Tid: t.Tid, Err: err}
		}
		return pc, nil
	}
	ctx, err := t.GetContext()
	if err != nil {
		return 0, err
	}
	return uint64(ctx.ctx32.regs.eip), nil
}

// SetPC writes the thread's instruction pointer.
func (t *Thread) SetPC(pc uint64) error {
	t.requireState(ThreadStopped, "SetPC")
	if t.is64 {
		var err error
		t.proc.ptrace.exec(func() { err = ptracePokeUser(t.Tid, ripOffset, pc) })
		if err != nil {
			return &RegisterAccessFailed{Bank: "pc", Tid: t.Tid, Err: err}
		}
		return nil
	}
	ctx, err := t.GetContext()
	if err != nil {
		return err
	}
	ctx.ctx32.regs.eip = uint32(pc)
	return t.SetContext(ctx)
}
