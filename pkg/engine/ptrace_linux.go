package engine

import (
	"runtime"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// Every ptrace call against a given tracee must originate from the same OS
// thread that first attached to it. ptraceDispatcher runs a dedicated,
// LockOSThread'd goroutine that executes arbitrary ptrace-touching closures
// on request, and is the only place in the package allowed to issue raw
// ptrace syscalls against this Process's threads. Grounded on
// _examples/go-delve-delve/pkg/proc/native/proc.go's
// execPtraceFunc/handlePtraceFuncs/ptraceChan/ptraceDoneChan pattern.
type ptraceDispatcher struct {
	funcChan chan func()
	doneChan chan error
}

func newPtraceDispatcher() *ptraceDispatcher {
	d := &ptraceDispatcher{
		funcChan: make(chan func()),
		doneChan: make(chan error),
	}
	go d.loop()
	return d
}

func (d *ptraceDispatcher) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logPtraceDebug(nil, "dispatcher thread locked, entering dispatch loop")
	for fn := range d.funcChan {
		fn()
		logPtraceDebug(nil, "ptrace closure dispatched")
		d.doneChan <- nil
	}
	logPtraceDebug(nil, "dispatcher thread exiting")
}

// exec runs fn on the dispatcher's dedicated OS thread and waits for it to
// finish. fn reports its own error via the closure it was built from; exec
// itself never fails.
func (d *ptraceDispatcher) exec(fn func()) {
	d.funcChan <- fn
	<-d.doneChan
}

func (d *ptraceDispatcher) close() {
	close(d.funcChan)
}

const (
	_NT_PRSTATUS   = 1
	_NT_PRFPREG    = 2
	_NT_X86_XSTATE = 0x202
)

// remoteIovec mirrors golang.org/x/sys/unix.Iovec but uses uintptr for the
// base field so it can describe a tracee-address-space range rather than a
// local one. Grounded on
// _examples/go-delve-delve/pkg/proc/native/ptrace_linux.go's remoteIovec.
type remoteIovec struct {
	base uintptr
	len  uintptr
}

func ptraceAttach(tid int) error { return sys.PtraceAttach(tid) }

func ptraceDetach(tid, sig int) error {
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_DETACH, uintptr(tid), 1, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func ptraceCont(tid, sig int) error { return sys.PtraceCont(tid, sig) }

func ptraceSingleStep(tid, sig int) error {
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_SINGLESTEP), uintptr(tid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func ptraceSetOptions(tid int, options int) error {
	return sys.PtraceSetOptions(tid, options)
}

func ptraceGetEventMsg(tid int) (uint, error) {
	return sys.PtraceGetEventMsg(tid)
}

func ptraceGetSigInfo(tid int) (*sys.Siginfo, error) {
	var info sys.Siginfo
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETSIGINFO, uintptr(tid), 0, uintptr(unsafe.Pointer(&info)), 0, 0)
	if errno != 0 {
		return nil, errno
	}
	return &info, nil
}

// ptraceGetRegsInto performs PTRACE_GETREGS directly into the struct pointed
// to by ptr, which must have the same layout as the kernel's
// struct user_regs_struct for the host architecture. Grounded on
// _examples/go-delve-delve/pkg/proc/native/registers_linux_amd64.go's use of
// sys.PtraceGetRegs, generalized to write into our own context_x86_64 type
// instead of golang.org/x/sys/unix.PtraceRegs so the same buffer backs both
// the syscall and the RegisterRef views in context_linux_amd64.go.
func ptraceGetRegsInto(tid int, ptr unsafe.Pointer) error {
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETREGS, uintptr(tid), 0, uintptr(ptr), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func ptraceSetRegsFrom(tid int, ptr unsafe.Pointer) error {
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_SETREGS, uintptr(tid), 0, uintptr(ptr), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// ptraceGetRegSet performs PTRACE_GETREGSET for the given note type (one of
// the _NT_* constants above) into a buffer of size bufLen, returning the
// portion the kernel actually filled.
func ptraceGetRegSet(tid int, note uintptr, bufLen int) ([]byte, error) {
	buf := make([]byte, bufLen)
	iov := sys.Iovec{Base: &buf[0], Len: uint64(bufLen)}
	_, _, errno := syscall.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETREGSET, uintptr(tid), note, uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return nil, errno
	}
	return buf[:iov.Len], nil
}

func ptraceSetRegSet(tid int, note uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	iov := sys.Iovec{Base: &buf[0], Len: uint64(len(buf))}
	_, _, errno := syscall.Syscall6(sys.SYS_PTRACE, sys.PTRACE_SETREGSET, uintptr(tid), note, uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func ptraceGetFPRegs(tid int) ([]byte, error) {
	buf := make([]byte, 512)
	_, _, errno := syscall.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETFPREGS, uintptr(tid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	if errno != 0 {
		return nil, errno
	}
	return buf, nil
}

func ptracePeekUser(tid int, offset uintptr) (uint64, error) {
	var word uint64
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_PEEKUSR, uintptr(tid), offset, uintptr(unsafe.Pointer(&word)), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return word, nil
}

func ptracePokeUser(tid int, offset uintptr, value uint64) error {
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_POKEUSR, uintptr(tid), offset, uintptr(value), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func ptracePeekData(tid int, addr uintptr) (uint64, error) {
	var word uint64
	_, err := sys.PtracePeekData(tid, addr, (*[8]byte)(unsafe.Pointer(&word))[:])
	return word, err
}

func ptracePokeData(tid int, addr uintptr, word uint64) error {
	_, err := sys.PtracePokeData(tid, addr, (*[8]byte)(unsafe.Pointer(&word))[:])
	return err
}

func ptraceGetThreadArea(tid int, index int) (uint32, error) {
	var desc [4]uint32
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GET_THREAD_AREA, uintptr(tid), uintptr(index), uintptr(unsafe.Pointer(&desc[0])), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	// struct user_desc: entry_number, base_addr, limit, ...; base_addr is the
	// second 32-bit word.
	return desc[1], nil
}

// processVmRead calls process_vm_readv as an alternative to the tracing
// peek primitive for bulk memory reads. Grounded on
// _examples/go-delve-delve/pkg/proc/native/ptrace_linux_64bit.go.
func processVmRead(tid int, addr uintptr, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	localIov := sys.Iovec{Base: &data[0], Len: uint64(len(data))}
	remoteIov := remoteIovec{base: addr, len: uintptr(len(data))}
	n, _, errno := syscall.Syscall6(sys.SYS_PROCESS_VM_READV, uintptr(tid),
		uintptr(unsafe.Pointer(&localIov)), 1,
		uintptr(unsafe.Pointer(&remoteIov)), 1, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

// processVmWrite calls process_vm_writev.
func processVmWrite(tid int, addr uintptr, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	localIov := sys.Iovec{Base: &data[0], Len: uint64(len(data))}
	remoteIov := remoteIovec{base: addr, len: uintptr(len(data))}
	n, _, errno := syscall.Syscall6(sys.SYS_PROCESS_VM_WRITEV, uintptr(tid),
		uintptr(unsafe.Pointer(&localIov)), 1,
		uintptr(unsafe.Pointer(&remoteIov)), 1, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}
