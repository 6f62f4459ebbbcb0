package engine

import (
	"fmt"
	"syscall"

	sys "golang.org/x/sys/unix"
)

// sizes of the raw kernel register structs, used by detectBitness to tell a
// 32-bit tracee from a 64-bit one by the length PTRACE_GETREGSET/NT_PRSTATUS
// reports. Grounded on original_source/lib/Thread.cpp's detect_64_bit.
const (
	sizeofContextX86_64 = 27 * 8
	sizeofContextX86_32 = 17 * 4
)

const traceOptions = sys.PTRACE_O_TRACECLONE | sys.PTRACE_O_TRACEFORK | sys.PTRACE_O_TRACEEXIT

// newThread constructs a Thread, optionally attaching to it and always
// blocking for the initial stop before returning. Grounded on
// original_source/lib/Thread.cpp's constructor sequence: attach, wait,
// set trace options, detect bitness.
func newThread(proc *Process, tid int, flags ThreadFlag) (*Thread, error) {
	t := &Thread{
		proc:             proc,
		Pid:              proc.Pid,
		Tid:              tid,
		state:            ThreadRunning,
		killOnTracerExit: flags.has(FlagKillOnTracerExit),
	}

	if !flags.has(FlagNoAttach) {
		var attachErr error
		proc.ptrace.exec(func() { attachErr = ptraceAttach(tid) })
		if attachErr != nil {
			return nil, &AttachFailed{Pid: tid, Err: attachErr}
		}
	}
	// The initial stop is waited for here regardless of attach mode: a
	// NoAttach thread (a just-exec'd child, or a newly cloned thread the
	// kernel auto-stops under PTRACE_O_TRACECLONE) has a real pending
	// trap-stop that must be collected via wait4 before any further ptrace
	// op against it is safe, not merely assumed Stopped.
	if err := t.wait(); err != nil {
		return nil, err
	}

	options := traceOptions
	if t.killOnTracerExit {
		options |= sys.PTRACE_O_EXITKILL
	}
	var optErr error
	proc.ptrace.exec(func() { optErr = ptraceSetOptions(tid, options) })
	if optErr != nil {
		return nil, &PtraceFailed{Op: "PTRACE_SETOPTIONS", Pid: tid, Err: optErr}
	}

	if err := t.detectBitness(); err != nil {
		return nil, err
	}

	return t, nil
}

// detectBitness fetches NT_PRSTATUS via PTRACE_GETREGSET and compares its
// reported length against the known 32- and 64-bit register struct sizes.
func (t *Thread) detectBitness() error {
	var buf []byte
	var err error
	t.proc.ptrace.exec(func() {
		buf, err = ptraceGetRegSet(t.Tid, _NT_PRSTATUS, sizeofContextX86_64)
	})
	if err != nil {
		return &RegisterAccessFailed{Bank: "gp", Tid: t.Tid, Err: err}
	}
	switch len(buf) {
	case sizeofContextX86_64:
		t.is64 = true
	case sizeofContextX86_32:
		t.is64 = false
	default:
		// Be permissive: a kernel that reports a slightly different length
		// than either known layout is treated as 64-bit, the common case on
		// the only host architecture this package targets.
		t.is64 = true
	}
	t.bitnessKnown = true
	return nil
}

// wait performs exactly one synchronous wait4 for this thread and records
// the resulting status, transitioning the thread to Stopped.
func (t *Thread) wait() error {
	var status sys.WaitStatus
	var err error
	_, err = sys.Wait4(t.Tid, &status, sys.WALL, nil)
	if err != nil && err != syscall.EINTR {
		return &PtraceFailed{Op: "wait4", Pid: t.Tid, Err: err}
	}
	t.status = status
	t.state = ThreadStopped
	return nil
}

// step single-steps the thread by one instruction. Pre-state Stopped,
// post-state Running.
func (t *Thread) step() error {
	t.requireState(ThreadStopped, "step")
	var err error
	t.proc.ptrace.exec(func() { err = ptraceSingleStep(t.Tid, 0) })
	if err != nil {
		return &PtraceFailed{Op: "PTRACE_SINGLESTEP", Pid: t.Tid, Err: err}
	}
	t.state = ThreadRunning
	return nil
}

// stepAndWait single-steps the thread and blocks until the kernel reports it
// ptrace-stopped again, leaving it in the Stopped state. Grounded on
// _examples/go-delve-delve/pkg/proc/native/threads_hardware_singlestep_linux.go's
// singleStep, which blocks on waitFast before returning: any memory write
// that must follow a step (re-arming a breakpoint) requires the tracee to
// actually be ptrace-stopped, not merely have had PTRACE_SINGLESTEP issued.
func (t *Thread) stepAndWait() error {
	if err := t.step(); err != nil {
		return err
	}
	return t.wait()
}

// resume continues the thread freely. Pre-state Stopped, post-state Running.
func (t *Thread) resume() error {
	return t.resumeWithSignal(0)
}

func (t *Thread) resumeWithSignal(sig int) error {
	t.requireState(ThreadStopped, "resume")
	var err error
	t.proc.ptrace.exec(func() { err = ptraceCont(t.Tid, sig) })
	if err != nil {
		return &PtraceFailed{Op: "PTRACE_CONT", Pid: t.Tid, Err: err}
	}
	t.state = ThreadRunning
	return nil
}

// stop asks the thread to stop by sending it the stop signal via the
// thread-group-directed kill. Pre-state Running.
func (t *Thread) stop() error {
	t.requireState(ThreadRunning, "stop")
	return sys.Tgkill(t.Pid, t.Tid, sys.SIGSTOP)
}

// kill sends the kill signal to the thread via the thread-group-directed kill.
func (t *Thread) kill() error {
	return sys.Tgkill(t.Pid, t.Tid, sys.SIGKILL)
}

// detach is idempotent: once called it marks the thread's id as -1 so a
// repeated call is a no-op, matching
// original_source/lib/Thread.cpp's detach().
func (t *Thread) detach() error {
	if t.Tid == -1 {
		return nil
	}
	var err error
	t.proc.ptrace.exec(func() { err = ptraceDetach(t.Tid, 0) })
	t.Tid = -1
	if err != nil && err != syscall.ESRCH {
		return &PtraceFailed{Op: "PTRACE_DETACH", Pid: t.Pid, Err: err}
	}
	return nil
}

// setOptions re-applies trace options to an already-constructed thread,
// including PTRACE_O_EXITKILL when killOnTracerExit is set.
func (t *Thread) setOptions() error {
	options := traceOptions
	if t.killOnTracerExit {
		options |= sys.PTRACE_O_EXITKILL
	}
	var err error
	t.proc.ptrace.exec(func() { err = ptraceSetOptions(t.Tid, options) })
	if err != nil {
		return &PtraceFailed{Op: "PTRACE_SETOPTIONS", Pid: t.Tid, Err: err}
	}
	return nil
}

func sigInfoString(info *sys.Siginfo) string {
	if info == nil {
		return "<nil>"
	}
	return fmt.Sprintf("signo=%d code=%d", info.Signo, info.Code)
}
