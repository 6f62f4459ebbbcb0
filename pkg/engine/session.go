package engine

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	sys "golang.org/x/sys/unix"
)

// personalityGetPersonality and addrNoRandomize mirror the argument and flag
// _examples/go-delve-delve/pkg/proc/native/proc_linux.go passes to the
// personality(2) syscall to read, then clear, ASLR for a spawned child.
const (
	personalityGetPersonality = 0xffffffff
	addrNoRandomize           = 0x0040000
)

// Session owns the process-wide child-status signal mask and, at any time,
// at most one Process. Grounded on spec.md §4.1 and
// original_source/lib/Debugger.cpp's construction/destruction pair that
// blocks SIGCHLD for the process's lifetime. Only one Session per process is
// supported; a second construction races the first's saved mask.
type Session struct {
	savedMask sys.Sigset_t
	signalFd  int

	disableASLR        bool
	disableLazyBinding bool

	stdin, stdout, stderr *os.File
}

// SetStdio overrides the file descriptors a spawned child inherits,
// defaulting to the debugger's own stdin/stdout/stderr. Passing a pty
// slave here gives the target its own controlling terminal instead of the
// debugger's, matching how an interactive front end would isolate a
// traced program's terminal I/O from its own.
func (s *Session) SetStdio(stdin, stdout, stderr *os.File) {
	s.stdin, s.stdout, s.stderr = stdin, stdout, stderr
}

// NewSession blocks the child-status signal from asynchronous delivery,
// saving the previous mask, and opens a signalfd so the event pump can
// convert its arrival into a synchronous wake-up.
func NewSession() (*Session, error) {
	s := &Session{signalFd: -1}
	if err := s.construct(); err != nil {
		return nil, err
	}
	return s, nil
}

func sigsetWith(sig sys.Signal) sys.Sigset_t {
	var set sys.Sigset_t
	bit := uint(sig) - 1
	set.Val[bit/64] |= 1 << (bit % 64)
	return set
}

func (s *Session) construct() error {
	mask := sigsetWith(sys.SIGCHLD)
	if err := sys.PthreadSigmask(sys.SIG_BLOCK, &mask, &s.savedMask); err != nil {
		return &PtraceFailed{Op: "pthread_sigmask(BLOCK)", Err: err}
	}
	fd, err := sys.Signalfd(-1, &mask, sys.SFD_CLOEXEC)
	if err != nil {
		return &PtraceFailed{Op: "signalfd", Err: err}
	}
	s.signalFd = fd
	return nil
}

// Close restores the signal mask observed before construction and closes
// the signalfd. Idempotent.
func (s *Session) Close() error {
	if s.signalFd >= 0 {
		sys.Close(s.signalFd)
		s.signalFd = -1
	}
	mask := s.savedMask
	if err := sys.PthreadSigmask(sys.SIG_SETMASK, &mask, nil); err != nil {
		return &PtraceFailed{Op: "pthread_sigmask(SETMASK)", Err: err}
	}
	return nil
}

// SetDisableASLR controls whether Spawn sets ADDR_NO_RANDOMIZE (disabling
// address-space randomization) for the child before exec.
func (s *Session) SetDisableASLR(disable bool) { s.disableASLR = disable }

// SetDisableLazyBinding controls whether Spawn sets LD_BIND_NOW=1 in the
// child's environment.
func (s *Session) SetDisableLazyBinding(disable bool) { s.disableLazyBinding = disable }

// Attach traces an already-running process by pid, per spec.md §4.1.
func (s *Session) Attach(pid int) (*Process, error) {
	p, err := attachProcess(pid)
	if err != nil {
		return nil, err
	}
	p.signalFd = s.signalFd
	return p, nil
}

// Spawn forks a child, optionally disables ASLR and enables eager symbol
// binding, requests the kernel trace it, changes to cwd, and execs argv
// with envp (or the inherited environment if envp is nil). Any failure
// before or during exec is surfaced as a typed SpawnFailed sourced from
// os/exec's own synchronous error-pipe, which plays the same role the
// original's shared diagnostic page does (see DESIGN.md, "diagnostic page"
// entry) without needing child-side code between fork and exec. Grounded on
// _examples/go-delve-delve/pkg/proc/native/proc_linux.go's Launch.
func (s *Session) Spawn(cwd string, argv, envp []string) (*Process, error) {
	if len(argv) == 0 {
		return nil, &SpawnFailed{Err: errors.New("spawn requires a non-empty argv")}
	}

	p, err := newProcess(0)
	if err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	var startErr error
	p.ptrace.exec(func() {
		var oldPersonality uintptr
		aslrChanged := false
		if s.disableASLR {
			old, _, perr := syscall.Syscall(sys.SYS_PERSONALITY, personalityGetPersonality, 0, 0)
			if perr == 0 {
				oldPersonality = old
				aslrChanged = true
				syscall.Syscall(sys.SYS_PERSONALITY, old|addrNoRandomize, 0, 0)
			}
		}

		cmd = exec.Command(argv[0])
		cmd.Args = argv
		cmd.Dir = cwd
		if envp != nil {
			cmd.Env = envp
		} else {
			cmd.Env = os.Environ()
		}
		if s.disableLazyBinding {
			cmd.Env = append(cmd.Env, "LD_BIND_NOW=1")
		}
		cmd.Stdin, cmd.Stdout, cmd.Stderr = s.stdin, s.stdout, s.stderr
		if cmd.Stdin == nil {
			cmd.Stdin = os.Stdin
		}
		if cmd.Stdout == nil {
			cmd.Stdout = os.Stdout
		}
		if cmd.Stderr == nil {
			cmd.Stderr = os.Stderr
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true, Setpgid: true}

		startErr = cmd.Start()

		if aslrChanged {
			syscall.Syscall(sys.SYS_PERSONALITY, oldPersonality, 0, 0)
		}
	})
	if startErr != nil {
		logDebuggerWarn(map[string]interface{}{"path": argv[0]}, "spawn failed: "+startErr.Error())
		return nil, &SpawnFailed{Path: argv[0], Err: startErr}
	}

	pid := cmd.Process.Pid
	p.Pid = pid

	// newThread itself waits for the post-exec trap-stop before issuing
	// PTRACE_SETOPTIONS/detectBitness against the child, so t.status already
	// reflects that stop by the time it returns here.
	t, err := newThread(p, pid, FlagNoAttach|FlagKillOnTracerExit)
	if err != nil {
		return nil, &SpawnFailed{Path: argv[0], Err: err}
	}
	p.addThread(t)

	if !t.status.Stopped() || t.status.StopSignal() != sys.SIGTRAP {
		return nil, &TraceePreconditionFailed{Pid: pid, Status: fmt.Sprintf("raw status %#x", uint32(t.status))}
	}

	if err := p.openMemFile(); err != nil {
		return nil, err
	}
	p.signalFd = s.signalFd
	logDebuggerDebug(debugFields("pid", uint64(pid)), "spawned")
	return p, nil
}
