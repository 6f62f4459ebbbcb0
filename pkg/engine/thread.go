package engine

import sys "golang.org/x/sys/unix"

// ThreadState is the per-thread tracing state machine. Grounded on
// original_source/lib/include/Debug/ThreadIntel.hpp's State enum.
type ThreadState int

const (
	ThreadRunning ThreadState = iota
	ThreadStopped
)

func (s ThreadState) String() string {
	if s == ThreadStopped {
		return "Stopped"
	}
	return "Running"
}

// ThreadFlag controls how a Thread is constructed. Grounded on
// original_source/lib/include/Debug/ThreadIntel.hpp's Flag bitmask.
type ThreadFlag int

const (
	FlagAttach ThreadFlag = 0
	FlagNoAttach ThreadFlag = 1 << 0
	FlagKillOnTracerExit ThreadFlag = 1 << 1
)

func (f ThreadFlag) has(bit ThreadFlag) bool { return f&bit != 0 }

// Thread is a single kernel thread of a traced process. Grounded on
// original_source/lib/include/Debug/ThreadIntel.hpp / lib/Thread.cpp.
type Thread struct {
	proc *Process

	Pid int // owning process id
	Tid int // this thread's id

	status sys.WaitStatus
	state  ThreadState

	is64         bool
	bitnessKnown bool

	killOnTracerExit bool
}

// State returns the thread's current tracing state.
func (t *Thread) State() ThreadState { return t.state }

// Status returns the last observed raw wait status for this thread.
func (t *Thread) Status() sys.WaitStatus { return t.status }

// Is64Bit reports the thread's detected bitness.
func (t *Thread) Is64Bit() bool { return t.is64 }

func (t *Thread) requireState(want ThreadState, op string) error {
	if t.state != want {
		panic("tracecore: " + op + " requires thread " + want.String() + ", got " + t.state.String())
	}
	return nil
}
