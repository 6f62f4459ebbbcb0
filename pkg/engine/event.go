package engine

import "golang.org/x/sys/unix"

// EventKind classifies a raw wait status into one of the four kinds the
// event pump distinguishes.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventExited
	EventTerminated
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventExited:
		return "Exited"
	case EventTerminated:
		return "Terminated"
	case EventStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Event is the classified notification the pump hands to the caller's
// callback once per drained stop. Exit and termination-by-signal statuses
// are handled inside the pump and are not delivered.
type Event struct {
	Pid        int
	Tid        int
	Status     unix.WaitStatus
	Kind       EventKind
	PC         uint64
	ExitStatus int
	Signal     unix.Signal
	SigInfo    *unix.Siginfo
	Breakpoint *Breakpoint
	IsClone    bool
	NewTid     int
}

// EventStatus is the value the caller's event-pump callback returns,
// telling the pump how to resume the thread that generated the event. This
// replaces the historical always-resume behavior: the pump now acts on the
// callback's decision rather than ignoring it (see DESIGN.md, open
// question on the event-pump callback return value).
type EventStatus int

const (
	// Continue resumes the thread normally.
	Continue EventStatus = iota
	// ContinueStep single-steps the thread instead of freely continuing it.
	ContinueStep
	// ContinueBreakPoint resumes the thread after re-arming a breakpoint the
	// thread currently sits on (step over, reinstall, continue).
	ContinueBreakPoint
	// Stop leaves the thread in the Stopped state; the pump does not resume it.
	Stop
	// ExceptionNotHandled tells the pump this callback had no opinion on the
	// event; later handlers (if any) should be consulted, but if none handle
	// it, the default is to resume.
	ExceptionNotHandled
	// NextHandler is equivalent to ExceptionNotHandled: defer to the next
	// registered handler, resuming by default when none claim the event.
	NextHandler
)

// EventCallback is the signature the event pump invokes once per drained
// stop.
type EventCallback func(ev Event) EventStatus
