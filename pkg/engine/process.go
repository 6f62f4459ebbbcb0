package engine

import (
	"os"
	"strconv"
	"syscall"
	"unsafe"

	lru "github.com/hashicorp/golang-lru"
)

// Process tracks one traced target: its threads, its software breakpoints,
// and the memory/region state derived from it. Grounded on
// original_source/lib/include/Debug/ProcessIntel.hpp / lib/Process.cpp, with
// the thread table keyed by tid per spec.md §3's invariant.
type Process struct {
	Pid int

	threads     map[int]*Thread
	breakpoints map[uint64]*Breakpoint
	active      *Thread
	pumpPromoted bool

	mem        *scopedFile
	signalFd   int
	lastHash   uint64
	regionCache *lru.Cache

	ptrace *ptraceDispatcher
}

// regionCacheSize bounds the number of parsed /proc/<pid>/maps snapshots
// kept around across re-parses triggered by a changed HashRegions result,
// per SPEC_FULL.md §11's golang-lru wiring.
const regionCacheSize = 8

func newProcess(pid int) (*Process, error) {
	cache, err := lru.New(regionCacheSize)
	if err != nil {
		return nil, err
	}
	return &Process{
		Pid:         pid,
		threads:     make(map[int]*Thread),
		breakpoints: make(map[uint64]*Breakpoint),
		regionCache: cache,
		ptrace:      newPtraceDispatcher(),
		signalFd:    -1,
	}, nil
}

// pid implements breakpointMemory.
func (p *Process) pid() int { return p.Pid }

// Threads returns a snapshot slice of the currently tracked threads.
func (p *Process) Threads() []*Thread {
	out := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	return out
}

// Thread looks up a tracked thread by tid.
func (p *Process) Thread(tid int) (*Thread, bool) {
	t, ok := p.threads[tid]
	return t, ok
}

// ActiveThread returns the Process's current default target for step/stop,
// or nil if the thread table is empty.
func (p *Process) ActiveThread() *Thread { return p.active }

func (p *Process) addThread(t *Thread) {
	p.threads[t.Tid] = t
	if p.active == nil {
		p.active = t
	}
}

func (p *Process) removeThread(tid int) {
	delete(p.threads, tid)
	if p.active != nil && p.active.Tid == tid {
		p.active = nil
		for _, t := range p.threads {
			p.active = t
			break
		}
	}
}

// readMemoryRaw implements breakpointMemory: a positional read via
// /proc/<pid>/mem, falling back to a word-at-a-time read with the tracing
// peek primitive. Grounded on
// original_source/lib/Process.cpp's read_memory.
func (p *Process) readMemoryRaw(addr uint64, buf []byte) (int, error) {
	if p.mem != nil && p.mem.f != nil {
		n, err := p.mem.f.ReadAt(buf, int64(addr))
		if err == nil || n == len(buf) {
			return n, nil
		}
	}
	return p.peekMemory(addr, buf)
}

// writeMemoryRaw implements breakpointMemory, the write-side counterpart of
// readMemoryRaw. No breakpoint filtering is applied here; that is the
// caller's responsibility per spec.md §4.2's open question on
// overlapping writes.
func (p *Process) writeMemoryRaw(addr uint64, buf []byte) (int, error) {
	if p.mem != nil && p.mem.f != nil {
		n, err := p.mem.f.WriteAt(buf, int64(addr))
		if err == nil {
			return n, nil
		}
	}
	return p.pokeMemory(addr, buf)
}

func (p *Process) peekMemory(addr uint64, buf []byte) (int, error) {
	tid := p.pickMemoryTid()
	var total int
	var err error
	p.ptrace.exec(func() {
		for total < len(buf) {
			var word uint64
			word, err = ptracePeekData(tid, uintptr(addr)+uintptr(total))
			if err != nil {
				if err == syscall.ESRCH {
					err = nil
				}
				return
			}
			n := copy(buf[total:], (*[8]byte)(unsafe.Pointer(&word))[:])
			total += n
		}
	})
	return total, err
}

func (p *Process) pokeMemory(addr uint64, buf []byte) (int, error) {
	tid := p.pickMemoryTid()
	var total int
	var err error
	p.ptrace.exec(func() {
		for total < len(buf) {
			remaining := len(buf) - total
			var word uint64
			if remaining >= 8 {
				word = *(*uint64)(unsafe.Pointer(&buf[total]))
			} else {
				var existing uint64
				existing, err = ptracePeekData(tid, uintptr(addr)+uintptr(total))
				if err != nil {
					if err == syscall.ESRCH {
						err = nil
					}
					return
				}
				b := (*[8]byte)(unsafe.Pointer(&existing))
				copy(b[:], buf[total:])
				word = existing
			}
			if pokeErr := ptracePokeData(tid, uintptr(addr)+uintptr(total), word); pokeErr != nil {
				if pokeErr == syscall.ESRCH {
					break
				}
				err = pokeErr
				return
			}
			n := 8
			if remaining < 8 {
				n = remaining
			}
			total += n
		}
	})
	return total, err
}

func (p *Process) pickMemoryTid() int {
	if p.active != nil {
		return p.active.Tid
	}
	for tid := range p.threads {
		return tid
	}
	return p.Pid
}

// ReadMemory reads n bytes at addr and filters out every installed
// breakpoint's trap bytes from the result. Grounded on
// original_source/lib/Process.cpp's read_memory + filter_breakpoints.
func (p *Process) ReadMemory(addr uint64, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	read, err := p.readMemoryRaw(addr, buf)
	if err != nil {
		return nil, &MemoryReadFailed{Addr: addr, Err: err}
	}
	buf = buf[:read]
	for _, bp := range p.breakpoints {
		bp.filterRange(addr, buf)
	}
	return buf, nil
}

// WriteMemory writes buf at addr. No breakpoint filtering.
func (p *Process) WriteMemory(addr uint64, buf []byte) (int, error) {
	n, err := p.writeMemoryRaw(addr, buf)
	if err != nil {
		return n, &MemoryWriteFailed{Addr: addr, Err: err}
	}
	return n, nil
}

// LastHash returns the memory-map hash observed by the most recent call to
// Regions, or zero if Regions has never been called. Part of spec.md §3's
// Process invariant (e), "the last observed memory-map hash."
func (p *Process) LastHash() uint64 { return p.lastHash }

// Regions returns the target's current memory regions, re-parsing
// /proc/<pid>/maps only when its FNV-1a hash has changed since the last
// call. Grounded on spec.md §8's testable law "hash_regions is a pure
// function of /proc/<pid>/maps' byte content... used by the caller to
// decide whether to re-parse regions": regionCache is keyed by hash so a
// long-lived session does not re-parse (or retain more than
// regionCacheSize) stale Region slices for a memory map that has not
// changed.
func (p *Process) Regions() ([]Region, error) {
	hash, err := HashRegions(p.Pid)
	if err != nil {
		return nil, err
	}
	p.lastHash = hash

	if cached, ok := p.regionCache.Get(hash); ok {
		return cached.([]Region), nil
	}

	regions, err := EnumerateRegions(p.Pid)
	if err != nil {
		return nil, err
	}
	p.regionCache.Add(hash, regions)
	return regions, nil
}

// AddBreakpoint installs a breakpoint at addr, replacing any existing one
// at the same address (spec.md §4.2's "safe choice: disable-and-reinstall"
// resolution of the open question, recorded in DESIGN.md).
func (p *Process) AddBreakpoint(addr uint64, kind BreakpointKind) (*Breakpoint, error) {
	if existing, ok := p.breakpoints[addr]; ok {
		existing.Disable()
	}
	bp, err := newBreakpoint(p, addr, kind)
	if err != nil {
		return nil, err
	}
	p.breakpoints[addr] = bp
	logDebuggerDebug(debugFields("addr", addr), "breakpoint installed")
	return bp, nil
}

// RemoveBreakpoint disables and removes the breakpoint at addr, if any.
func (p *Process) RemoveBreakpoint(addr uint64) error {
	bp, ok := p.breakpoints[addr]
	if !ok {
		return nil
	}
	if err := bp.Disable(); err != nil {
		return err
	}
	delete(p.breakpoints, addr)
	return nil
}

// FindBreakpoint looks up a breakpoint by its exact install address.
func (p *Process) FindBreakpoint(addr uint64) (*Breakpoint, bool) {
	bp, ok := p.breakpoints[addr]
	return bp, ok
}

// SearchBreakpoint scans sizes [minBreakpointSize, maxBreakpointSize] for a
// breakpoint whose installation ends exactly at addrAfterTrap, the address
// the trap left the PC at. Grounded on
// original_source/lib/Process.cpp's search_breakpoint.
func (p *Process) SearchBreakpoint(addrAfterTrap uint64) (*Breakpoint, bool) {
	for size := minBreakpointSize; size <= maxBreakpointSize; size++ {
		candidate := addrAfterTrap - uint64(size)
		if bp, ok := p.breakpoints[candidate]; ok && bp.Size() == size {
			return bp, true
		}
	}
	return nil, false
}

// Step single-steps the active thread, picking any Stopped thread as active
// if none is set. Panics (an assertion, per spec.md §7) if no thread is
// Stopped.
func (p *Process) Step() error {
	t := p.active
	if t == nil || t.state != ThreadStopped {
		t = p.anyStoppedThread()
	}
	if t == nil {
		panic("tracecore: Step requires a Stopped thread, none available")
	}
	p.active = t
	return t.step()
}

func (p *Process) anyStoppedThread() *Thread {
	for _, t := range p.threads {
		if t.state == ThreadStopped {
			return t
		}
	}
	return nil
}

// Resume resumes every Stopped thread.
func (p *Process) Resume() error {
	for _, t := range p.threads {
		if t.state == ThreadStopped {
			if err := t.resume(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stop stops the active thread, or else any Running thread.
func (p *Process) Stop() error {
	t := p.active
	if t == nil || t.state != ThreadRunning {
		for _, candidate := range p.threads {
			if candidate.state == ThreadRunning {
				t = candidate
				break
			}
		}
	}
	if t == nil {
		return nil
	}
	return t.stop()
}

// Kill terminates every thread of the target.
func (p *Process) Kill() error {
	var firstErr error
	for _, t := range p.threads {
		if err := t.kill(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Detach clears the breakpoint table (restoring saved bytes for each) and
// then the thread table (detaching each thread), per spec.md §4.2's
// construction-order requirement.
func (p *Process) Detach() error {
	for addr := range p.breakpoints {
		p.RemoveBreakpoint(addr)
	}
	for tid, t := range p.threads {
		t.detach()
		delete(p.threads, tid)
	}
	p.active = nil
	p.mem.release()
	p.ptrace.close()
	return nil
}

func (p *Process) openMemFile() error {
	path := "/proc/" + strconv.Itoa(p.Pid) + "/mem"
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return &ProcfsFailed{Path: path, Err: err}
	}
	p.mem = &scopedFile{f: f}
	return nil
}

func debugFields(key string, addr uint64) map[string]interface{} {
	return map[string]interface{}{key: addr}
}
