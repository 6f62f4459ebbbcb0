package engine

import "fmt"

// BreakpointKind selects the instruction byte pattern a Breakpoint installs.
// Grounded on original_source/lib/Breakpoint.cpp's TypeId switch.
type BreakpointKind int

const (
	// Automatic resolves to INT3, the default kind.
	Automatic BreakpointKind = iota
	INT3
	INT1
	HLT
	CLI
	STI
	INSB
	INSD
	OUTSB
	OUTSD
	UD2
	UD0
)

const (
	minBreakpointSize = 1
	maxBreakpointSize = 2
)

var breakpointOpcodes = map[BreakpointKind][]byte{
	Automatic: {0xcc},
	INT3:      {0xcc},
	INT1:      {0xf1},
	HLT:       {0xf4},
	CLI:       {0xfa},
	STI:       {0xfb},
	INSB:      {0x6c},
	INSD:      {0x6d},
	OUTSB:     {0x6e},
	OUTSD:     {0x6f},
	UD2:       {0x0f, 0x0b},
	UD0:       {0x0f, 0xff},
}

// breakpointMemory is the minimum capability set a Breakpoint needs from its
// owning Process: the ability to read and write the tracee's memory. This
// replaces a raw back-pointer to *Process so a Breakpoint can be exercised
// against a mock in isolation from the rest of Process's state.
type breakpointMemory interface {
	readMemoryRaw(addr uint64, buf []byte) (int, error)
	writeMemoryRaw(addr uint64, buf []byte) (int, error)
	pid() int
}

// Breakpoint is a software breakpoint installed by overwriting the bytes at
// an address with a trap instruction and restoring them on removal.
type Breakpoint struct {
	mem     breakpointMemory
	Address uint64
	Kind    BreakpointKind

	savedBytes    [2]byte
	installBytes  [2]byte
	size          int
	enabled       bool
	hitCount      uint64
}

// newBreakpoint constructs a Breakpoint and immediately enables it, matching
// the original's constructor-enables-unconditionally behavior.
func newBreakpoint(mem breakpointMemory, address uint64, kind BreakpointKind) (*Breakpoint, error) {
	opcode, ok := breakpointOpcodes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown breakpoint kind %v", kind)
	}
	bp := &Breakpoint{
		mem:     mem,
		Address: address,
		Kind:    kind,
		size:    len(opcode),
	}
	copy(bp.installBytes[:], opcode)
	if err := bp.Enable(); err != nil {
		return nil, err
	}
	return bp, nil
}

// Size is the number of bytes the breakpoint's instruction occupies (1 or 2).
func (b *Breakpoint) Size() int { return b.size }

// Enabled reports whether the breakpoint's bytes are currently installed.
func (b *Breakpoint) Enabled() bool { return b.enabled }

// HitCount returns the number of times the pump has observed this
// breakpoint trap.
func (b *Breakpoint) HitCount() uint64 { return b.hitCount }

// SavedBytes returns the original bytes that were at Address before install.
func (b *Breakpoint) SavedBytes() []byte { return append([]byte(nil), b.savedBytes[:b.size]...) }

// Enable installs the breakpoint's bytes, saving the original bytes first.
// A no-op if already enabled.
func (b *Breakpoint) Enable() error {
	if b.enabled {
		return nil
	}
	buf := make([]byte, b.size)
	if _, err := b.mem.readMemoryRaw(b.Address, buf); err != nil {
		return &MemoryReadFailed{Addr: b.Address, Err: err}
	}
	copy(b.savedBytes[:], buf)

	if _, err := b.mem.writeMemoryRaw(b.Address, b.installBytes[:b.size]); err != nil {
		return &MemoryWriteFailed{Addr: b.Address, Err: err}
	}
	b.enabled = true
	return nil
}

// Disable restores the original bytes. A no-op if already disabled.
func (b *Breakpoint) Disable() error {
	if !b.enabled {
		return nil
	}
	if _, err := b.mem.writeMemoryRaw(b.Address, b.savedBytes[:b.size]); err != nil {
		return &MemoryWriteFailed{Addr: b.Address, Err: err}
	}
	b.enabled = false
	return nil
}

// Hit increments the breakpoint's hit counter.
func (b *Breakpoint) Hit() { b.hitCount++ }

// filterRange overwrites the portion of buf that overlaps [b.Address,
// b.Address+b.size) with the breakpoint's saved (original) bytes, so reads
// through the debugger never observe the trap opcode. buf holds bytes read
// starting at addr.
func (b *Breakpoint) filterRange(addr uint64, buf []byte) {
	if !b.enabled {
		return
	}
	bpStart, bpEnd := b.Address, b.Address+uint64(b.size)
	readStart, readEnd := addr, addr+uint64(len(buf))
	lo := max64(bpStart, readStart)
	hi := min64(bpEnd, readEnd)
	if lo >= hi {
		return
	}
	for a := lo; a < hi; a++ {
		buf[a-readStart] = b.savedBytes[a-bpStart]
	}
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
