package engine

import "strings"

// Permission bits for a Region, matching the design-level constants named
// in the platform interfaces section: the /proc/<pid>/maps parser sets each
// bit when the corresponding perm character appears on the line.
const (
	PermRead    = 0x0001
	PermWrite   = 0x0002
	PermExecute = 0x0004
	PermShared  = 0x1000
	PermPrivate = 0x2000
)

// Region describes one mapped range from a tracee's /proc/<pid>/maps.
type Region struct {
	Start       uint64
	End         uint64
	Offset      uint64
	Permissions uint64
	Name        string
}

// Size returns the length in bytes of the region.
func (r Region) Size() uint64 { return r.End - r.Start }

func (r Region) has(bit uint64) bool { return r.Permissions&bit != 0 }

func (r Region) Readable() bool   { return r.has(PermRead) }
func (r Region) Writable() bool   { return r.has(PermWrite) }
func (r Region) Executable() bool { return r.has(PermExecute) }
func (r Region) Shared() bool     { return r.has(PermShared) }
func (r Region) Private() bool    { return r.has(PermPrivate) }

// IsStack classifies the region by its backing name, as delivered by the
// kernel in /proc/<pid>/maps (e.g. "[stack]", "[stack:1234]" for a
// non-leader thread).
func (r Region) IsStack() bool { return strings.Contains(r.Name, "[stack") }

// IsHeap classifies the region as the process heap.
func (r Region) IsHeap() bool { return strings.Contains(r.Name, "[heap]") }

// IsVDSO classifies the region as the kernel-provided vdso mapping.
func (r Region) IsVDSO() bool { return strings.Contains(r.Name, "[vdso]") }
