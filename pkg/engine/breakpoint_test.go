package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeMemory is an in-memory breakpointMemory backed by a flat byte buffer,
// standing in for a Process so Breakpoint's install/restore logic can be
// exercised without a real tracee. Grounded on the teacher's preference for
// narrow interfaces over concrete *proc.Process dependencies in unit tests.
type fakeMemory struct {
	buf []byte
}

func (m *fakeMemory) readMemoryRaw(addr uint64, buf []byte) (int, error) {
	n := copy(buf, m.buf[addr:])
	return n, nil
}

func (m *fakeMemory) writeMemoryRaw(addr uint64, buf []byte) (int, error) {
	n := copy(m.buf[addr:], buf)
	return n, nil
}

func (m *fakeMemory) pid() int { return 1 }

func TestBreakpointEnableSavesAndInstalls(t *testing.T) {
	mem := &fakeMemory{buf: []byte{0x90, 0x90, 0x90, 0x90}}
	bp, err := newBreakpoint(mem, 1, INT3)
	require.NoError(t, err)
	require.True(t, bp.Enabled())
	require.Equal(t, byte(0xcc), mem.buf[1])
	require.Equal(t, []byte{0x90}, bp.SavedBytes())
}

func TestBreakpointDisableRestoresBytes(t *testing.T) {
	mem := &fakeMemory{buf: []byte{0x90, 0x90, 0x90, 0x90}}
	bp, err := newBreakpoint(mem, 2, UD2)
	require.NoError(t, err)
	require.Equal(t, 2, bp.Size())
	require.Equal(t, []byte{0x0f, 0x0b}, mem.buf[2:4])

	require.NoError(t, bp.Disable())
	require.False(t, bp.Enabled())
	require.Equal(t, []byte{0x90, 0x90}, mem.buf[2:4])
}

func TestBreakpointEnableDisableIdempotent(t *testing.T) {
	mem := &fakeMemory{buf: []byte{0x90, 0x90}}
	bp, err := newBreakpoint(mem, 0, INT3)
	require.NoError(t, err)
	require.NoError(t, bp.Enable())
	require.NoError(t, bp.Disable())
	require.NoError(t, bp.Disable())
}

func TestBreakpointHitIncrementsCount(t *testing.T) {
	mem := &fakeMemory{buf: []byte{0x90}}
	bp, err := newBreakpoint(mem, 0, INT3)
	require.NoError(t, err)
	require.Zero(t, bp.HitCount())
	bp.Hit()
	bp.Hit()
	require.EqualValues(t, 2, bp.HitCount())
}

func TestBreakpointFilterRangeHidesInstalledOpcode(t *testing.T) {
	mem := &fakeMemory{buf: []byte{0x55, 0x90, 0x90, 0x90, 0x90}}
	bp, err := newBreakpoint(mem, 1, INT3)
	require.NoError(t, err)

	read := append([]byte(nil), mem.buf...)
	bp.filterRange(0, read)
	require.Equal(t, byte(0x90), read[1])
	require.Equal(t, byte(0xcc), mem.buf[1])
}

func TestBreakpointFilterRangeNoOverlapUnchanged(t *testing.T) {
	mem := &fakeMemory{buf: []byte{0x90, 0x90, 0x90, 0x90}}
	bp, err := newBreakpoint(mem, 3, INT3)
	require.NoError(t, err)

	read := []byte{0x11, 0x22}
	bp.filterRange(0, read)
	require.Equal(t, []byte{0x11, 0x22}, read)
}

func TestNewBreakpointUnknownKind(t *testing.T) {
	mem := &fakeMemory{buf: []byte{0x90}}
	_, err := newBreakpoint(mem, 0, BreakpointKind(99))
	require.Error(t, err)
}
