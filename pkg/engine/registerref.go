package engine

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"
)

// registerWidth derives a register's byte width from x86asm.Reg's own
// block ordering (8-bit, 16-bit, 32-bit, 64-bit general-purpose blocks,
// then the instruction pointer and XMM/MMX blocks) instead of a
// hand-rolled size table, mirroring the teacher's
// linutil.AMD64Registers.Get sub-register aliasing switch but driven by
// the ecosystem enum.
func registerWidth(r x86asm.Reg) int {
	switch {
	case r >= x86asm.AL && r <= x86asm.R15B:
		return 1
	case r >= x86asm.AX && r <= x86asm.R15W:
		return 2
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return 4
	case r >= x86asm.RAX && r <= x86asm.R15:
		return 8
	case r == x86asm.IP:
		return 2
	case r == x86asm.EIP:
		return 4
	case r == x86asm.RIP:
		return 8
	case r >= x86asm.M0 && r <= x86asm.M7:
		return 8
	case r >= x86asm.X0 && r <= x86asm.X15:
		return 16
	default:
		return 0
	}
}

// RegisterRef is a named view into a byte range of a Context field. It does
// not copy: reads and writes go straight through to the Context's backing
// storage. Grounded on original_source/lib/include/Debug/RegisterRef.hpp;
// the C++ version holds a raw pointer and a size, this holds an equivalent
// Go slice obtained via unsafe.Slice over the same storage.
//
// A RegisterRef's lifetime is tied to the Context it was produced from. Do
// not retain one across a call that replaces the Context's underlying
// register snapshot (e.g. a fresh GetContext); it will keep pointing at the
// old backing array.
type RegisterRef struct {
	name string
	data []byte
}

// makeRegister builds a RegisterRef over size bytes starting at ptr.
// Grounded on RegisterRef.hpp's make_register; the C++ version computes
// ptr from a (struct, offset) pair, here the caller passes the field's own
// address directly (taking &s.field is Go's equivalent of &var + offset).
func makeRegister(name string, ptr unsafe.Pointer, size uintptr) RegisterRef {
	return RegisterRef{name: name, data: unsafe.Slice((*byte)(ptr), int(size))}
}

// makeSubRegister builds a RegisterRef over size bytes starting offset bytes
// into the storage pointed to by ptr, for sub-register aliases (AX inside
// EAX, AH inside AX's high byte, and so on).
func makeSubRegister(name string, ptr unsafe.Pointer, offset, size uintptr) RegisterRef {
	return makeRegister(name, unsafe.Add(ptr, offset), size)
}

// Name returns the register's name, e.g. "RAX" or "AH".
func (r RegisterRef) Name() string { return r.name }

// IsValid reports whether this RegisterRef points at real storage.
func (r RegisterRef) IsValid() bool { return r.data != nil }

// Size is the width in bytes of the underlying field.
func (r RegisterRef) Size() int { return len(r.data) }

// Bytes returns the raw bytes of the field, in native (little-endian) order.
func (r RegisterRef) Bytes() []byte { return r.data }

func zeroExtendTo(dst []byte, src []byte) {
	for i := range dst {
		dst[i] = 0
	}
	n := len(src)
	if n > len(dst) {
		n = len(dst)
	}
	copy(dst[:n], src[:n])
}

// AsUint64 zero-extends (or truncates) the field into a uint64.
func (r RegisterRef) AsUint64() uint64 {
	var buf [8]byte
	zeroExtendTo(buf[:], r.data)
	return binary.LittleEndian.Uint64(buf[:])
}

// AsUint32 zero-extends (or truncates) the field into a uint32.
func (r RegisterRef) AsUint32() uint32 {
	var buf [4]byte
	zeroExtendTo(buf[:], r.data)
	return binary.LittleEndian.Uint32(buf[:])
}

// AsUint16 zero-extends (or truncates) the field into a uint16.
func (r RegisterRef) AsUint16() uint16 {
	var buf [2]byte
	zeroExtendTo(buf[:], r.data)
	return binary.LittleEndian.Uint16(buf[:])
}

// AsUint8 truncates the field's first byte.
func (r RegisterRef) AsUint8() uint8 {
	if len(r.data) == 0 {
		return 0
	}
	return r.data[0]
}

// SetUint64 zeroes the field, then copies min(len(field), 8) low-order bytes of v.
func (r RegisterRef) SetUint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	zeroExtendTo(r.data, buf[:])
}

// SetUint32 zeroes the field, then copies min(len(field), 4) low-order bytes of v.
func (r RegisterRef) SetUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	zeroExtendTo(r.data, buf[:])
}

// SetUint16 zeroes the field, then copies min(len(field), 2) low-order bytes of v.
func (r RegisterRef) SetUint16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	zeroExtendTo(r.data, buf[:])
}

// SetUint8 zeroes the field, then sets its first byte (if any) to v.
func (r RegisterRef) SetUint8(v uint8) {
	for i := range r.data {
		r.data[i] = 0
	}
	if len(r.data) > 0 {
		r.data[0] = v
	}
}

// fieldUint reads the field as an unsigned integer sized exactly to the
// field's own width (1, 2, 4 or 8 bytes), for the arithmetic operators.
func (r RegisterRef) fieldUint() uint64 {
	switch len(r.data) {
	case 1:
		return uint64(r.data[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(r.data))
	case 4:
		return uint64(binary.LittleEndian.Uint32(r.data))
	case 8:
		return binary.LittleEndian.Uint64(r.data)
	default:
		panic("registerref: invalid size for arithmetic")
	}
}

func (r RegisterRef) setFieldUint(v uint64) {
	switch len(r.data) {
	case 1:
		r.data[0] = uint8(v)
	case 2:
		binary.LittleEndian.PutUint16(r.data, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(r.data, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(r.data, v)
	default:
		panic("registerref: invalid size for arithmetic")
	}
}

// Inc performs field-width-wrapping increment, equivalent to the original's
// prefix ++ operator.
func (r RegisterRef) Inc() { r.setFieldUint(r.fieldUint() + 1) }

// Dec performs field-width-wrapping decrement, equivalent to the original's
// prefix -- operator.
func (r RegisterRef) Dec() { r.setFieldUint(r.fieldUint() - 1) }

// Add performs field-width-wrapping addition.
func (r RegisterRef) Add(v uint64) { r.setFieldUint(r.fieldUint() + v) }

// Sub performs field-width-wrapping subtraction.
func (r RegisterRef) Sub(v uint64) { r.setFieldUint(r.fieldUint() - v) }

// Equal compares two RegisterRefs by raw bytes; sizes must match.
func (r RegisterRef) Equal(other RegisterRef) bool {
	if len(r.data) != len(other.data) {
		return false
	}
	for i := range r.data {
		if r.data[i] != other.data[i] {
			return false
		}
	}
	return true
}
