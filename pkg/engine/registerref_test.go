package engine

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

func TestRegisterWidthGPBlocks(t *testing.T) {
	require.Equal(t, 1, registerWidth(x86asm.AL))
	require.Equal(t, 1, registerWidth(x86asm.R15B))
	require.Equal(t, 2, registerWidth(x86asm.AX))
	require.Equal(t, 2, registerWidth(x86asm.R15W))
	require.Equal(t, 4, registerWidth(x86asm.EAX))
	require.Equal(t, 4, registerWidth(x86asm.R15L))
	require.Equal(t, 8, registerWidth(x86asm.RAX))
	require.Equal(t, 8, registerWidth(x86asm.R15))
}

func TestRegisterWidthIPVariants(t *testing.T) {
	require.Equal(t, 2, registerWidth(x86asm.IP))
	require.Equal(t, 4, registerWidth(x86asm.EIP))
	require.Equal(t, 8, registerWidth(x86asm.RIP))
}

func TestRegisterWidthSIMDBlocks(t *testing.T) {
	require.Equal(t, 8, registerWidth(x86asm.M0))
	require.Equal(t, 8, registerWidth(x86asm.M7))
	require.Equal(t, 16, registerWidth(x86asm.X0))
	require.Equal(t, 16, registerWidth(x86asm.X15))
}

func TestRegisterWidthUnknownIsZero(t *testing.T) {
	require.Zero(t, registerWidth(x86asm.Reg(0)))
}

func TestRegisterRefUint64RoundTrip(t *testing.T) {
	var v uint64
	ref := makeRegister("RAX", unsafe.Pointer(&v), 8)
	ref.SetUint64(0x1122334455667788)
	require.Equal(t, uint64(0x1122334455667788), ref.AsUint64())
	require.Equal(t, uint64(0x1122334455667788), v)
}

func TestRegisterRefTruncatingWrites(t *testing.T) {
	var v uint16
	ref := makeRegister("AX", unsafe.Pointer(&v), 2)
	ref.SetUint64(0x1122334455660102)
	require.Equal(t, uint16(0x0102), v)
	require.Equal(t, uint64(0x0102), ref.AsUint64())
}

func TestRegisterRefIncDecWrap(t *testing.T) {
	var v uint8
	v = 0xff
	ref := makeRegister("AL", unsafe.Pointer(&v), 1)
	ref.Inc()
	require.EqualValues(t, 0, v)
	ref.Dec()
	require.EqualValues(t, 0xff, v)
}

func TestRegisterRefAddSub(t *testing.T) {
	var v uint32
	v = 10
	ref := makeRegister("EAX", unsafe.Pointer(&v), 4)
	ref.Add(5)
	require.EqualValues(t, 15, v)
	ref.Sub(3)
	require.EqualValues(t, 12, v)
}

func TestRegisterRefEqual(t *testing.T) {
	var a, b uint32
	a, b = 42, 42
	ra := makeRegister("A", unsafe.Pointer(&a), 4)
	rb := makeRegister("B", unsafe.Pointer(&b), 4)
	require.True(t, ra.Equal(rb))

	b = 43
	require.False(t, ra.Equal(rb))
}

func TestRegisterRefInvalidZeroValue(t *testing.T) {
	var ref RegisterRef
	require.False(t, ref.IsValid())
	require.Zero(t, ref.Size())
}

func TestMakeSubRegisterOffsetsIntoParent(t *testing.T) {
	var v uint32 = 0x11223344
	ptr := unsafe.Pointer(&v)
	low := makeSubRegister("AL", ptr, 0, 1)
	require.EqualValues(t, 0x44, low.AsUint8())
	high := makeSubRegister("AH", ptr, 1, 1)
	require.EqualValues(t, 0x33, high.AsUint8())
}
