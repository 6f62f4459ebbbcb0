package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextGetInvalidIdReturnsZeroRef(t *testing.T) {
	var c Context
	ref := c.Get(RegisterId(-1))
	require.False(t, ref.IsValid())
}

func TestContextSizeGenericAliasing64Bit(t *testing.T) {
	c := Context{is64: true, isSet: true}
	c.ctx64.regs.rax = 0x1122334455667788
	ref := c.Get(XAX)
	require.True(t, ref.IsValid())
	require.Equal(t, uint64(0x1122334455667788), ref.AsUint64())
}

func TestContextSizeGenericAliasing32Bit(t *testing.T) {
	c := Context{is64: false, isSet: true}
	c.ctx32.regs.eax = 0xaabbccdd
	ref := c.Get(XAX)
	require.True(t, ref.IsValid())
	require.EqualValues(t, 0xaabbccdd, ref.AsUint64())
}

func TestContextXstateMXCSR(t *testing.T) {
	var c Context
	c.xstate.simd.mxcsr = 0x1f80
	ref := c.Get(MXCSR)
	require.True(t, ref.IsValid())
	require.EqualValues(t, 0x1f80, ref.AsUint32())
}

func TestContextXMMRoundTrip(t *testing.T) {
	var c Context
	ref := c.Get(XMM3)
	require.True(t, ref.IsValid())
	require.Equal(t, 16, ref.Size())
	ref.SetUint64(0xdeadbeef)
	require.Equal(t, uint64(0xdeadbeef), c.Get(XMM3).AsUint64())
}

func TestContextMMAliasesST(t *testing.T) {
	var c Context
	ref := c.Get(MM2)
	require.True(t, ref.IsValid())
	require.Equal(t, 8, ref.Size())
	ref.SetUint64(0x0102030405060708)
	require.Equal(t, uint64(0x0102030405060708), c.Get(ST2).AsUint64())
}

func TestContextInvalidRegisterOnWrongBitness(t *testing.T) {
	c := Context{is64: false, isSet: true}
	ref := c.Get(R8)
	require.False(t, ref.IsValid())
}

func TestContextIsSetAndIs64Bit(t *testing.T) {
	var c Context
	require.False(t, c.IsSet())
	require.False(t, c.Is64Bit())

	c.isSet = true
	c.is64 = true
	require.True(t, c.IsSet())
	require.True(t, c.Is64Bit())
}
