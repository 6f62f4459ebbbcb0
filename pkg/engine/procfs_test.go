package engine

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnumerateProcessesIncludesSelf(t *testing.T) {
	pids, err := EnumerateProcesses()
	require.NoError(t, err)
	require.Contains(t, pids, os.Getpid())
}

func TestEnumerateThreadsIncludesMainThread(t *testing.T) {
	tids, err := EnumerateThreads(os.Getpid())
	require.NoError(t, err)
	require.NotEmpty(t, tids)
}

func TestEnumerateProcessesByNamePrefix(t *testing.T) {
	comm, err := readComm(os.Getpid())
	require.NoError(t, err)
	require.NotEmpty(t, comm)

	matches, err := EnumerateProcessesByName(comm[:1])
	require.NoError(t, err)
	require.Contains(t, matches, os.Getpid())
}

func TestHashRegionsStableAcrossCalls(t *testing.T) {
	h1, err := HashRegions(os.Getpid())
	require.NoError(t, err)
	h2, err := HashRegions(os.Getpid())
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestFnv1a64KnownVector(t *testing.T) {
	// "hello" under FNV-1a 64-bit is a well-known test vector.
	require.Equal(t, uint64(0xa430d84680aabd0b), fnv1a64([]byte("hello")))
}

func TestFnv1a64AbcVector(t *testing.T) {
	// spec.md S6's named testable vector.
	require.Equal(t, uint64(0xe71fa2190541574b), fnv1a64([]byte("abc")))
}

func TestFnv1a64EmptyInputIsOffsetBasis(t *testing.T) {
	require.Equal(t, uint64(fnv1aOffset), fnv1a64(nil))
}

func TestParseMapsLine(t *testing.T) {
	line := "00400000-00452000 r-xp 00001000 08:02 173521                           /usr/bin/dbus-daemon"
	r, ok := parseMapsLine(line)
	require.True(t, ok)
	require.Equal(t, uint64(0x400000), r.Start)
	require.Equal(t, uint64(0x452000), r.End)
	require.Equal(t, uint64(0x1000), r.Offset)
	require.Equal(t, "/usr/bin/dbus-daemon", r.Name)
	require.NotZero(t, r.Permissions&PermRead)
	require.NotZero(t, r.Permissions&PermExecute)
	require.NotZero(t, r.Permissions&PermPrivate)
	require.Zero(t, r.Permissions&PermWrite)
	require.Zero(t, r.Permissions&PermShared)
}

func TestParseMapsLineAnonymousRegion(t *testing.T) {
	line := "7f0000000000-7f0000021000 rw-p 00000000 00:00 0 "
	r, ok := parseMapsLine(line)
	require.True(t, ok)
	require.Empty(t, r.Name)
	require.NotZero(t, r.Permissions&PermWrite)
}

func TestParseMapsLineRejectsMalformed(t *testing.T) {
	_, ok := parseMapsLine("not a maps line")
	require.False(t, ok)
}

func TestEnumerateRegionsOfSelf(t *testing.T) {
	regions, err := EnumerateRegions(os.Getpid())
	require.NoError(t, err)
	require.NotEmpty(t, regions)
}
