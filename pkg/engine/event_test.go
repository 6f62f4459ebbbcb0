package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventKindString(t *testing.T) {
	cases := []struct {
		kind EventKind
		want string
	}{
		{EventExited, "Exited"},
		{EventTerminated, "Terminated"},
		{EventStopped, "Stopped"},
		{EventUnknown, "Unknown"},
		{EventKind(99), "Unknown"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.kind.String())
	}
}
