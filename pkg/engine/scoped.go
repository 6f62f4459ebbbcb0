package engine

import (
	"os"
)

// scopedFile wraps an *os.File with an idempotent release, used for the
// target's memory pseudo-file so it is guaranteed closed on every Process
// exit path per spec.md §5.
type scopedFile struct {
	f *os.File
}

func (s *scopedFile) release() {
	if s.f == nil {
		return
	}
	s.f.Close()
	s.f = nil
}
