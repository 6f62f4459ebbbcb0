package engine

// This file exists only so the package names a _linux_386.go variant for
// every _linux_amd64.go file it carries, matching
// _examples/go-delve-delve/pkg/proc/native's per-arch layout. The debugger
// binary itself targets an amd64 host; see context_linux_386.go for the
// rationale. A host build for 386 would need its own GetContext/SetContext
// using struct user_regs_struct's 32-bit layout and PTRACE_PEEKUSR at a
// different u_debugreg offset, neither of which this package implements.

func (t *Thread) unsupportedHostArch() error {
	return unsupportedOn386Host()
}
