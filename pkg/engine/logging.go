package engine

import "github.com/sirupsen/logrus"

// Named loggers, one per concern, gated by enable flags rather than a
// global level. Grounded on
// _examples/go-delve-delve/pkg/logflags/logflags.go's per-subsystem logger
// pattern (DebuggerLogger, GdbWireLogger, ...).
var (
	debuggerLog = logrus.New().WithField("layer", "debugger")
	ptraceLog   = logrus.New().WithField("layer", "ptrace")
)

var (
	debuggerLogEnabled bool
	ptraceLogEnabled   bool
)

// EnableDebuggerLogging turns on Debug-level logging for Session/Process/
// Thread/Breakpoint operations.
func EnableDebuggerLogging(enabled bool) { debuggerLogEnabled = enabled }

// EnablePtraceLogging turns on Debug-level logging for the ptrace dispatch
// goroutine and every raw syscall it issues.
func EnablePtraceLogging(enabled bool) { ptraceLogEnabled = enabled }

// DebuggerLogger returns the shared logger for debugger-level events
// (attach, spawn, event pump, breakpoint install/restore).
func DebuggerLogger() *logrus.Entry { return debuggerLog }

// PtraceLogger returns the shared logger for the ptrace-dispatch goroutine.
func PtraceLogger() *logrus.Entry { return ptraceLog }

func logDebuggerDebug(fields logrus.Fields, msg string) {
	if !debuggerLogEnabled {
		return
	}
	debuggerLog.WithFields(fields).Debug(msg)
}

func logDebuggerWarn(fields logrus.Fields, msg string) {
	if !debuggerLogEnabled {
		return
	}
	debuggerLog.WithFields(fields).Warn(msg)
}

func logPtraceDebug(fields logrus.Fields, msg string) {
	if !ptraceLogEnabled {
		return
	}
	ptraceLog.WithFields(fields).Debug(msg)
}
