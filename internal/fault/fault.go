// Package fault centralizes the run's contract-violation policy: Sources and
// Finalizers recover from bad input locally (log and degrade), but a broken
// collaborator contract inside the Pipeline itself is unrecoverable and
// terminates the run.
package fault

import (
	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// Contract reports a violated Pipeline invariant (a Source/Finalizer/Sink
// contract break) and terminates the process via cclog.Fatalf, the
// convention this codebase uses for unrecoverable state.
func Contract(tag, format string, args ...any) {
	cclog.Fatalf("["+tag+"]> "+format, args...)
}

// Contractf is an alias for Contract kept for call sites that read more
// naturally with the "f" suffix next to a format string.
func Contractf(tag, format string, args ...any) {
	Contract(tag, format, args...)
}

// IO reports a fatal I/O failure from a Sink's write() phase — any such
// failure is fatal to the run.
func IO(tag string, err error) {
	cclog.Fatalf("[%s]> I/O failure: %v", tag, err)
}

// Recover runs fn, logging and swallowing any panic as a warning instead of
// propagating it — used at Source/Finalizer boundaries where bad input must
// degrade locally rather than take down the run.
func Recover(tag string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			cclog.Warnf("[%s]> recovered: %v", tag, r)
		}
	}()
	fn()
}
