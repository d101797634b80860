// Package sandbox parses, statically validates, and executes user-submitted
// strategy code in an isolated worker process.
//
// Strategies are written in a small expression language with function
// definitions, let bindings, if/else, bounded for-in loops over lists, and
// calls into a fixed numeric toolkit. There are no imports, no while loops,
// and no attribute access; every identifier must resolve to a builtin, a
// parameter, or a local binding before any execution happens. Validated
// code runs in a fresh OS process with a wall-clock timeout, communicating
// over a one-shot stdin/stdout pipe.
package sandbox

import "fmt"

// Error is the single error kind every sandbox failure surfaces as: static
// rejection, runtime failure inside the worker, and timeout. Timeout is
// distinguished by flag and message only.
type Error struct {
	Msg     string
	Trace   string // runtime failures carry an evaluation trace
	Timeout bool
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("strategy sandbox: timeout: %s", e.Msg)
	}
	return fmt.Sprintf("strategy sandbox: %s", e.Msg)
}

func errf(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}
