package sched

import "fmt"

// ErrOutOfMemory is the one recoverable error the scheduler surfaces: the
// thread or stack cache could not satisfy a Create request.
var ErrOutOfMemory = fmt.Errorf("sched: out of memory")

// InvariantError reports a violated scheduler invariant (spec P1-P6 and the
// assertions named in the scheduler's error taxonomy). It is always fatal:
// callers recover it only to log a clean diagnostic before re-panicking or
// exiting, never to continue scheduling.
type InvariantError struct {
	Tag string // e.g. "P1", "I9", "dispatch"
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("sched: invariant %s violated: %s", e.Tag, e.Msg)
}

func invariantf(tag, format string, args ...any) {
	panic(&InvariantError{Tag: tag, Msg: fmt.Sprintf(format, args...)})
}

// PlatformError reports a fatal bring-up failure (balancer or idler thread
// could not be created).
type PlatformError struct {
	Stage string
	Err   error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("sched: platform error during %s: %v", e.Stage, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }
