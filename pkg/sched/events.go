package sched

import "time"

// EventKind labels a scheduling event emitted for observability (domain
// stack: metrics counters and the debug API's websocket stream both derive
// from this same hook set, never from a hot-path lock).
type EventKind string

const (
	EventMigrated      EventKind = "migrated"
	EventRoundRollover EventKind = "round_rollover"
	EventRTPreempt     EventKind = "rt_preempt"
	EventThreadReaped  EventKind = "thread_reaped"
	EventThreadCreated EventKind = "thread_created"
	EventRescheduleIPI EventKind = "reschedule_ipi"
)

// Event is a point-in-time scheduling occurrence.
type Event struct {
	Kind     EventKind
	CPU      CPUID
	Thread   string
	Detail   string
	At       time.Time
}

// emit is best-effort and non-blocking: a slow or absent consumer never
// stalls the scheduler.
func (s *Scheduler) emit(e Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- e:
	default:
	}
}

// Events returns the scheduler's buffered event channel for observers
// (debug API, metrics, tests). Never closed during a scheduler's lifetime.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}
