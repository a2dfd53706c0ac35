package sched

import (
	"container/list"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is a thread's scheduler state (spec §3).
type State int32

const (
	// stateBoot is never exposed publicly: it is the booter-shim state the
	// original source uses before a real scheduling class vtable is
	// installed (spec §9 Open Question). Every Thread this package hands
	// back to callers has already left it.
	stateBoot State = iota
	StateSleeping
	StateRunning
	StateDead
)

func (s State) String() string {
	switch s {
	case StateSleeping:
		return "sleeping"
	case StateRunning:
		return "running"
	case StateDead:
		return "dead"
	default:
		return "boot"
	}
}

// Policy selects the scheduling policy a thread was created with.
type Policy int

const (
	PolicyFIFO Policy = iota
	PolicyRR
	PolicyTS
	PolicyIdle
)

// Class is the scheduling class derived from Policy: FIFO and RR both map
// to ClassRT.
type Class int

const (
	ClassRT Class = iota
	ClassTS
	ClassIdle
)

func classOf(p Policy) Class {
	switch p {
	case PolicyFIFO, PolicyRR:
		return ClassRT
	case PolicyTS:
		return ClassTS
	case PolicyIdle:
		return ClassIdle
	default:
		invariantf("policy", "unknown policy %d", p)
		return ClassIdle
	}
}

// Flag bits for Thread.flags.
const (
	flagReschedule uint32 = 1 << iota
)

// rtThreadState is the RT class's per-thread context (spec §3).
type rtThreadState struct {
	priority  int
	timeSlice int
	elem      *list.Element // node in runq.rt.buckets[priority]
}

// tsThreadState is the TS class's per-thread context (spec §3).
type tsThreadState struct {
	runq      *tsRunQueue // sub-queue (active/expired) currently holding this thread, nil otherwise
	round     uint32
	priority  int
	weight    uint64
	work      uint64
	groupElem *list.Element // node in its group's member list
	flatElem  *list.Element // node in the sub-queue's flat thread list
}

// Thread is a schedulable entity (spec §3). Its scheduler-owned fields are
// only ever mutated by code holding the run queue lock named by runq, by
// the thread's own goroutine prior to first dispatch, or atomically where
// noted.
type Thread struct {
	id   uuid.UUID
	Name string
	Task TaskID

	entry func(*Thread)

	state   atomic.Int32
	flags   atomic.Uint32
	preempt atomic.Int32
	pinned  atomic.Int32

	runq *RunQueue // back-pointer; valid iff on a run queue or current

	policy Policy
	class  Class

	rt rtThreadState
	ts tsThreadState

	tcb tcbBaton

	sched *Scheduler
}

// ID returns the thread's identity.
func (t *Thread) ID() uuid.UUID { return t.id }

// State returns the thread's current scheduler state.
func (t *Thread) State() State { return State(t.state.Load()) }

// Policy returns the thread's scheduling policy.
func (t *Thread) Policy() Policy { return t.policy }

// Class returns the thread's derived scheduling class.
func (t *Thread) Class() Class { return t.class }

// Pinned reports whether the thread currently forbids migration.
func (t *Thread) Pinned() bool { return t.pinned.Load() != 0 }

// Pin increments the pin counter; Unpin decrements it. Both are safe to
// call from any goroutine; the balancer reads Pinned() under a load fence
// (spec §5, "pinned non-atomic coordination" — modeled here with a real
// atomic since Go offers one at no extra cost over a bespoke fence pair).
func (t *Thread) Pin()   { t.pinned.Add(1) }
func (t *Thread) Unpin() { t.pinned.Add(-1) }

func (t *Thread) setReschedule() {
	t.flags.Or(flagReschedule)
}

func (t *Thread) clearReschedule() {
	t.flags.And(^flagReschedule)
}

func (t *Thread) needsReschedule() bool {
	return t.flags.Load()&flagReschedule != 0
}

func (t *Thread) incPreempt() { t.preempt.Add(1) }
func (t *Thread) decPreempt() int32 { return t.preempt.Add(-1) }
func (t *Thread) preemptCount() int32 { return t.preempt.Load() }
