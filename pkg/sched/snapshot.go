package sched

import "github.com/google/uuid"

// ThreadSnapshot is a point-in-time, lock-free copy of a thread's
// scheduler-visible state, safe to hand to an HTTP handler or a test
// assertion after the originating lock has been released.
type ThreadSnapshot struct {
	ID     uuid.UUID
	Name   string
	Task   TaskID
	State  State
	Policy Policy
	Class  Class
	Pinned bool
}

// Snapshot copies t's scheduler-visible state. Safe to call from any
// goroutine; every field read is either atomic or immutable after
// creation.
func (t *Thread) Snapshot() ThreadSnapshot {
	return ThreadSnapshot{
		ID:     t.id,
		Name:   t.Name,
		Task:   t.Task,
		State:  t.State(),
		Policy: t.policy,
		Class:  t.class,
		Pinned: t.Pinned(),
	}
}

// TSGroupSnapshot is one non-empty GR3 group on a CPU's active TS
// sub-queue, ordered by weight descending (I4).
type TSGroupSnapshot struct {
	Priority int
	Weight   uint64
	Work     uint64
	Members  int
}

// RunQueueSnapshot is a point-in-time copy of one CPU's run queue — the
// single read path the debug API (SPEC_FULL.md §3.3), metrics sampler, and
// invariant-checking tests all share, so none of them need to reach past
// the lock on their own.
type RunQueueSnapshot struct {
	CPU       CPUID
	NrThreads int
	TSWeight  uint64
	TSRound   uint32
	RTBitmap  uint64
	Current   string
	TSGroups  []TSGroupSnapshot
}

// Snapshot takes rq's lock just long enough to copy out its state.
func (rq *RunQueue) Snapshot() RunQueueSnapshot {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	snap := RunQueueSnapshot{
		CPU:       rq.id,
		NrThreads: rq.nrThreads,
		TSWeight:  rq.tsWeight(),
		TSRound:   rq.tsRound,
		RTBitmap:  rq.rt.bitmap,
	}
	if rq.current != nil {
		snap.Current = rq.current.Name
	}
	for _, g := range rq.tsActive.order {
		snap.TSGroups = append(snap.TSGroups, TSGroupSnapshot{
			Priority: g.priority,
			Weight:   g.weight,
			Work:     g.work,
			Members:  g.members.Len(),
		})
	}
	return snap
}

// Snapshot copies every CPU's run queue state.
func (s *Scheduler) Snapshot() []RunQueueSnapshot {
	out := make([]RunQueueSnapshot, len(s.runqueues))
	for i, rq := range s.runqueues {
		out[i] = rq.Snapshot()
	}
	return out
}
