package sched

import (
	"container/list"
	"math/bits"
	"sync"
)

// rtRunQueue is the RT sub-queue: a bitmap of non-empty priority buckets
// plus one intrusive list per priority (spec §3, §4.3).
type rtRunQueue struct {
	bitmap  uint64
	buckets []*list.List // index 0..RTPrioMax
}

func newRTRunQueue(prioMax int) rtRunQueue {
	buckets := make([]*list.List, prioMax+1)
	for i := range buckets {
		buckets[i] = list.New()
	}
	return rtRunQueue{buckets: buckets}
}

func (r *rtRunQueue) highestPriority() (int, bool) {
	if r.bitmap == 0 {
		return 0, false
	}
	// PRIO_MAX - count_leading_zeros(bitmap), bit i == priority i.
	return 63 - bits.LeadingZeros64(r.bitmap), true
}

// RunQueue is the per-CPU coordination point (spec §4.1). All but a
// handful of read-only accessors require the lock to be held by the
// caller; callers take it either with rq.mu directly or via
// lockIntrSave()/unlockIntrRestore(), which also toggle the simulated
// interrupt gate (a goroutine has no real interrupt mask to save).
type RunQueue struct {
	id    CPUID
	sched *Scheduler

	mu   sync.Mutex
	intr *intrGate

	current   *Thread
	nrThreads int

	rt rtRunQueue

	tsStore   [2]tsRunQueue
	tsActive  *tsRunQueue
	tsExpired *tsRunQueue
	tsRound   uint32

	balancer *Thread
	idler    *Thread

	idleBalanceTicks int32
}

func newRunQueue(s *Scheduler, id CPUID) *RunQueue {
	rq := &RunQueue{
		id:    id,
		sched: s,
		intr:  newIntrGate(),
		rt:    newRTRunQueue(s.cfg.RTPrioMax),
	}
	rq.tsStore[0] = newTSRunQueue(s.cfg.TSPrioMax)
	rq.tsStore[1] = newTSRunQueue(s.cfg.TSPrioMax)
	rq.tsActive = &rq.tsStore[0]
	rq.tsExpired = &rq.tsStore[1]
	rq.tsRound = tsInitialRound
	return rq
}

// ID returns the CPU this run queue belongs to.
func (rq *RunQueue) ID() CPUID { return rq.id }

// lockIntrSave acquires the run queue lock with interrupts disabled,
// mirroring spec §4.1/§5's discipline; it returns the saved interrupt
// state for restore.
func (rq *RunQueue) lockIntrSave() bool {
	saved := rq.intr.save()
	rq.mu.Lock()
	return saved
}

func (rq *RunQueue) unlockIntrRestore(saved bool) {
	rq.mu.Unlock()
	rq.intr.restore(saved)
}

// tsWeight is the sum of both TS sub-queues' weights.
func (rq *RunQueue) tsWeight() uint64 {
	return rq.tsActive.weight + rq.tsExpired.weight
}

func (rq *RunQueue) classTable(c Class) schedClass {
	switch c {
	case ClassRT:
		return rtClassOps
	case ClassTS:
		return tsClassOps
	default:
		return idleClassOps
	}
}

// add inserts thread via its class vtable (spec §4.1 "add"). Caller holds
// rq.mu.
func (rq *RunQueue) add(t *Thread) {
	wasEmpty := rq.nrThreads == 0
	t.runq = rq
	rq.classTable(t.class).add(rq, t)
	rq.nrThreads++
	if wasEmpty {
		rq.sched.setActive(rq.id)
	}
	if rq.current != nil && t.class < rq.current.class {
		rq.current.setReschedule()
	}
}

// remove decrements nrThreads and delegates to the class (spec §4.1
// "remove"). Caller holds rq.mu.
func (rq *RunQueue) remove(t *Thread) {
	rq.classTable(t.class).remove(rq, t)
	rq.nrThreads--
	if rq.nrThreads == 0 {
		rq.sched.clearActive(rq.id)
	}
}

// putPrev re-inserts the just-descheduled thread via its class. Caller
// holds rq.mu.
func (rq *RunQueue) putPrev(t *Thread) {
	rq.classTable(t.class).putPrev(rq, t)
}

// getNext iterates RT, TS, Idle in order and returns the first non-null
// thread. The idle class always has a candidate, so this never returns
// nil (spec §4.1 "get_next", §4.5).
func (rq *RunQueue) getNext() *Thread {
	if t := rtClassOps.getNext(rq); t != nil {
		return t
	}
	if t := tsClassOps.getNext(rq); t != nil {
		return t
	}
	t := idleClassOps.getNext(rq)
	if t == nil {
		invariantf("get_next", "cpu %d: idle class returned no thread", rq.id)
	}
	return t
}

// schedule is the heart of the scheduler (spec §4.1 "schedule"). Called
// with rq locked, interrupts disabled, and prev.preempt == 2. Returns the
// run queue local to whichever CPU the calling goroutine resumes on: rq
// itself, unless the balancer migrated prev while it was parked, in which
// case it is the run queue that redispatched it.
func (rq *RunQueue) schedule(prev *Thread) *RunQueue {
	if prev.preemptCount() != 2 {
		invariantf("dispatch", "schedule: prev.preempt = %d, want 2", prev.preemptCount())
	}
	if rq.intr.isEnabled() {
		invariantf("dispatch", "schedule: interrupts enabled")
	}

	prev.clearReschedule()
	rq.putPrev(prev)

	if prev.State() != StateRunning {
		rq.remove(prev)
		if rq.nrThreads == 0 && prev != rq.balancer {
			rq.wakeBalancerLocked()
		}
	}

	next := rq.getNext()
	rq.current = next
	next.runq = rq

	if next != prev {
		if next.Task != prev.Task && next.Task != KernelTask {
			rq.sched.pmap.load(next.Task)
		}
		tcbSwitch(prev, next)
	}

	// By the time we reach here, prev has been redispatched — possibly by
	// a different CPU's run queue while it slept — so prev.runq reflects
	// wherever it actually resumed, not necessarily rq.
	return prev.runq
}

// wakeupLocked inserts thread (already locked onto rq by the caller) and,
// if rq belongs to a different CPU than the waker and rq.current now needs
// a reschedule, fires a simulated reschedule IPI (spec §4.1 "wakeup").
func (rq *RunQueue) wakeupLocked(t *Thread, wakerCPU CPUID) {
	rq.add(t)
	if rq.id != wakerCPU && rq.current != nil && rq.current.needsReschedule() {
		rq.sched.sendReschedule(rq.id)
	}
}

// wakeBalancerLocked wakes rq's own balancer thread. Called with rq.mu
// already held, so it cannot go through the general Wakeup path — that
// would try to lock rq a second time via selectRunQ and deadlock on Go's
// non-reentrant sync.Mutex. The balancer always lives on rq itself, so no
// selection is needed: this is the scheduler's "already locked" fast path.
func (rq *RunQueue) wakeBalancerLocked() {
	b := rq.balancer
	if b == nil || b.State() == StateRunning {
		return
	}
	b.state.Store(int32(StateRunning))
	rq.add(b)
}

// doubleLock acquires both run queue locks in a fixed total order (spec §5
// I9/P6). CPU id substitutes for "address" as the ordering key: both are
// arbitrary but stable total orders over the fixed set of run queues, and
// CPU id is the idiomatic choice when run queues live in a Go slice rather
// than behind raw pointers.
func doubleLock(a, b *RunQueue) (unlock func()) {
	if a.id == b.id {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}
