package sched

import "sync"

// Interlock is the monitor-style lock Sleep hands off atomically (spec
// §4.7 "sleep"): any sync.Locker works, including *sync.Mutex and the
// reaper's own lock.
type Interlock = sync.Locker

// wakeup implements spec §4.7 "wakeup". fromCPU is the CPU this call is
// considered to originate from (see schedClass.selectRunQ's doc comment).
func (s *Scheduler) wakeup(fromCPU CPUID, t *Thread) {
	if t.runq == nil {
		// Fast path: never dispatched.
		t.state.Store(int32(StateRunning))
	} else {
		t.runq.mu.Lock()
		if t.State() == StateRunning {
			t.runq.mu.Unlock()
			return
		}
		t.state.Store(int32(StateRunning))
		t.runq.mu.Unlock()
	}

	rq := classTable(t.class).selectRunQ(s, t, fromCPU) // returns rq locked
	rq.wakeupLocked(t, fromCPU)
	rq.mu.Unlock()
}

// Wakeup is the public entry point: moves t to RUNNING and inserts it on a
// class-selected run queue.
func (s *Scheduler) Wakeup(fromCPU CPUID, t *Thread) {
	s.wakeup(fromCPU, t)
}

// Wakeup lets one thread wake another, using the waker's own CPU as the
// "local" CPU hint an RT wakeup needs.
func (t *Thread) Wakeup(target *Thread) {
	cpu := CPUID(0)
	if t.runq != nil {
		cpu = t.runq.id
	}
	t.sched.Wakeup(cpu, target)
}

// Sleep implements spec §4.7 "sleep": the standard monitor-style hand-off.
// interlock, if non-nil, is released once the run queue lock is held (so
// no wakeup can be lost between the caller's wait-condition check and
// actually going to sleep) and re-acquired after this thread is redispatched.
func (t *Thread) Sleep(interlock Interlock) {
	t.incPreempt()
	rq := t.runq
	rq.lockIntrSave()
	if interlock != nil {
		interlock.Unlock()
	}
	t.state.Store(int32(StateSleeping))
	resumed := rq.schedule(t)
	resumed.unlockIntrRestore(true)
	t.decPreempt()
	if interlock != nil {
		interlock.Lock()
	}
}

// Exit implements spec §4.7 "exit": hands the thread to the reaper and
// invokes the scheduler without returning. The underlying goroutine is left
// parked forever on its own resume channel once schedule() switches away
// from it — harmless since nothing will ever dispatch it again, and
// simpler than teaching tcbBaton how to unwind a goroutine stack from the
// outside (spec §6 tcb_destroy is external, out of scope).
func (t *Thread) Exit() {
	s := t.sched
	s.reapMu.Lock()
	s.reapList = append(s.reapList, t)
	s.reapMu.Unlock()

	rq := t.runq
	s.Wakeup(rq.id, s.reaper)

	t.incPreempt()
	rq.lockIntrSave()
	t.state.Store(int32(StateDead))
	s.threadCount.Add(-1)
	rq.schedule(t)

	invariantf("exit", "thread %s: Exit returned from schedule", t.Name)
}

// Reschedule implements spec §4.7 "reschedule": services a pending
// RESCHEDULE request at the next point preemption is enabled, repeating
// until the flag is clear (another CPU may set it again while we switch).
func (t *Thread) Reschedule() {
	for t.needsReschedule() && t.preemptCount() == 1 {
		t.incPreempt()
		rq := t.runq
		rq.lockIntrSave()
		resumed := rq.schedule(t)
		resumed.unlockIntrRestore(true)
		t.decPreempt()
	}
}

// Tick implements spec §4.7 "tick": called once per simulated timer tick
// for cpu, with interrupts and preemption already considered disabled by
// the (simulated) timer interrupt context.
func (s *Scheduler) Tick(cpu CPUID) {
	rq := s.runqueues[cpu]
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.nrThreads == 0 {
		rq.idleBalanceTicks--
		if rq.idleBalanceTicks <= 0 {
			rq.idleBalanceTicks = s.cfg.IdleBalanceTicks()
			rq.wakeBalancerLocked()
		}
		return
	}
	classTable(rq.current.class).tick(rq, rq.current)
}

// run is each CPU's bring-up dispatch loop (spec §4.7 "run"): the first
// dispatch, which never returns.
func (s *Scheduler) run(cpu CPUID) {
	rq := s.runqueues[cpu]
	rq.lockIntrSave()
	next := rq.getNext()
	rq.current = next
	next.runq = rq
	if next.Task != KernelTask {
		s.pmap.load(next.Task)
	}
	tcbLoad(next)
}
