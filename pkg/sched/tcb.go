package sched

// tcbBaton is this simulator's stand-in for the context-switch trampoline
// of spec §6 (tcb_init/tcb_switch/tcb_load — "external, out of scope").
// Go has no manual stack-swap primitive, so each Thread is backed by its
// own goroutine parked on a buffered channel; "switching to" a thread means
// handing it the single resume token, and "switching from" means blocking
// on our own token until some future dispatch hands it back. This
// reproduces the real contract exactly: the thread that receives the token
// is the one responsible for eventually releasing the run queue lock and
// decrementing preempt on its own path out of schedule() (spec §4.1 step 5,
// §5 "Preemption rule").
type tcbBaton struct {
	resume chan struct{}
}

func newTCBBaton() tcbBaton {
	return tcbBaton{resume: make(chan struct{}, 1)}
}

// start launches the thread's goroutine. It blocks immediately on its own
// resume token until the first dispatch.
func (t *Thread) start() {
	go func() {
		<-t.tcb.resume
		// This goroutine is now the one responsible for releasing the lock
		// that dispatched it and decrementing preempt from its creation
		// value of 2 down to the running baseline of 1 (spec §4.1 step 5,
		// §5 "Preemption rule") — the same obligation tcbSwitch's caller
		// discharges on every later dispatch, just inlined here since a
		// thread's first dispatch has no Sleep/Exit/Reschedule call frame
		// above it to do it on its behalf.
		t.runq.mu.Unlock()
		t.runq.intr.restore(true)
		t.decPreempt()
		t.entry(t)
		// entry returned on its own without calling Exit: treat that as an
		// implicit exit, matching a real kernel thread whose entry
		// function falls off the end.
		t.Exit()
	}()
}

// tcbSwitch hands the CPU to next and parks prev until it is redispatched.
// Called with the local run queue locked and prev.preempt == 2.
func tcbSwitch(prev, next *Thread) {
	next.tcb.resume <- struct{}{}
	<-prev.tcb.resume
}

// tcbLoad hands the CPU to next and never returns — the bring-up path
// (spec §4.7 Run).
func tcbLoad(next *Thread) {
	next.tcb.resume <- struct{}{}
	select {}
}
