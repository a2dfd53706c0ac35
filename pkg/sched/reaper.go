package sched

import (
	"fmt"
	"runtime"
)

// createReaper brings up the single global reaper thread (spec §4.6: "one
// system-wide TS thread... default priority"), dispatched through the
// ordinary wakeup path rather than the idler/balancer's
// direct-placement shortcut: the reaper is a perfectly normal TS thread, it
// just happens to be started before any of the scheduler's "user" threads
// exist.
func (s *Scheduler) createReaper() (*Thread, error) {
	t := s.newThread(ThreadOptions{
		Name:     "reaper",
		Task:     KernelTask,
		Policy:   PolicyTS,
		Priority: s.cfg.TSPrioMax / 2,
		Entry:    reaperEntry,
	})
	t.start()
	s.wakeup(0, t)
	return t, nil
}

// reaperEntry implements spec §4.6: wait for exited threads to appear on
// reapList, wait out each one's final descheduling, then release it.
// Go's garbage collector stands in for the kernel's explicit
// stack_cache/thread_cache free (spec §6, no custom allocator to model).
func reaperEntry(t *Thread) {
	s := t.sched
	s.reapMu.Lock()
	for {
		for len(s.reapList) == 0 {
			t.Sleep(&s.reapMu)
		}
		dead := s.reapList
		s.reapList = nil
		s.reapMu.Unlock()

		for _, d := range dead {
			for d.State() != StateDead {
				runtime.Gosched()
			}
			s.unregisterThread(d.id)
			s.emit(Event{Kind: EventThreadReaped, Thread: d.Name, Detail: fmt.Sprintf("task=%s", d.Task), At: now()})
		}

		s.reapMu.Lock()
	}
}
