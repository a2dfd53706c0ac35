package sched

import "fmt"

// createBalancer brings up the per-CPU DWRR balancer thread (spec §4.4).
// It is statically placed on rq, the same as the idler: a balancer never
// migrates itself, and its first sleep/wake cycle must already find
// rq.balancer set so RunQueue.schedule can recognize it and avoid the
// self-wake it would otherwise trigger on going idle.
func (s *Scheduler) createBalancer(cpu CPUID) (*Thread, error) {
	t := s.newThread(ThreadOptions{
		Name:     fmt.Sprintf("balancer/%d", cpu),
		Task:     KernelTask,
		Policy:   PolicyFIFO,
		Priority: s.cfg.RTPrioMax,
		Entry:    balancerEntry,
	})
	t.runq = s.runqueues[cpu]
	t.start()
	return t, nil
}

func balancerEntry(t *Thread) {
	for {
		rolloverOwnRound(t.runq)
		runBalancePass(t)
		t.Sleep(nil)
	}
}

// rolloverOwnRound implements the other half of spec §4.4 "start_next_round":
// the balancer is woken (via wakeBalancerLocked) whenever its own run
// queue's active TS sub-queue has just emptied, and its first job on
// waking is to swap active/expired before even considering a cross-CPU
// migration — a CPU with threads only in its expired sub-queue must finish
// rolling its own round over before it can meaningfully compare its TS
// weight against a neighbor's.
func rolloverOwnRound(rq *RunQueue) {
	rq.mu.Lock()
	if rq.tsActive.nrThreads == 0 && rq.tsExpired.nrThreads > 0 {
		startNextRound(rq)
	}
	rq.mu.Unlock()
}

// tsBalanceEligible mirrors thread_sched_ts_balance_eligible: a run queue
// is worth the cross-CPU lock round-trip only if it carries TS weight, is
// no more than one round behind the global high-water mark (anything
// staler is about to roll over or already did, and comparing its weight
// now would be meaningless), and has more queued than just the thread
// it is currently running.
func tsBalanceEligible(rq *RunQueue, highestRound uint32) bool {
	if rq.tsWeight() == 0 {
		return false
	}

	delta := int32(rq.tsRound - highestRound)
	if delta != 0 && delta != -1 {
		return false
	}

	n := rq.totalTSThreads()
	if n == 0 || (n == 1 && rq.current != nil && rq.current.class == ClassTS) {
		return false
	}

	return true
}

// runBalancePass implements spec §4.4's DWRR scan/migrate step. It holds
// at most two run queue locks at a time, acquired in a fixed order via
// doubleLock, so two balancers running concurrently on different CPUs can
// never deadlock against each other (I9/P6).
//
// Each iteration picks the heaviest eligible run queue not yet tried this
// pass; if that queue turns out to have nothing unpinned to give up, it is
// marked tried and the next-heaviest eligible queue is considered instead —
// the "fallback first-eligible-runqueue scan" the spec calls for, so one
// CPU's threads all being pinned never starves a lighter CPU that could
// have stolen from a different, less-loaded-but-unpinned neighbor.
func runBalancePass(t *Thread) {
	own := t.runq
	s := t.sched

	tried := make(map[CPUID]bool, len(s.runqueues))
	budget := s.cfg.MaxMigrations

	for budget > 0 {
		highestRound := s.highestRound.Load()

		own.mu.Lock()
		ownWeight := own.tsWeight()
		own.mu.Unlock()

		var source *RunQueue
		var sourceWeight uint64
		for _, cand := range s.runqueues {
			if cand.id == own.id || tried[cand.id] {
				continue
			}
			cand.mu.Lock()
			eligible := tsBalanceEligible(cand, highestRound)
			w := cand.tsWeight()
			cand.mu.Unlock()
			if !eligible {
				continue
			}
			if source == nil || w > sourceWeight {
				source, sourceWeight = cand, w
			}
		}

		// No candidate left outweighs us: we have either caught up (the
		// post-pull weight-inequality bound) or exhausted every queue's
		// unpinned supply.
		if source == nil || sourceWeight <= ownWeight {
			return
		}

		unlock := doubleLock(own, source)
		victim := pickMigratable(s, source)
		if victim == nil {
			unlock()
			tried[source.id] = true
			continue
		}
		migrateLocked(s, own, source, victim)
		unlock()
		budget--
	}
}

// pickMigratable returns the first unpinned, non-running thread on source.
// It scans the active sub-queue first: those threads still have a full
// round of work ahead of them on the remote CPU, so pulling one disturbs
// the remote CPU's own fairness the least. The expired sub-queue is only
// considered when source is exactly one round behind the global high-water
// mark — its threads are "actually in round highest" (they will become
// active again the moment source rolls its own round over), so taking one
// now is equivalent to taking it after that rollover. source.current is
// always excluded: tsClassImpl.getNext() only unlinks a dispatched thread
// from its group's member list, not from the sub-queue's flat list, so the
// thread currently running on source is still reachable here and must be
// skipped explicitly (spec §4.4 "skip the remote's current thread").
// Reading Pinned() here without any additional fence beyond the atomic
// load itself is deliberate: a thread that pins itself concurrently with
// a migration attempt is by construction not a migration candidate either
// way, so no ordering guarantee beyond atomicity is required (spec §5
// "pinned non-atomic coordination").
func pickMigratable(s *Scheduler, source *RunQueue) *Thread {
	for e := source.tsActive.flat.Front(); e != nil; e = e.Next() {
		th := e.Value.(*Thread)
		if th == source.current || th.Pinned() {
			continue
		}
		return th
	}

	if source.tsRound != s.highestRound.Load()-1 {
		return nil
	}

	for e := source.tsExpired.flat.Front(); e != nil; e = e.Next() {
		th := e.Value.(*Thread)
		if th == source.current || th.Pinned() {
			continue
		}
		return th
	}

	return nil
}

// migrateLocked moves victim from source to own. Caller holds both run
// queue locks (via doubleLock).
func migrateLocked(s *Scheduler, own, source *RunQueue, victim *Thread) {
	sub := victim.ts.runq
	wasActive := sub == source.tsActive
	sub.dequeue(victim)
	source.nrThreads--
	if source.nrThreads == 0 {
		s.clearActive(source.id)
	}
	if wasActive && source.tsActive.nrThreads == 0 {
		source.wakeBalancerLocked()
	} else if wasActive {
		tsRestart(source)
	}

	victim.runq = own
	if own.tsWeight() == 0 {
		own.tsRound = s.highestRound.Load()
	}
	wasOwnEmpty := own.nrThreads == 0
	// Don't discard the work already accounted for: stamping the round
	// before enqueue makes its "same round" branch fire and carry
	// victim.ts.work across unchanged, instead of rescaling it as if this
	// were a fresh join.
	victim.ts.round = own.tsRound
	own.tsActive.enqueue(own.tsRound, victim)
	own.nrThreads++
	if wasOwnEmpty {
		s.setActive(own.id)
	}
	if own.current != nil && victim.class < own.current.class {
		own.current.setReschedule()
	}
	tsRestart(own)

	s.emit(Event{
		Kind:   EventMigrated,
		CPU:    own.id,
		Thread: victim.Name,
		Detail: fmt.Sprintf("from cpu %d", source.id),
		At:     now(),
	})
}
