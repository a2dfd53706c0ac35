package sched

import "fmt"

// CheckInvariants walks a live scheduler and reports every violation of
// spec.md §8's P1-P6 it can detect from outside the scheduler's own
// goroutines. It is a diagnostic, not a hot path: every run queue is
// locked in turn, in ascending CPU-id order (never two at once), so
// calling it concurrently with the scheduler's own operation is safe —
// the same snapshot discipline pkg/sched/debugapi and pkg/sched/metrics
// use (SPEC_FULL.md §3.3).
func (s *Scheduler) CheckInvariants() []error {
	var errs []error
	tsRounds := make([]uint32, len(s.runqueues))

	for _, rq := range s.runqueues {
		rq.mu.Lock()

		active := s.isActive(rq.id)
		nonEmpty := rq.nrThreads > 0
		if active != nonEmpty {
			errs = append(errs, fmt.Errorf("P1: cpu %d active=%v nrThreads=%d", rq.id, active, rq.nrThreads))
		}

		counted := 0
		for _, bucket := range rq.rt.buckets {
			counted += bucket.Len()
		}
		counted += rq.tsActive.nrThreads + rq.tsExpired.nrThreads
		if rq.current != nil && rq.current.class != ClassIdle && rq.current != rq.balancer {
			counted++
		}
		if counted != rq.nrThreads {
			errs = append(errs, fmt.Errorf("P2/I2: cpu %d counted %d threads, nrThreads=%d", rq.id, counted, rq.nrThreads))
		}

		checkTSRunQueue(rq.id, &rq.tsStore[0], &errs)
		checkTSRunQueue(rq.id, &rq.tsStore[1], &errs)

		if rq.current != nil && rq.current.preemptCount() < 1 {
			errs = append(errs, fmt.Errorf("P5: cpu %d current %s preempt=%d", rq.id, rq.current.Name, rq.current.preemptCount()))
		}
		if rq.intr.isEnabled() {
			errs = append(errs, fmt.Errorf("P5: cpu %d local interrupts enabled while lock held", rq.id))
		}

		tsRounds[rq.id] = rq.tsRound
		rq.mu.Unlock()
	}

	highest := s.highestRound.Load()
	for cpu, round := range tsRounds {
		if int32(highest-round) < 0 {
			errs = append(errs, fmt.Errorf("P4: cpu %d ts_round=%d exceeds highest_round=%d", cpu, round, highest))
		}
	}

	return errs
}

// checkTSRunQueue verifies I3 (weight/work accounting) and I4 (group
// ordering, no empty linked groups) for one TS sub-queue. Caller holds the
// owning run queue's lock.
func checkTSRunQueue(cpu CPUID, rq *tsRunQueue, errs *[]error) {
	var sumWeight, sumWork uint64
	lastWeight := ^uint64(0)
	for i, g := range rq.order {
		if g.weight == 0 {
			*errs = append(*errs, fmt.Errorf("I4: cpu %d group prio %d is linked but empty", cpu, g.priority))
		}
		if i > 0 && g.weight > lastWeight {
			*errs = append(*errs, fmt.Errorf("I4: cpu %d group order not weight-descending at index %d", cpu, i))
		}
		lastWeight = g.weight
		sumWeight += g.weight
		sumWork += g.work
	}
	if sumWeight != rq.weight {
		*errs = append(*errs, fmt.Errorf("I3: cpu %d sub-queue weight=%d, sum of groups=%d", cpu, rq.weight, sumWeight))
	}
	if sumWork != rq.work {
		*errs = append(*errs, fmt.Errorf("I3: cpu %d sub-queue work=%d, sum of groups=%d", cpu, rq.work, sumWork))
	}
}
