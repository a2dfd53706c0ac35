package sched

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// tsOp is one generated add/remove step for the round-trip and invariant
// properties below: priority/weight describe the thread to add, and round
// is the round it joins the sub-queue in.
type tsOp struct {
	Priority int
	Weight   uint64
	Round    int
}

var tsOpType = reflect.TypeOf(tsOp{})

func genTSOp() gopter.Gen {
	return gen.Struct(tsOpType, map[string]gopter.Gen{
		"Priority": gen.IntRange(0, 7),
		"Weight":   gen.UInt64Range(1, 1000),
		"Round":    gen.IntRange(0, 4),
	})
}

func genTSOps(maxLen int) gopter.Gen {
	return gen.SliceOfN(maxLen, genTSOp())
}

// TestTSEnqueueDequeueRoundTripProperty is R1, gopter-driven: for any
// generated thread joining a sub-queue that may already hold arbitrary
// other threads, add(t); remove(t) must restore weight, work, nr_threads,
// and the group list to their pre-call values exactly.
func TestTSEnqueueDequeueRoundTripProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("R1: add(t); remove(t) round-trips", prop.ForAll(
		func(residents []tsOp, joiner tsOp) bool {
			rq := newTSRunQueue(7)
			for _, op := range residents {
				rq.enqueue(uint32(op.Round), newTestThread(op.Priority, op.Weight))
			}

			beforeWeight, beforeWork, beforeN := rq.weight, rq.work, rq.nrThreads
			beforeGroupWeight := rq.groups[joiner.Priority].weight
			beforeGroupLen := rq.groups[joiner.Priority].members.Len()

			th := newTestThread(joiner.Priority, joiner.Weight)
			rq.enqueue(uint32(joiner.Round), th)
			rq.dequeue(th)

			return rq.weight == beforeWeight &&
				rq.work == beforeWork &&
				rq.nrThreads == beforeN &&
				rq.groups[joiner.Priority].weight == beforeGroupWeight &&
				rq.groups[joiner.Priority].members.Len() == beforeGroupLen
		},
		genTSOps(6),
		genTSOp(),
	))

	properties.TestingRun(t)
}

// TestTSEnqueueDequeueIsNoopProperty is R2, gopter-driven: enqueue(q, r,
// t); dequeue(t) must be a no-op on q regardless of what else is already
// queued or which round t joins in.
func TestTSEnqueueDequeueIsNoopProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("R2: enqueue(q,r,t); dequeue(t) is a no-op on q", prop.ForAll(
		func(residents []tsOp, joiner tsOp) bool {
			rq := newTSRunQueue(7)
			for _, op := range residents {
				rq.enqueue(uint32(op.Round), newTestThread(op.Priority, op.Weight))
			}

			snapshotWeight, snapshotWork, snapshotOrder := rq.weight, rq.work, len(rq.order)
			snapshotGroupLens := make([]int, len(rq.groups))
			for i, g := range rq.groups {
				snapshotGroupLens[i] = g.members.Len()
			}

			th := newTestThread(joiner.Priority, joiner.Weight)
			rq.enqueue(uint32(joiner.Round), th)
			rq.dequeue(th)

			if rq.weight != snapshotWeight || rq.work != snapshotWork || len(rq.order) != snapshotOrder {
				return false
			}
			for i, g := range rq.groups {
				if g.members.Len() != snapshotGroupLens[i] {
					return false
				}
			}
			return true
		},
		genTSOps(6),
		genTSOp(),
	))

	properties.TestingRun(t)
}

// TestStartNextRoundSwapIsInvolutiveProperty is R3: with no intervening
// activity, two consecutive start_next_round calls swap active/expired
// back to their original identities, and ts_round only ever advances (it
// never moves backward across the pair of calls).
func TestStartNextRoundSwapIsInvolutiveProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("R3: two start_next_round calls are involutive on active/expired identity", prop.ForAll(
		func(expiredOps []tsOp) bool {
			s, err := newSchedulerForUnitTest()
			require.NoError(t, err)
			s.highestRound.Store(tsInitialRound)
			rq := newRunQueue(s, 0)
			origActive, origExpired := rq.tsActive, rq.tsExpired

			for _, op := range expiredOps {
				rq.tsExpired.enqueue(uint32(op.Round), newTestThread(op.Priority, op.Weight))
			}
			roundBefore := rq.tsRound

			startNextRound(rq)
			roundAfterFirst := rq.tsRound
			startNextRound(rq)
			roundAfterSecond := rq.tsRound

			identityRestored := rq.tsActive == origActive && rq.tsExpired == origExpired
			monotonic := int32(roundAfterFirst-roundBefore) >= 0 && int32(roundAfterSecond-roundAfterFirst) >= 0
			return identityRestored && monotonic
		},
		genTSOps(5),
	))

	properties.TestingRun(t)
}

// TestRunQueueAddRemoveKeepsActiveBitConsistentProperty is P1, gopter-driven:
// for any sequence of TS thread add/remove operations on one run queue, the
// scheduler's active bit for that CPU always agrees with nr_threads > 0.
func TestRunQueueAddRemoveKeepsActiveBitConsistentProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("P1: active bit tracks nr_threads > 0 across add/remove", prop.ForAll(
		func(ops []tsOp) bool {
			s, err := newSchedulerForUnitTest()
			require.NoError(t, err)
			s.highestRound.Store(tsInitialRound)
			rq := newRunQueue(s, 0)

			var live []*Thread
			for _, op := range ops {
				th := &Thread{Name: "p1", sched: s, class: ClassTS}
				tsClassOps.initThread(th, op.Priority)
				th.ts.weight = op.Weight

				rq.mu.Lock()
				rq.add(th)
				rq.mu.Unlock()
				live = append(live, th)

				if s.isActive(0) != (rq.nrThreads > 0) {
					return false
				}

				if len(live) > 1 && op.Round%2 == 0 {
					victim := live[0]
					live = live[1:]
					rq.mu.Lock()
					rq.remove(victim)
					rq.mu.Unlock()

					if s.isActive(0) != (rq.nrThreads > 0) {
						return false
					}
				}
			}
			return true
		},
		genTSOps(10),
	))

	properties.TestingRun(t)
}

// TestTSMembershipIsExactlyOnceProperty is P2: after any sequence of
// enqueues and dequeues, every thread still queued appears in exactly one
// group's member list and the sub-queue's flat list, and nr_threads equals
// that membership count exactly — never double-linked, never orphaned.
func TestTSMembershipIsExactlyOnceProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("P2: every queued thread is counted exactly once", prop.ForAll(
		func(ops []tsOp) bool {
			rq := newTSRunQueue(7)
			var live []*Thread

			for _, op := range ops {
				th := newTestThread(op.Priority, op.Weight)
				rq.enqueue(uint32(op.Round), th)
				live = append(live, th)

				if len(live) > 1 && op.Round%2 == 0 {
					victim := live[0]
					live = live[1:]
					rq.dequeue(victim)
				}

				memberTotal := 0
				for _, g := range rq.groups {
					memberTotal += g.members.Len()
				}
				if memberTotal != rq.nrThreads || rq.flat.Len() != rq.nrThreads {
					return false
				}
				if memberTotal != len(live) {
					return false
				}

				var sumWeight, sumWork uint64
				for _, g := range rq.order {
					if g.weight == 0 {
						return false
					}
					sumWeight += g.weight
					sumWork += g.work
				}
				if sumWeight != rq.weight || sumWork != rq.work {
					return false
				}
			}
			return true
		},
		genTSOps(10),
	))

	properties.TestingRun(t)
}
