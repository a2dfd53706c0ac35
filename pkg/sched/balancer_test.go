package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNewRunQueue(t *testing.T, s *Scheduler, id CPUID) *RunQueue {
	t.Helper()
	rq := newRunQueue(s, id)
	return rq
}

// TestPickMigratableSkipsPinnedThreads is the data-structure level half of
// S5: a pinned thread must never be returned as a migration candidate,
// even when it is the only thread on the queue.
func TestPickMigratableSkipsPinnedThreads(t *testing.T) {
	s, err := newSchedulerForUnitTest()
	require.NoError(t, err)
	rq := mustNewRunQueue(t, s, 0)

	pinned := &Thread{Name: "pinned", class: ClassTS, sched: s}
	tsClassOps.initThread(pinned, 3)
	pinned.Pin()
	tsClassOps.add(rq, pinned)

	assert.Nil(t, pickMigratable(s, rq), "every candidate is pinned: nothing to steal")

	movable := &Thread{Name: "movable", class: ClassTS, sched: s}
	tsClassOps.initThread(movable, 3)
	tsClassOps.add(rq, movable)

	assert.Same(t, movable, pickMigratable(s, rq))
}

// TestMigrateLockedMovesWeightBetweenQueues is S4's core accounting check:
// after one migration, the source's ts_weight has decreased by exactly
// the migrated thread's weight, and the destination's has increased by
// the same amount.
func TestMigrateLockedMovesWeightBetweenQueues(t *testing.T) {
	s, err := newSchedulerForUnitTest()
	require.NoError(t, err)
	source := mustNewRunQueue(t, s, 0)
	dest := mustNewRunQueue(t, s, 1)

	for i := 0; i < 4; i++ {
		th := &Thread{Name: "source-thread", class: ClassTS, sched: s}
		tsClassOps.initThread(th, 5)
		tsClassOps.add(source, th)
	}
	sourceWeightBefore := source.tsWeight()

	victim := pickMigratable(s, source)
	require.NotNil(t, victim)
	victimWeight := victim.ts.weight

	migrateLocked(s, dest, source, victim)

	assert.Equal(t, sourceWeightBefore-victimWeight, source.tsWeight())
	assert.Equal(t, victimWeight, dest.tsWeight())
	assert.Same(t, dest, victim.runq)
	assert.Equal(t, dest.tsRound, victim.ts.round, "migrated thread must carry the destination's round")
}

// TestPickMigratableSkipsRunningThread covers the bug the review caught:
// tsClassImpl.getNext() only unlinks a dispatched thread from its group's
// member list, so source.current stays reachable from the sub-queue's flat
// list and must be excluded explicitly, or the balancer would migrate a
// thread out from under the CPU currently running it.
func TestPickMigratableSkipsRunningThread(t *testing.T) {
	s, err := newSchedulerForUnitTest()
	require.NoError(t, err)
	rq := mustNewRunQueue(t, s, 0)

	running := &Thread{Name: "running", class: ClassTS, sched: s}
	tsClassOps.initThread(running, 3)
	tsClassOps.add(rq, running)
	rq.current = running

	assert.Nil(t, pickMigratable(s, rq), "the only queued thread is the one currently running: nothing to steal")

	other := &Thread{Name: "other", class: ClassTS, sched: s}
	tsClassOps.initThread(other, 3)
	tsClassOps.add(rq, other)

	assert.Same(t, other, pickMigratable(s, rq))
}

// TestPickMigratablePrefersActiveOverExpired checks the spec's migration
// preference: a thread on the active sub-queue is taken even when the
// expired sub-queue also has an eligible candidate, because pulling from
// active disturbs the remote CPU's own fairness the least.
func TestPickMigratablePrefersActiveOverExpired(t *testing.T) {
	s, err := newSchedulerForUnitTest()
	require.NoError(t, err)
	rq := mustNewRunQueue(t, s, 0)
	rq.tsRound = s.highestRound.Load() - 1

	expired := &Thread{Name: "expired-thread", class: ClassTS, sched: s}
	tsClassOps.initThread(expired, 3)
	rq.tsExpired.enqueue(rq.tsRound-1, expired)

	active := &Thread{Name: "active-thread", class: ClassTS, sched: s}
	tsClassOps.initThread(active, 3)
	rq.tsActive.enqueue(rq.tsRound, active)

	assert.Same(t, active, pickMigratable(s, rq))
}

// TestPickMigratableSkipsExpiredWhenNotOneRoundBehind confirms the expired
// sub-queue is never a migration source unless source is exactly one round
// behind the global high-water mark — a run queue that has already caught
// up has nothing in its expired sub-queue worth stealing early.
func TestPickMigratableSkipsExpiredWhenNotOneRoundBehind(t *testing.T) {
	s, err := newSchedulerForUnitTest()
	require.NoError(t, err)
	rq := mustNewRunQueue(t, s, 0)
	rq.tsRound = s.highestRound.Load()

	expired := &Thread{Name: "expired-thread", class: ClassTS, sched: s}
	tsClassOps.initThread(expired, 3)
	rq.tsExpired.enqueue(rq.tsRound, expired)

	assert.Nil(t, pickMigratable(s, rq), "source is caught up: its expired sub-queue must not be raided")
}

// TestTSBalanceEligibleRejectsStaleOrThin exercises the three disqualifying
// conditions from thread_sched_ts_balance_eligible directly: zero weight,
// being more than one round behind, and having nothing queued besides the
// thread already running.
func TestTSBalanceEligibleRejectsStaleOrThin(t *testing.T) {
	s, err := newSchedulerForUnitTest()
	require.NoError(t, err)
	highest := s.highestRound.Load()

	empty := mustNewRunQueue(t, s, 0)
	empty.tsRound = highest
	assert.False(t, tsBalanceEligible(empty, highest), "zero weight must be ineligible")

	stale := mustNewRunQueue(t, s, 1)
	th := &Thread{Name: "stale-thread", class: ClassTS, sched: s}
	tsClassOps.initThread(th, 3)
	tsClassOps.add(stale, th) // add() pins stale.tsRound to highest on the empty-weight path
	stale.tsRound = highest - 2
	assert.False(t, tsBalanceEligible(stale, highest), "more than one round behind must be ineligible")

	thin := mustNewRunQueue(t, s, 2)
	onlyThread := &Thread{Name: "only-thread", class: ClassTS, sched: s}
	tsClassOps.initThread(onlyThread, 3)
	tsClassOps.add(thin, onlyThread)
	thin.current = onlyThread
	assert.False(t, tsBalanceEligible(thin, highest), "only the running thread queued must be ineligible")

	thin.current = nil
	assert.True(t, tsBalanceEligible(thin, highest), "same queue becomes eligible once nothing marks its one thread as running")
}

// TestMigrateLockedPreservesWorkAcrossRounds is comment (e)'s regression
// test: TestMigrateLockedMovesWeightBetweenQueues alone can't catch a
// missing round stamp because both run queues there end up on the same
// round (add() and migrateLocked() each snap an empty queue's round to the
// scheduler's highest round), so enqueue's "same round" branch fires whether or not
// migrateLocked stamps victim.ts.round. Here source and dest start on
// different rounds, so only the explicit stamp makes the round-trip hold.
func TestMigrateLockedPreservesWorkAcrossRounds(t *testing.T) {
	s, err := newSchedulerForUnitTest()
	require.NoError(t, err)
	source := mustNewRunQueue(t, s, 0)
	dest := mustNewRunQueue(t, s, 1)

	// dest must already carry weight before its round is pinned: migrateLocked
	// only stamps an *empty* destination's round from the scheduler's
	// high-water mark, which would otherwise mask the very bug under test.
	filler := &Thread{Name: "filler", class: ClassTS, sched: s}
	tsClassOps.initThread(filler, 5)
	tsClassOps.add(dest, filler)
	dest.tsRound = dest.tsRound + 5

	victim := &Thread{Name: "victim", class: ClassTS, sched: s}
	tsClassOps.initThread(victim, 5)
	tsClassOps.add(source, victim)

	// Simulate work already accounted for this round, the way ticking the
	// thread on source would have.
	const accountedWork uint64 = 7
	victim.ts.work = accountedWork
	g := source.tsActive.groups[victim.ts.priority]
	g.work += accountedWork
	source.tsActive.work += accountedWork

	migrateLocked(s, dest, source, victim)

	assert.Equal(t, dest.tsRound, victim.ts.round, "victim must be stamped with the destination's round")
	assert.Equal(t, accountedWork, victim.ts.work, "work accounted for on source must survive the migration, not be rescaled")
}

// TestRolloverOwnRoundSwapsWhenActiveIsEmpty covers the balancer's other
// job besides cross-CPU migration: once every thread on a CPU's active TS
// sub-queue has expired, start_next_round must swap active/expired before
// any migration decision is made, or that CPU's TS class would never
// dispatch anything again.
func TestRolloverOwnRoundSwapsWhenActiveIsEmpty(t *testing.T) {
	s, err := newSchedulerForUnitTest()
	require.NoError(t, err)
	rq := mustNewRunQueue(t, s, 0)

	th := &Thread{Name: "expired-thread", class: ClassTS, sched: s}
	tsClassOps.initThread(th, 4)
	rq.tsExpired.enqueue(0, th)
	require.Equal(t, 0, rq.tsActive.nrThreads)
	require.Equal(t, 1, rq.tsExpired.nrThreads)

	rolloverOwnRound(rq)

	assert.Equal(t, 1, rq.tsActive.nrThreads, "expired sub-queue's thread must now be active")
	assert.Equal(t, 0, rq.tsExpired.nrThreads)
}

// TestRolloverOwnRoundIsNoopWhenActiveHasWork confirms the swap is skipped
// when the active sub-queue still has runnable threads, even if expired
// also has some queued.
func TestRolloverOwnRoundIsNoopWhenActiveHasWork(t *testing.T) {
	s, err := newSchedulerForUnitTest()
	require.NoError(t, err)
	rq := mustNewRunQueue(t, s, 0)

	active := &Thread{Name: "active-thread", class: ClassTS, sched: s}
	tsClassOps.initThread(active, 2)
	rq.tsActive.enqueue(0, active)

	expired := &Thread{Name: "expired-thread", class: ClassTS, sched: s}
	tsClassOps.initThread(expired, 2)
	rq.tsExpired.enqueue(0, expired)

	rolloverOwnRound(rq)

	assert.Equal(t, 1, rq.tsActive.nrThreads)
	assert.Equal(t, 1, rq.tsExpired.nrThreads, "expired sub-queue must be left untouched while active still has work")
}
