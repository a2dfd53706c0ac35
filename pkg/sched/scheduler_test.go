package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, cpus int) *Scheduler {
	t.Helper()
	s, err := NewScheduler(Config{CPUCount: cpus, HZ: 1000})
	require.NoError(t, err)
	s.Start()
	return s
}

func spinEntry(t *Thread) {
	for {
		t.Reschedule()
	}
}

func TestNewSchedulerBringsUpEveryCPU(t *testing.T) {
	s := newTestScheduler(t, 4)
	assert.Equal(t, 4, s.CPUCount())
	for i := 0; i < 4; i++ {
		rq := s.RunQueue(CPUID(i))
		require.NotNil(t, rq.idler)
		require.NotNil(t, rq.balancer)
	}
	assert.Empty(t, s.CheckInvariants())
}

// TestReaperIsOrdinaryTSThread guards against the reaper being mistakenly
// constructed as an RT/FIFO thread: spec.md §4.6 calls it "one system-wide
// TS thread" at default priority, and classOf's RT/FIFO-at-max-priority
// mapping would let it starve every other RT thread in the system.
func TestReaperIsOrdinaryTSThread(t *testing.T) {
	s := newTestScheduler(t, 1)
	require.NotNil(t, s.reaper)
	assert.Equal(t, PolicyTS, s.reaper.Policy())
	assert.Equal(t, ClassTS, s.reaper.Class())
	assert.Less(t, s.reaper.ts.priority, s.cfg.TSPrioMax, "reaper must run at a default, non-max TS priority")
}

func TestCreateRejectsPastMaxThreads(t *testing.T) {
	s, err := NewScheduler(Config{CPUCount: 1, MaxThreads: 1})
	require.NoError(t, err)
	s.Start()

	_, err = s.Create(0, ThreadOptions{Name: "over-cap", Policy: PolicyTS, Entry: spinEntry})
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func TestRTPreemptsRunningTS(t *testing.T) {
	s := newTestScheduler(t, 1)

	_, err := s.Create(0, ThreadOptions{Name: "ts-hog", Policy: PolicyTS, Priority: 10, Entry: spinEntry})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	ran := make(chan struct{}, 1)
	_, err = s.Create(0, ThreadOptions{
		Name: "rt-winner", Policy: PolicyFIFO, Priority: 20,
		Entry: func(t *Thread) {
			select {
			case ran <- struct{}{}:
			default:
			}
			spinEntry(t)
		},
	})
	require.NoError(t, err)

	select {
	case <-ran:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("RT thread never ran ahead of the TS hog")
	}
}

func TestRRRotatesEqualPriorityThreads(t *testing.T) {
	s := newTestScheduler(t, 1)

	var progressed [2]bool
	for i := 0; i < 2; i++ {
		i := i
		_, err := s.Create(0, ThreadOptions{
			Name: "rr", Policy: PolicyRR, Priority: 10,
			Entry: func(t *Thread) {
				for n := 0; ; n++ {
					if n > 20 {
						progressed[i] = true
					}
					t.Reschedule()
				}
			},
		})
		require.NoError(t, err)
	}

	time.Sleep(100 * time.Millisecond)
	assert.True(t, progressed[0])
	assert.True(t, progressed[1])
}

func TestTSTracksDistinctPriorityGroups(t *testing.T) {
	s := newTestScheduler(t, 1)

	_, err := s.Create(0, ThreadOptions{Name: "ts-light", Policy: PolicyTS, Priority: 0, Entry: spinEntry})
	require.NoError(t, err)
	_, err = s.Create(0, ThreadOptions{Name: "ts-heavy", Policy: PolicyTS, Priority: 9, Entry: spinEntry})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	snap := s.RunQueue(0).Snapshot()
	assert.GreaterOrEqual(t, len(snap.TSGroups), 2)
	assert.Empty(t, s.CheckInvariants())
}

func TestPinnedThreadNeverMigrates(t *testing.T) {
	s := newTestScheduler(t, 2)

	th, err := s.Create(0, ThreadOptions{Name: "pinned", Policy: PolicyTS, Priority: 5, Entry: spinEntry})
	require.NoError(t, err)
	th.Pin()
	home := th.runq.id

	for i := 0; i < 5; i++ {
		_, err := s.Create(1, ThreadOptions{Name: "filler", Policy: PolicyTS, Priority: 5, Entry: spinEntry})
		require.NoError(t, err)
	}

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, home, th.runq.id, "pinned thread must stay on its original CPU")
}

func TestExitedThreadIsEventuallyReaped(t *testing.T) {
	s := newTestScheduler(t, 1)

	done := make(chan struct{})
	th, err := s.Create(0, ThreadOptions{
		Name: "short-lived", Policy: PolicyTS, Priority: 5,
		Entry: func(t *Thread) { close(done) },
	})
	require.NoError(t, err)
	<-done

	require.Eventually(t, func() bool {
		_, ok := s.ThreadByID(th.ID())
		return !ok
	}, time.Second, 5*time.Millisecond, "reaper never released the exited thread")
}

func TestHighestRoundWrapAround(t *testing.T) {
	s := newTestScheduler(t, 1)
	assert.Equal(t, tsInitialRound, s.highestRound.Load())
	assert.Equal(t, uint32(4294967286), tsInitialRound, "(unsigned)-10 wraps to this exact value")

	rq := s.RunQueue(0)
	rq.mu.Lock()
	rq.tsRound = tsInitialRound
	// startNextRound swaps active/expired first, so seed what will become
	// the new active sub-queue before each call. Twenty rounds from the
	// seed carry the counter across zero.
	for i := 0; i < 20; i++ {
		rq.tsExpired.nrThreads = 1
		startNextRound(rq)
	}
	rq.mu.Unlock()

	assert.True(t, int32(s.highestRound.Load()-tsInitialRound) > 0, "round must have advanced past its wrapped seed")
}
