package sched

import (
	"container/list"
	"fmt"
)

// tsGroup holds every thread of one TS priority level sharing a run queue
// (spec §3, §4.4 — GR3's "groups of equal-weight threads").
type tsGroup struct {
	priority int
	weight   uint64
	work     uint64
	members  *list.List // *Thread, front = next to run
}

// tsRunQueue is one TS sub-queue (active or expired). groups is a fixed
// array indexed by priority (always present, even empty); order holds only
// the non-empty ones, sorted by weight descending (I4).
type tsRunQueue struct {
	groups    []*tsGroup
	order     []*tsGroup
	flat      *list.List // *Thread, full membership, for the balancer
	current   *tsGroup
	nrThreads int
	weight    uint64
	work      uint64
}

func newTSRunQueue(prioMax int) tsRunQueue {
	groups := make([]*tsGroup, prioMax+1)
	for i := range groups {
		groups[i] = &tsGroup{priority: i, members: list.New()}
	}
	return tsRunQueue{groups: groups, flat: list.New()}
}

func orderIndex(order []*tsGroup, g *tsGroup) int {
	for i, x := range order {
		if x == g {
			return i
		}
	}
	return -1
}

func orderRemove(order []*tsGroup, g *tsGroup) []*tsGroup {
	i := orderIndex(order, g)
	if i < 0 {
		return order
	}
	return append(order[:i], order[i+1:]...)
}

// orderInsert keeps order sorted by weight descending (I4).
func orderInsert(order []*tsGroup, g *tsGroup) []*tsGroup {
	i := 0
	for i < len(order) && order[i].weight >= g.weight {
		i++
	}
	order = append(order, nil)
	copy(order[i+1:], order[i:])
	order[i] = g
	return order
}

// repositionGroup relinks g at newWeight, keeping order sorted and
// unlinking empty groups (I4).
func (rq *tsRunQueue) repositionGroup(g *tsGroup, newWeight uint64) {
	if g.weight > 0 {
		rq.order = orderRemove(rq.order, g)
	}
	g.weight = newWeight
	if newWeight > 0 {
		rq.order = orderInsert(rq.order, g)
	}
}

// enqueue implements spec §4.4 "Enqueue". Caller holds the owning run
// queue's lock.
func (rq *tsRunQueue) enqueue(round uint32, t *Thread) {
	g := rq.groups[t.ts.priority]
	oldGroupWeight := g.weight
	newGroupWeight := oldGroupWeight + t.ts.weight
	newTotalWeight := rq.weight + t.ts.weight
	if newTotalWeight < rq.weight {
		invariantf("ts-overflow", "ts sub-queue weight wrapped")
	}

	rq.repositionGroup(g, newGroupWeight)

	if t.ts.round == round {
		// Thread is re-joining in the same round (spec §9 "XXX
		// Unfairness" note: a round wrap-around can make this
		// comparison spuriously true; acknowledged best-effort,
		// preserved as-is).
		g.work += t.ts.work
		rq.work += t.ts.work
	} else {
		var delta uint64
		if oldGroupWeight == 0 {
			if rq.weight > 0 {
				delta = rq.work * t.ts.weight / rq.weight
			}
			g.work = delta
		} else {
			scaled := g.work * newGroupWeight / oldGroupWeight
			delta = scaled - g.work
			g.work = scaled
		}
		rq.work += delta
		t.ts.work = delta
		t.ts.round = round
	}

	rq.weight = newTotalWeight
	t.ts.groupElem = g.members.PushFront(t)
	t.ts.flatElem = rq.flat.PushBack(t)
	t.ts.runq = rq
	rq.nrThreads++
}

// dequeue is enqueue's exact inverse (R1/R2): it subtracts precisely the
// weight and work enqueue added, so add(t); remove(t) round-trips cleanly.
func (rq *tsRunQueue) dequeue(t *Thread) {
	g := rq.groups[t.ts.priority]
	if t.ts.groupElem != nil {
		g.members.Remove(t.ts.groupElem)
		t.ts.groupElem = nil
	}
	rq.flat.Remove(t.ts.flatElem)
	t.ts.flatElem = nil

	g.work -= t.ts.work
	rq.work -= t.ts.work
	rq.repositionGroup(g, g.weight-t.ts.weight)
	rq.weight -= t.ts.weight
	rq.nrThreads--
	t.ts.runq = nil
}

// totalTSThreads is active+expired membership, used by balancer eligibility.
func (rq *RunQueue) totalTSThreads() int {
	return rq.tsActive.nrThreads + rq.tsExpired.nrThreads
}

// tsRestart implements spec §4.4 "restart".
func tsRestart(rq *RunQueue) {
	active := rq.tsActive
	if len(active.order) > 0 {
		active.current = active.order[0]
	} else {
		active.current = nil
	}
	if rq.current != nil && rq.current.class == ClassTS {
		rq.current.setReschedule()
	}
}

// startNextRound implements spec §4.4 "start_next_round", invoked by the
// balancer when the active sub-queue has emptied.
func startNextRound(rq *RunQueue) {
	rq.tsActive, rq.tsExpired = rq.tsExpired, rq.tsActive
	if rq.tsActive.nrThreads > 0 {
		rq.tsRound++
		if int32(rq.tsRound-rq.sched.highestRound.Load()) > 0 {
			rq.sched.highestRound.Store(rq.tsRound)
		}
		tsRestart(rq)
		rq.sched.emit(Event{Kind: EventRoundRollover, CPU: rq.id, Detail: fmt.Sprintf("round=%d", rq.tsRound), At: now()})
	}
}

// tsClassImpl implements the time-sharing class: GR3 proportional-share
// local scheduling merged with DWRR round tracking (spec §4.4).
type tsClassImpl struct{}

var tsClassOps schedClass = tsClassImpl{}

func (tsClassImpl) initThread(t *Thread, priority int) {
	t.ts.priority = priority
	t.ts.weight = uint64(priority+1) * t.sched.cfg.TSRoundSliceBase()
	t.ts.work = 0
	t.ts.round = 0
}

// selectRunQ places a waking TS thread on the CPU with the lightest total
// TS weight. The lightest candidate so far stays locked while the next one
// is locked and compared, so two locks can be held at once; candidates are
// visited in ascending CPU-id order, the same order doubleLock uses
// (I9/P6). The returned run queue is locked.
func (tsClassImpl) selectRunQ(s *Scheduler, t *Thread, fromCPU CPUID) *RunQueue {
	var best *RunQueue
	var bestWeight uint64
	for _, rq := range s.runqueues {
		rq.mu.Lock()
		w := rq.tsWeight()
		if best == nil || w < bestWeight {
			if best != nil {
				best.mu.Unlock()
			}
			best, bestWeight = rq, w
		} else {
			rq.mu.Unlock()
		}
	}
	return best
}

func (tsClassImpl) add(rq *RunQueue, t *Thread) {
	if rq.tsWeight() == 0 {
		rq.tsRound = rq.sched.highestRound.Load()
	}
	rq.tsActive.enqueue(rq.tsRound, t)
	tsRestart(rq)
}

func (tsClassImpl) remove(rq *RunQueue, t *Thread) {
	tsrq := t.ts.runq
	wasActive := tsrq == rq.tsActive
	tsrq.dequeue(t)
	if wasActive && rq.tsActive.nrThreads == 0 {
		rq.wakeBalancerLocked()
	} else {
		tsRestart(rq)
	}
}

func (tsClassImpl) putPrev(rq *RunQueue, t *Thread) {
	active := rq.tsActive
	g := active.groups[t.ts.priority]
	t.ts.groupElem = g.members.PushBack(t)
	t.ts.runq = active

	if t.ts.work >= t.ts.weight {
		active.dequeue(t)
		t.ts.round++
		t.ts.work -= t.ts.weight
		rq.tsExpired.enqueue(t.ts.round, t)
		if active.nrThreads == 0 {
			rq.wakeBalancerLocked()
		}
	}
}

func (tsClassImpl) getNext(rq *RunQueue) *Thread {
	active := rq.tsActive
	if len(active.order) == 0 {
		return nil
	}
	cur := active.current
	if cur == nil {
		cur = active.order[0]
	}
	var next *tsGroup
	if idx := orderIndex(active.order, cur); idx >= 0 && idx+1 < len(active.order) {
		candidate := active.order[idx+1]
		if (cur.work+1)*candidate.weight > (candidate.work+1)*cur.weight {
			next = candidate
		}
	}
	if next == nil {
		next = active.order[0]
	}
	active.current = next

	elem := next.members.Front()
	if elem == nil {
		invariantf("I4", "ts get_next: group %d linked but empty", next.priority)
	}
	t := elem.Value.(*Thread)
	next.members.Remove(elem)
	t.ts.groupElem = nil
	return t
}

func (tsClassImpl) tick(rq *RunQueue, t *Thread) {
	rq.tsActive.work++
	if rq.tsActive.current != nil {
		rq.tsActive.current.work++
	}
	t.ts.work++
	t.setReschedule()
}
