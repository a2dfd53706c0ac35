package sched

import "fmt"

// rtClassImpl implements the strict-priority real-time class, FIFO and RR
// policies (spec §4.3).
type rtClassImpl struct{}

var rtClassOps schedClass = rtClassImpl{}

func (rtClassImpl) initThread(t *Thread, priority int) {
	t.rt.priority = priority
	t.rt.timeSlice = t.sched.cfg.RRTimeSlice()
}

// selectRunQ: RT threads never migrate in this design (affinity is a
// TODO upstream, spec §4.3); always the waking CPU's own run queue.
func (rtClassImpl) selectRunQ(s *Scheduler, t *Thread, fromCPU CPUID) *RunQueue {
	rq := s.runqueues[fromCPU]
	rq.mu.Lock()
	return rq
}

func (rtClassImpl) add(rq *RunQueue, t *Thread) {
	bucket := rq.rt.buckets[t.rt.priority]
	wasEmpty := bucket.Len() == 0
	t.rt.elem = bucket.PushBack(t)
	if wasEmpty {
		rq.rt.bitmap |= 1 << uint(t.rt.priority)
	}
	if cur := rq.current; cur != nil && cur.class == ClassRT && t.rt.priority > cur.rt.priority {
		cur.setReschedule()
		rq.sched.emit(Event{Kind: EventRTPreempt, CPU: rq.id, Thread: t.Name, Detail: fmt.Sprintf("preempts %s", cur.Name), At: now()})
	}
}

func (rtClassImpl) remove(rq *RunQueue, t *Thread) {
	bucket := rq.rt.buckets[t.rt.priority]
	bucket.Remove(t.rt.elem)
	t.rt.elem = nil
	if bucket.Len() == 0 {
		rq.rt.bitmap &^= 1 << uint(t.rt.priority)
	}
}

func (rtClassImpl) putPrev(rq *RunQueue, t *Thread) {
	rtClassOps.add(rq, t)
}

func (rtClassImpl) getNext(rq *RunQueue) *Thread {
	prio, ok := rq.rt.highestPriority()
	if !ok {
		return nil
	}
	bucket := rq.rt.buckets[prio]
	front := bucket.Front()
	t := front.Value.(*Thread)
	rtClassOps.remove(rq, t)
	return t
}

func (rtClassImpl) tick(rq *RunQueue, t *Thread) {
	if t.policy != PolicyRR {
		return // FIFO threads never yield on tick
	}
	t.rt.timeSlice--
	if t.rt.timeSlice <= 0 {
		t.rt.timeSlice = rq.sched.cfg.RRTimeSlice()
		t.setReschedule()
	}
}
