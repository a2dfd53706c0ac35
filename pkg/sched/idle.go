package sched

// idleClassImpl implements the fall-back idle class (spec §4.5). Each run
// queue has exactly one idler, statically installed at bring-up; it is
// never reached through the public Create/Wakeup path.
type idleClassImpl struct{}

var idleClassOps schedClass = idleClassImpl{}

func (idleClassImpl) initThread(t *Thread, priority int) {}

func (idleClassImpl) selectRunQ(s *Scheduler, t *Thread, fromCPU CPUID) *RunQueue {
	invariantf("idle", "select_runq is forbidden for the idle class")
	return nil
}

func (idleClassImpl) add(rq *RunQueue, t *Thread) {
	invariantf("idle", "add is forbidden for the idle class")
}

func (idleClassImpl) remove(rq *RunQueue, t *Thread) {
	invariantf("idle", "remove is forbidden for the idle class")
}

func (idleClassImpl) putPrev(rq *RunQueue, t *Thread) {}

func (idleClassImpl) getNext(rq *RunQueue) *Thread {
	return rq.idler
}

func (idleClassImpl) tick(rq *RunQueue, t *Thread) {}
