package sched

// schedClass is the seven-operation scheduling-class interface of spec
// §4.2, implemented by RT, TS, and Idle. Each class is a stateless
// singleton selected by a small table indexed by Class — the "tagged
// variant" option from the design notes, expressed as a Go interface
// instead of an enum switch so each class's operations live in one file.
type schedClass interface {
	initThread(t *Thread, priority int)
	// selectRunQ picks (and locks) the run queue a waking thread should
	// join. fromCPU names the CPU the wakeup call is considered to
	// originate from — the closest analogue this simulator has to a
	// kernel's implicit curcpu(), since Go has no per-goroutine CPU
	// register to read.
	selectRunQ(s *Scheduler, t *Thread, fromCPU CPUID) *RunQueue
	add(rq *RunQueue, t *Thread)
	remove(rq *RunQueue, t *Thread)
	putPrev(rq *RunQueue, t *Thread)
	getNext(rq *RunQueue) *Thread
	tick(rq *RunQueue, t *Thread)
}
