package sched

import "sync/atomic"

// CPUID identifies one simulated CPU. Run queues are indexed by CPUID in a
// fixed-size array sized at Scheduler construction time (spec's
// cpu.count()); this simulator caps CPUCount at 64 so activeRunqs fits a
// single atomic word, matching the bitmap's role in I6/P1 without an
// unbounded-width bitmap type.
type CPUID int

const maxCPUs = 64

// intrGate is the per-CPU interrupt-enable flag (spec §6, "Per-CPU
// interrupt gate", external). A simulated CPU has no real maskable
// interrupts; this flag exists purely so the lock discipline asserted by
// P5 ("local interrupts are disabled whenever a run queue lock is held")
// is a checkable fact rather than folklore.
type intrGate struct {
	enabled atomic.Bool
}

func newIntrGate() *intrGate {
	g := &intrGate{}
	g.enabled.Store(true)
	return g
}

// save disables interrupts and returns the previous state, for restore.
func (g *intrGate) save() bool {
	return g.enabled.Swap(false)
}

func (g *intrGate) restore(prev bool) {
	g.enabled.Store(prev)
}

func (g *intrGate) isEnabled() bool {
	return g.enabled.Load()
}

// pmap is the external virtual-memory collaborator (spec §6). Switching
// address spaces is modeled as a no-op hook so tests can observe how many
// times a context switch crossed a task boundary without pulling in a real
// page-table implementation, which is explicitly out of scope (spec §1).
type pmap struct {
	loads atomic.Uint64
}

func (p *pmap) load(task TaskID) {
	p.loads.Add(1)
}

// TaskID is the opaque owning-task identity threaded through Thread.Task
// (spec §3). KernelTask is the well-known identity that never triggers a
// pmap switch (spec §4.1 step 5).
type TaskID string

// KernelTask is never subject to an address-space switch.
const KernelTask TaskID = "kernel"
