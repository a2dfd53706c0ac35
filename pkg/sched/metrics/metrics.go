// Package metrics registers the scheduler's prometheus collectors,
// grounded in the teacher's pkg/observability/prometheus.go collector-set
// pattern: gauges sampled from a live snapshot, counters fed by the
// scheduler's event stream, no hot-path lock ever held while recording.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/khryptorgraphics/smpsched/pkg/sched"
)

// Collectors holds every metric this package exposes. Register installs
// them on a prometheus.Registerer; ObserveEvents drains a Scheduler's event
// channel into the counters, and SampleGauges sets the gauges from one
// snapshot per call. BalancerScanSeconds is registered but nothing in this
// module records observations into it.
type Collectors struct {
	NrThreads *prometheus.GaugeVec
	TSWeight  *prometheus.GaugeVec
	TSRound   *prometheus.GaugeVec

	MigrationsTotal     prometheus.Counter
	RescheduleIPIsTotal prometheus.Counter
	ThreadsCreatedTotal prometheus.Counter
	ThreadsReapedTotal  prometheus.Counter

	BalancerScanSeconds prometheus.Histogram
}

// New builds an unregistered Collectors set.
func New() *Collectors {
	return &Collectors{
		NrThreads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "schedsim",
			Name:      "nr_threads",
			Help:      "Number of runnable threads currently queued on a CPU.",
		}, []string{"cpu"}),
		TSWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "schedsim",
			Name:      "ts_weight",
			Help:      "Total GR3 weight queued on a CPU's time-sharing class.",
		}, []string{"cpu"}),
		TSRound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "schedsim",
			Name:      "ts_round",
			Help:      "Current DWRR round number of a CPU's time-sharing class.",
		}, []string{"cpu"}),
		MigrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schedsim",
			Name:      "migrations_total",
			Help:      "Total threads moved between run queues by a balancer pass.",
		}),
		RescheduleIPIsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schedsim",
			Name:      "reschedule_ipis_total",
			Help:      "Total simulated reschedule IPIs sent to a remote CPU.",
		}),
		ThreadsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schedsim",
			Name:      "threads_created_total",
			Help:      "Total threads created across the scheduler's lifetime.",
		}),
		ThreadsReapedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schedsim",
			Name:      "threads_reaped_total",
			Help:      "Total threads released by the reaper.",
		}),
		BalancerScanSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "schedsim",
			Name:      "balancer_scan_seconds",
			Help:      "Wall-clock duration of a single balancer scan/migrate pass.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Register installs every collector on reg.
func (c *Collectors) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.NrThreads, c.TSWeight, c.TSRound,
		c.MigrationsTotal, c.RescheduleIPIsTotal,
		c.ThreadsCreatedTotal, c.ThreadsReapedTotal,
		c.BalancerScanSeconds,
	)
}

// ObserveEvents consumes s's event stream, updating counters as events
// arrive. Returns once s.Events() is closed.
func (c *Collectors) ObserveEvents(s *sched.Scheduler) {
	for e := range s.Events() {
		switch e.Kind {
		case sched.EventMigrated:
			c.MigrationsTotal.Inc()
		case sched.EventThreadCreated:
			c.ThreadsCreatedTotal.Inc()
		case sched.EventThreadReaped:
			c.ThreadsReapedTotal.Inc()
		case sched.EventRescheduleIPI:
			c.RescheduleIPIsTotal.Inc()
		}
	}
}

// SampleGauges snapshots every run queue's gauge-worthy state. Callers
// typically invoke this on a ticker, not from the scheduler's own
// goroutines.
func (c *Collectors) SampleGauges(s *sched.Scheduler) {
	for cpu := 0; cpu < s.CPUCount(); cpu++ {
		snap := s.RunQueue(sched.CPUID(cpu)).Snapshot()
		label := prometheus.Labels{"cpu": strconv.Itoa(cpu)}
		c.NrThreads.With(label).Set(float64(snap.NrThreads))
		c.TSWeight.With(label).Set(float64(snap.TSWeight))
		c.TSRound.With(label).Set(float64(snap.TSRound))
	}
}
