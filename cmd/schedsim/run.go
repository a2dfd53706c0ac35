package main

import (
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/khryptorgraphics/smpsched/internal/config"
	"github.com/khryptorgraphics/smpsched/internal/obslog"
	"github.com/khryptorgraphics/smpsched/pkg/sched"
	"github.com/khryptorgraphics/smpsched/pkg/sched/debugapi"
	"github.com/khryptorgraphics/smpsched/pkg/sched/metrics"
)

func buildRunCmd() *cobra.Command {
	var cpus int
	var duration time.Duration
	var rtThreads int
	var tsThreads int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bring up N simulated CPUs and run a synthetic workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cpus > 0 {
				cfg.CPUs = cpus
			}

			log := obslog.Init(obslog.Options{
				Level:   viper.GetString("logging.level"),
				Console: viper.GetString("logging.format") != "json",
			})

			s, err := sched.NewScheduler(cfg.ToSchedConfig())
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			collectors := metrics.New()
			reg := prometheus.NewRegistry()
			collectors.Register(reg)
			go collectors.ObserveEvents(s)

			var debugSrv *debugapi.Server
			if cfg.DebugAPI.Enabled {
				debugSrv = debugapi.New(s, reg, log)
				go func() {
					if err := http.ListenAndServe(cfg.DebugAPI.Listen, debugSrv.Handler()); err != nil {
						log.Error().Err(err).Msg("debug api server exited")
					}
				}()
				log.Info().Str("listen", cfg.DebugAPI.Listen).Msg("debug api listening")
			}

			s.SetIPILimiter(rate.NewLimiter(rate.Limit(10*cfg.Scheduler.HZ), cfg.Scheduler.HZ))

			s.Start()
			spawnWorkload(s, rtThreads, tsThreads)

			driveTicks(s, cfg.Scheduler.HZ, duration)

			printSummary(s)
			return nil
		},
	}

	cmd.Flags().IntVar(&cpus, "cpus", 0, "number of simulated CPUs (0 = config default)")
	cmd.Flags().DurationVar(&duration, "duration", 2*time.Second, "how long to run the simulation")
	cmd.Flags().IntVar(&rtThreads, "rt-threads", 4, "number of synthetic RT (FIFO/RR) threads")
	cmd.Flags().IntVar(&tsThreads, "ts-threads", 8, "number of synthetic TS threads")

	return cmd
}

// spawnWorkload creates rtThreads RT threads (alternating FIFO/RR, spread
// across CPUs and priorities) and tsThreads TS threads (spread across
// priorities), each running a trivial CPU-bound loop so the scheduler has
// something to dispatch between preemptions.
func spawnWorkload(s *sched.Scheduler, rtThreads, tsThreads int) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < rtThreads; i++ {
		cpu := sched.CPUID(i % s.CPUCount())
		policy := sched.PolicyFIFO
		if i%2 == 1 {
			policy = sched.PolicyRR
		}
		_, _ = s.Create(cpu, sched.ThreadOptions{
			Name:     fmt.Sprintf("rt-worker-%d", i),
			Task:     sched.TaskID(fmt.Sprintf("task-rt-%d", i)),
			Policy:   policy,
			Priority: rng.Intn(16),
			Entry:    busyLoopEntry,
		})
	}

	for i := 0; i < tsThreads; i++ {
		cpu := sched.CPUID(i % s.CPUCount())
		_, _ = s.Create(cpu, sched.ThreadOptions{
			Name:     fmt.Sprintf("ts-worker-%d", i),
			Task:     sched.TaskID(fmt.Sprintf("task-ts-%d", i)),
			Policy:   sched.PolicyTS,
			Priority: rng.Intn(20),
			Entry:    busyLoopEntry,
		})
	}
}

// busyLoopEntry never sleeps: it relies entirely on preemption (RT time
// slice expiry, TS round accounting, another RT thread waking) to give up
// the CPU, the same way a CPU-bound user thread does in the real kernel.
func busyLoopEntry(t *sched.Thread) {
	for {
		t.Reschedule()
	}
}

// driveTicks simulates the per-CPU timer interrupt: one Tick call per CPU
// at the configured HZ, for the requested wall-clock duration.
func driveTicks(s *sched.Scheduler, hz int, duration time.Duration) {
	if hz <= 0 {
		hz = 1000
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	deadline := time.Now().Add(duration)
	for now := range ticker.C {
		if now.After(deadline) {
			return
		}
		for cpu := 0; cpu < s.CPUCount(); cpu++ {
			s.Tick(sched.CPUID(cpu))
		}
	}
}

func printSummary(s *sched.Scheduler) {
	fmt.Println("cpu  nr_threads  ts_weight  ts_round  current")
	for _, snap := range s.Snapshot() {
		fmt.Printf("%-4d %-11d %-10d %-9d %s\n", snap.CPU, snap.NrThreads, snap.TSWeight, snap.TSRound, snap.Current)
	}
	if errs := s.CheckInvariants(); len(errs) > 0 {
		fmt.Println("invariant violations:")
		for _, e := range errs {
			fmt.Println(" -", e)
		}
	}
}
