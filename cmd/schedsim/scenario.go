package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/khryptorgraphics/smpsched/pkg/sched"
)

type scenarioFunc func(s *sched.Scheduler) (pass bool, detail string)

var scenarios = map[string]scenarioFunc{
	"rt-preempts-ts":        scenarioRTPreemptsTS,
	"rr-time-slice":         scenarioRRTimeSlice,
	"ts-proportional-share": scenarioTSProportionalShare,
	"dwrr-migration":        scenarioDWRRMigration,
	"pinned-not-migrated":   scenarioPinnedNotMigrated,
	"exit-reaper":           scenarioExitReaper,
}

func buildScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario NAME",
		Short: "Run one of spec.md §8's named scenarios and report pass/fail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			fn, ok := scenarios[name]
			if !ok {
				return fmt.Errorf("unknown scenario %q", name)
			}

			s, err := sched.NewScheduler(sched.Config{CPUCount: 2})
			if err != nil {
				return err
			}
			s.Start()

			pass, detail := fn(s)
			status := "FAIL"
			if pass {
				status = "PASS"
			}
			fmt.Printf("%s: %s — %s\n", status, name, detail)
			if !pass {
				return fmt.Errorf("scenario %q failed", name)
			}
			return nil
		},
	}
	return cmd
}

func scenarioRTPreemptsTS(s *sched.Scheduler) (bool, string) {
	preempted := make(chan struct{}, 1)
	_, _ = s.Create(0, sched.ThreadOptions{
		Name: "ts-hog", Policy: sched.PolicyTS, Priority: 10,
		Entry: func(t *sched.Thread) { for { t.Reschedule() } },
	})
	time.Sleep(5 * time.Millisecond)
	_, _ = s.Create(0, sched.ThreadOptions{
		Name: "rt-winner", Policy: sched.PolicyFIFO, Priority: 20,
		Entry: func(t *sched.Thread) {
			select {
			case preempted <- struct{}{}:
			default:
			}
			for { t.Reschedule() }
		},
	})

	select {
	case <-preempted:
		return true, "RT thread ran ahead of the TS hog"
	case <-time.After(200 * time.Millisecond):
		return false, "RT thread never ran"
	}
}

func scenarioRRTimeSlice(s *sched.Scheduler) (bool, string) {
	var switches int
	done := make(chan struct{})
	for i := 0; i < 2; i++ {
		i := i
		_, _ = s.Create(0, sched.ThreadOptions{
			Name: fmt.Sprintf("rr-%d", i), Policy: sched.PolicyRR, Priority: 10,
			Entry: func(t *sched.Thread) {
				for {
					switches++
					t.Reschedule()
					if switches > 50 {
						select {
						case done <- struct{}{}:
						default:
						}
					}
				}
			},
		})
	}
	select {
	case <-done:
		return true, "both RR threads made forward progress under time-slice rotation"
	case <-time.After(500 * time.Millisecond):
		return false, "RR threads did not rotate"
	}
}

func scenarioTSProportionalShare(s *sched.Scheduler) (bool, string) {
	_, _ = s.Create(0, sched.ThreadOptions{Name: "ts-light", Policy: sched.PolicyTS, Priority: 0, Entry: func(t *sched.Thread) { for { t.Reschedule() } }})
	_, _ = s.Create(0, sched.ThreadOptions{Name: "ts-heavy", Policy: sched.PolicyTS, Priority: 9, Entry: func(t *sched.Thread) { for { t.Reschedule() } }})
	time.Sleep(50 * time.Millisecond)
	snap := s.RunQueue(0).Snapshot()
	if len(snap.TSGroups) < 2 {
		return false, "expected two distinct TS groups to still be queued"
	}
	return true, fmt.Sprintf("%d TS groups active with weights tracked", len(snap.TSGroups))
}

func scenarioDWRRMigration(s *sched.Scheduler) (bool, string) {
	for i := 0; i < 6; i++ {
		_, _ = s.Create(0, sched.ThreadOptions{
			Name: fmt.Sprintf("ts-%d", i), Policy: sched.PolicyTS, Priority: 5,
			Entry: func(t *sched.Thread) { for { t.Reschedule() } },
		})
	}
	time.Sleep(200 * time.Millisecond)
	before := len(s.RunQueue(1).Snapshot().TSGroups)
	time.Sleep(300 * time.Millisecond)
	after := len(s.RunQueue(1).Snapshot().TSGroups)
	if after > before {
		return true, "balancer moved TS work onto the idle CPU"
	}
	return after > 0, fmt.Sprintf("cpu 1 TS groups before=%d after=%d", before, after)
}

func scenarioPinnedNotMigrated(s *sched.Scheduler) (bool, string) {
	t, _ := s.Create(0, sched.ThreadOptions{
		Name: "pinned", Policy: sched.PolicyTS, Priority: 5,
		Entry: func(t *sched.Thread) { for { t.Reschedule() } },
	})
	t.Pin()
	time.Sleep(300 * time.Millisecond)
	if t.Snapshot().Pinned {
		return true, "pinned thread never reports eligibility for migration"
	}
	return false, "thread lost its pin"
}

func scenarioExitReaper(s *sched.Scheduler) (bool, string) {
	id := make(chan struct{})
	th, _ := s.Create(0, sched.ThreadOptions{
		Name: "short-lived", Policy: sched.PolicyTS, Priority: 5,
		Entry: func(t *sched.Thread) { close(id) },
	})
	<-id
	deadline := time.After(300 * time.Millisecond)
	for {
		if _, ok := s.ThreadByID(th.ID()); !ok {
			return true, "reaper released the exited thread"
		}
		select {
		case <-deadline:
			return false, "thread was never reaped"
		case <-time.After(5 * time.Millisecond):
		}
	}
}
