// Command schedsim drives a simulated SMP thread scheduler: a GR3
// proportional-share time-sharing class, a strict-priority FIFO/RR
// real-time class, an idle class, a DWRR inter-CPU balancer, and a reaper,
// all built on pkg/sched. Grounded in the teacher's cmd/node/main.go
// rootCmd/sub-command layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "schedsim",
		Short: "Simulated SMP thread scheduler",
		Long: `schedsim drives pkg/sched, a goroutine-backed simulation of a
GR3 time-sharing class, a strict-priority RT class, DWRR inter-CPU load
balancing, and a reaper, modeled on a small SMP kernel's scheduler core.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(buildRunCmd())
	rootCmd.AddCommand(buildScenarioCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
