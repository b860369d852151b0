package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/flowsim/sim"
	"github.com/inference-sim/flowsim/sim/observe"
)

var (
	// CLI flags for the run command
	configPath     string  // Scenario file
	seed           int64   // Overrides the scenario seed when set
	horizonSeconds float64 // Overrides the scenario horizon when set (in seconds)
	logLevel       string  // Log verbosity level
	metricsPath    string  // Prometheus text output ("-" = stdout, "" = none)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "flowsim",
	Short: "Discrete-event simulator for process-flow networks",
}

// runCmd executes a scenario file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if configPath == "" {
			logrus.Fatalf("Scenario file not provided (--config). Exiting simulation.")
		}
		sc, err := LoadScenario(configPath)
		if err != nil {
			logrus.Fatalf("Unable to load scenario: %v", err)
		}
		if cmd.Flags().Changed("seed") {
			sc.Run.Seed = seed
		}
		if cmd.Flags().Changed("horizon") {
			sc.Run.HorizonSeconds = horizonSeconds
		}

		if err := execute(cmd.Context(), sc, os.Stdout, metricsPath); err != nil {
			var me *sim.ModelError
			if errors.As(err, &me) {
				logrus.Fatalf("Model error at station %s (tick %d): %s", me.Station, me.Tick, me.Msg)
			}
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// execute builds, runs and reports one scenario.
func execute(ctx context.Context, sc *Scenario, out io.Writer, metrics string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m, err := Build(sc)
	if err != nil {
		return err
	}
	logrus.Infof("Starting simulation: seed=%d, horizon=%vs, ticks/s=%v, initialization=%vs",
		sc.Run.Seed, sc.Run.HorizonSeconds, sc.Run.TicksPerSecond, sc.Run.InitializationSeconds)

	startTime := time.Now()
	m.Start()
	if err := m.Sim.Run(ctx); err != nil {
		return err
	}
	logrus.Infof("Run took %s of wall time", time.Since(startTime))

	m.Sim.Metrics.Print(m.Sim.TicksPerSecond)
	m.Report(out)

	if metrics == "" {
		return nil
	}
	c, err := observe.NewCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	m.Record(c)
	if metrics == "-" {
		return c.WriteText(out)
	}
	f, err := os.Create(metrics)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	defer f.Close()
	return c.WriteText(f)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Scenario YAML file")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for all random streams (overrides the scenario)")
	runCmd.Flags().Float64Var(&horizonSeconds, "horizon", 0, "Simulation horizon in seconds (overrides the scenario, 0 = unbounded)")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&metricsPath, "metrics", "", "Write Prometheus text metrics to this file (\"-\" for stdout)")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
