package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/danielpatrickdp/affect-mpc/internal/config"
	"github.com/danielpatrickdp/affect-mpc/internal/eval"
	"github.com/danielpatrickdp/affect-mpc/internal/logging"
	"github.com/danielpatrickdp/affect-mpc/internal/replay"
	"github.com/danielpatrickdp/affect-mpc/internal/report"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	ticks     int
	seed      uint64
	dbPath    string
	noPersist bool
	plotPath  string
	multiStep bool
	workers   int
)

var rootCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the closed-loop affect scenario",
	Long: `simulate drives the affect plant with the sampling controller for a fixed
number of ticks, injects the configured shock, and prints one row per tick.

Settings come from --config (or ./affect.yaml) with AFFECT_* environment
overrides; the flags below override both.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default ./affect.yaml)")
	rootCmd.Flags().IntVar(&ticks, "ticks", 0, "number of ticks (overrides config)")
	rootCmd.Flags().Uint64Var(&seed, "seed", 0, "candidate seed (overrides config)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "SQLite path for the run (overrides config)")
	rootCmd.Flags().BoolVar(&noPersist, "no-persist", false, "do not record the run")
	rootCmd.Flags().StringVar(&plotPath, "plot", "", "write a trajectory chart (.png, .svg or .pdf)")
	rootCmd.Flags().BoolVar(&multiStep, "multi-step", false, "score candidates over the full horizon")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "parallel scoring workers (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #region run
func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("ticks") {
		cfg.Simulation.Ticks = ticks
	}
	if flags.Changed("seed") {
		cfg.Controller.Seed = seed
	}
	if flags.Changed("db") {
		cfg.Store.Path = dbPath
	}
	if flags.Changed("multi-step") {
		cfg.Controller.MultiStep = multiStep
	}
	if flags.Changed("workers") {
		cfg.Controller.Workers = workers
	}
	if noPersist {
		cfg.Store.Path = ""
	}

	logger := logging.New(cfg.Logging, os.Stderr)
	scenario := cfg.Scenario()

	h, err := scenario.Build(logger)
	if err != nil {
		return err
	}

	if cfg.Store.Path != "" {
		store, err := state.NewStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		cfgJSON, err := scenario.ConfigJSON()
		if err != nil {
			return err
		}
		rec, err := store.CreateRun(state.RunRecord{Seed: scenario.Seed, ConfigJSON: cfgJSON})
		if err != nil {
			return err
		}
		h.Persist(store, rec.RunID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, runErr := h.Run(ctx, scenario.Ticks, scenario.Events)
	printTable(os.Stdout, results)
	if runErr != nil {
		return runErr
	}

	res := eval.NewEvalHarness(cfg.Eval).Run(replay.Trajectory(results), scenario.Controller.TargetArousal)
	printSummary(os.Stdout, replay.Summarize(results), res, h.RunID())

	if plotPath != "" {
		if err := report.PlotTrajectory(results, scenario.Controller.TargetArousal, plotPath); err != nil {
			return err
		}
		fmt.Printf("Chart written to %s\n", plotPath)
	}
	return nil
}

// #endregion run

// #region output
func printTable(w io.Writer, results []replay.TickResult) {
	fmt.Fprintf(w, "%-5s | %-10s | %-10s | %-10s | %-20s | %s\n", "TIME", "AROUSAL", "VALENCE", "HABIT", "INPUT (L/S/G)", "VISUALIZATION")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, r := range results {
		bars := strings.Repeat("|", int(r.State.Arousal*20))
		fmt.Fprintf(w, "%-5d | %-10.2f | %-10.2f | %-10.2f | %-20s | %s\n",
			r.Tick, r.State.Arousal, r.State.Valence, r.State.Habituation, r.Input.String(), bars)
		for _, ev := range r.Events {
			fmt.Fprintf(w, ">>> EVENT: %s <<<\n", ev)
		}
	}
}

func printSummary(w io.Writer, s replay.ReplaySummary, res eval.EvalResult, runID string) {
	fmt.Fprintf(w, "\nTicks: %d | Events: %d | Mean arousal: %.3f | Peak: %.3f | Final: %s\n",
		s.TotalTicks, s.EventsFired, s.MeanArousal, s.PeakArousal, s.FinalState)
	for _, m := range res.Metrics {
		mark := "OK"
		if !m.Pass {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  %-16s %8.4f  %s\n", m.Name, m.Value, mark)
	}
	if runID != "" {
		fmt.Fprintf(w, "Run recorded as %s\n", runID)
	}
}

// #endregion output
