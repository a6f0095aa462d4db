package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/danielpatrickdp/affect-mpc/internal/logging"
	"github.com/danielpatrickdp/affect-mpc/internal/replay"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	dbPath      string
	runID       string
	fixturePath string
	tolerance   float64
	verbose     bool
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-run a recorded run or a fixture and compare trajectories",
	Long: `replay rebuilds the plant and controller from a fixture (--fixture) or
from a run recorded in SQLite (--db, optionally --run; latest by default),
re-runs it with the same seed and prints expected against replayed state
per tick.

Exit status is 0 when every tick matches, 1 on divergence and 2 on usage
or load errors.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db", "", "path to the run database (DB mode)")
	rootCmd.Flags().StringVar(&runID, "run", "", "run ID to replay (default latest)")
	rootCmd.Flags().StringVar(&fixturePath, "fixture", "", "path to fixture JSON (fixture mode)")
	rootCmd.Flags().Float64Var(&tolerance, "tolerance", 0, "per-component tolerance (overrides fixture)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log each tick")
	rootCmd.MarkFlagsMutuallyExclusive("db", "fixture")
	rootCmd.MarkFlagsOneRequired("db", "fixture")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := 2
		var e exitError
		if errors.As(err, &e) {
			code = e.code
		}
		os.Exit(code)
	}
}

// #region run
func run(_ *cobra.Command, _ []string) error {
	fixture, err := load()
	if err != nil {
		return exitError{code: 2, err: err}
	}
	if fixture.Expected == nil {
		return exitError{code: 2, err: fmt.Errorf("nothing to compare: fixture has no expected outcome")}
	}
	if tolerance > 0 {
		fixture.Expected.Tolerance = tolerance
	}

	logger := zerolog.Nop()
	if verbose {
		logger = logging.New(logging.Config{Level: "debug", Pretty: true}, os.Stderr)
	}
	h, err := fixture.Build(logger)
	if err != nil {
		return exitError{code: 2, err: err}
	}
	results, err := h.Run(context.Background(), fixture.Ticks, fixture.Events)
	if err != nil {
		return exitError{code: 2, err: err}
	}

	c := replay.Compare(*fixture.Expected, results)
	printComparison(os.Stdout, *fixture.Expected, results, c)
	if !c.Match {
		return exitError{code: 1, err: fmt.Errorf("replay diverged (max deviation %.3g)", c.MaxDeviation)}
	}
	return nil
}

func load() (*replay.Fixture, error) {
	if fixturePath != "" {
		return replay.LoadFixture(fixturePath)
	}
	store, err := state.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	var rec state.RunRecord
	if runID != "" {
		rec, err = store.GetRun(runID)
	} else {
		rec, err = store.LatestRun()
	}
	if err != nil {
		return nil, err
	}
	ticks, err := store.ListTicks(rec.RunID)
	if err != nil {
		return nil, err
	}
	events, err := logging.ListEvents(store.DB(), rec.RunID)
	if err != nil {
		return nil, err
	}
	return replay.FixtureFromRun(rec, ticks, events)
}

// #endregion run

// #region output
// printComparison outputs a per-tick table. Without a recorded trajectory
// only the final state is shown.
func printComparison(w io.Writer, exp replay.ExpectedOutcome, results []replay.TickResult, c replay.Comparison) {
	fmt.Fprintf(w, "%-6s| %-28s| %-28s| %s\n", "Tick", "Expected", "Replayed", "Match")
	fmt.Fprintf(w, "%-6s+%-29s+%-29s+%s\n", "------", "-----------------------------", "-----------------------------", "------")

	matches, total := 0, c.TicksCompared
	for i := 0; i < total; i++ {
		want, got := exp.Trajectory[i], results[i].State
		match := "DIFF"
		if replay.Deviation(want, got) <= exp.EffectiveTolerance() {
			match = "OK"
			matches++
		}
		fmt.Fprintf(w, "%-6d| %-28s| %-28s| %s\n", results[i].Tick, want, got, match)
	}
	if total == 0 {
		match := "DIFF"
		if c.Match {
			match = "OK"
		}
		fmt.Fprintf(w, "%-6s| %-28s| %-28s| %s\n", "final", c.FinalExpected, c.FinalReplayed, match)
	}

	fmt.Fprintf(w, "\nSummary: %d compared, %d match, %d diverge, max deviation %.3g\n",
		total, matches, total-matches, c.MaxDeviation)
	if c.LengthMismatch {
		fmt.Fprintf(w, "Length mismatch: expected %d ticks, replayed %d\n", len(exp.Trajectory), len(results))
	}
}

// #endregion output
