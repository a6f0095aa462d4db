package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/danielpatrickdp/affect-mpc/internal/logging"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"github.com/spf13/cobra"
)

var (
	dbPath  string
	last    int
	runID   string
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List recorded runs or show one run's trajectory",
	Long: `inspect reads the run database. Without --run it lists the most recent
runs; with --run it prints every tick and the event log of that run.`,
	SilenceUsage: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := state.NewStore(dbPath)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer store.Close()

		if runID != "" {
			return runDetailMode(os.Stdout, store, runID, jsonOut)
		}
		return runListMode(os.Stdout, store, last, jsonOut)
	},
}

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db", "affect.db", "path to the run database")
	rootCmd.Flags().IntVar(&last, "last", 20, "show N most recent runs")
	rootCmd.Flags().StringVar(&runID, "run", "", "show single run detail")
	rootCmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #region list-mode
type listRow struct {
	RunID       string  `json:"run_id"`
	Seed        uint64  `json:"seed"`
	Ticks       int     `json:"ticks"`
	MeanArousal float64 `json:"mean_arousal"`
	Final       string  `json:"final"`
	CreatedAt   string  `json:"created_at"`
}

func runListMode(w io.Writer, store *state.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, r := range runs {
		ticks, err := store.ListTicks(r.RunID)
		if err != nil {
			return err
		}
		row := listRow{
			RunID:     r.RunID,
			Seed:      r.Seed,
			Ticks:     len(ticks),
			CreatedAt: r.CreatedAt.Format(time.RFC3339),
		}
		if len(ticks) > 0 {
			var sum float64
			for _, t := range ticks {
				sum += t.State.Arousal
			}
			row.MeanArousal = sum / float64(len(ticks))
			row.Final = ticks[len(ticks)-1].State.String()
		}
		rows[i] = row
	}

	if jsonOut {
		return writeJSON(w, rows)
	}

	fmt.Fprintf(w, "%-36s  %-20s  %6s  %8s  %-28s  %s\n", "RUN", "SEED", "TICKS", "MEAN A", "FINAL", "CREATED")
	fmt.Fprintln(w, strings.Repeat("-", 130))
	for _, r := range rows {
		fmt.Fprintf(w, "%-36s  %-20d  %6d  %8.3f  %-28s  %s\n", r.RunID, r.Seed, r.Ticks, r.MeanArousal, r.Final, r.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode
type tickRow struct {
	Tick             int                `json:"tick"`
	State            state.AffectState  `json:"state"`
	Input            state.ControlInput `json:"input"`
	Cost             float64            `json:"cost"`
	PredictedArousal float64            `json:"predicted_arousal"`
}

type eventRow struct {
	Tick   int             `json:"tick"`
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

type detail struct {
	RunID     string          `json:"run_id"`
	Seed      uint64          `json:"seed"`
	CreatedAt string          `json:"created_at"`
	Config    json.RawMessage `json:"config,omitempty"`
	Ticks     []tickRow       `json:"ticks"`
	Events    []eventRow      `json:"events"`
}

func runDetailMode(w io.Writer, store *state.Store, id string, jsonOut bool) error {
	run, err := store.GetRun(id)
	if err != nil {
		return err
	}
	ticks, err := store.ListTicks(id)
	if err != nil {
		return err
	}
	events, err := logging.ListEvents(store.DB(), id)
	if err != nil {
		return err
	}

	d := detail{
		RunID:     run.RunID,
		Seed:      run.Seed,
		CreatedAt: run.CreatedAt.Format(time.RFC3339),
		Ticks:     make([]tickRow, len(ticks)),
		Events:    make([]eventRow, len(events)),
	}
	if run.ConfigJSON != "" {
		d.Config = json.RawMessage(run.ConfigJSON)
	}
	for i, t := range ticks {
		d.Ticks[i] = tickRow{Tick: t.Tick, State: t.State, Input: t.Input, Cost: t.Cost, PredictedArousal: t.PredictedArousal}
	}
	for i, e := range events {
		d.Events[i] = eventRow{Tick: e.Tick, Type: e.EventType, Name: e.Name}
		if e.DetailJSON != "" && json.Valid([]byte(e.DetailJSON)) {
			d.Events[i].Detail = json.RawMessage(e.DetailJSON)
		}
	}

	if jsonOut {
		return writeJSON(w, d)
	}

	fmt.Fprintf(w, "Run:     %s\n", d.RunID)
	fmt.Fprintf(w, "Seed:    %d\n", d.Seed)
	fmt.Fprintf(w, "Created: %s\n\n", d.CreatedAt)

	fmt.Fprintf(w, "%-5s | %-8s | %-8s | %-8s | %-20s | %-8s | %s\n", "TICK", "AROUSAL", "VALENCE", "HABIT", "INPUT (L/S/G)", "COST", "PRED")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, t := range d.Ticks {
		fmt.Fprintf(w, "%-5d | %-8.3f | %-8.3f | %-8.3f | %-20s | %-8.4f | %.3f\n",
			t.Tick, t.State.Arousal, t.State.Valence, t.State.Habituation, t.Input.String(), t.Cost, t.PredictedArousal)
	}

	if len(d.Events) > 0 {
		fmt.Fprintln(w, "\nEvents:")
		for _, e := range d.Events {
			fmt.Fprintf(w, "  t=%-4d %-13s %s %s\n", e.Tick, e.Type, e.Name, string(e.Detail))
		}
	}
	return nil
}

// #endregion detail-mode

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
