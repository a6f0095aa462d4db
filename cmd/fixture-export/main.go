package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielpatrickdp/affect-mpc/internal/logging"
	"github.com/danielpatrickdp/affect-mpc/internal/replay"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	dbPath      string
	runID       string
	outPath     string
	format      string
	description string
	finalOnly   bool
)

var rootCmd = &cobra.Command{
	Use:   "fixture-export",
	Short: "Export a recorded run as a replay fixture",
	Long: `fixture-export reads one run (--run, latest by default) from the run
database and writes a fixture holding its seed, configuration, events and
recorded trajectory. The fixture replays with 'replay --fixture'.`,
	SilenceUsage: true,
	RunE:         export,
}

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db", "affect.db", "path to the run database")
	rootCmd.Flags().StringVar(&runID, "run", "", "run ID to export (default latest)")
	rootCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	rootCmd.Flags().StringVar(&format, "format", "", "json or yaml (default from --out extension, else json)")
	rootCmd.Flags().StringVar(&description, "description", "", "fixture description")
	rootCmd.Flags().BoolVar(&finalOnly, "final-only", false, "keep only the final state as the expectation")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #region export
func export(_ *cobra.Command, _ []string) error {
	store, err := state.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	var rec state.RunRecord
	if runID != "" {
		rec, err = store.GetRun(runID)
	} else {
		rec, err = store.LatestRun()
	}
	if err != nil {
		return err
	}
	ticks, err := store.ListTicks(rec.RunID)
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		return fmt.Errorf("run %s has no ticks", rec.RunID)
	}
	events, err := logging.ListEvents(store.DB(), rec.RunID)
	if err != nil {
		return err
	}

	f, err := replay.FixtureFromRun(rec, ticks, events)
	if err != nil {
		return err
	}
	if description != "" {
		f.Description = description
	} else if f.Description == "" {
		f.Description = fmt.Sprintf("exported from run %s", rec.RunID)
	}
	if finalOnly {
		f.Expected.Trajectory = nil
	}

	switch resolveFormat() {
	case "yaml":
		data, err := yaml.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal fixture: %w", err)
		}
		return write(data)
	case "json":
		if outPath != "" {
			if err := f.Save(outPath); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Exported %d ticks to %s\n", len(ticks), outPath)
			return nil
		}
		data, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal fixture: %w", err)
		}
		return write(append(data, '\n'))
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// #endregion export

func resolveFormat() string {
	if format != "" {
		return strings.ToLower(format)
	}
	switch strings.ToLower(filepath.Ext(outPath)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func write(data []byte) error {
	if outPath == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	fmt.Fprintf(os.Stderr, "Exported to %s\n", outPath)
	return nil
}
