package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/straightup/internal/history"
	"github.com/srg/straightup/pkg/config"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and maintain the posture history",
}

var historyRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent posture events",
	Args:  cobra.NoArgs,
	RunE:  runHistoryRecent,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's and the last seven days' statistics",
	Args:  cobra.NoArgs,
	RunE:  runHistoryStats,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete events older than a given age",
	Long: `Delete events older than --older-than. Without the flag the configured
history retention is used.`,
	Args: cobra.NoArgs,
	RunE: runHistoryPrune,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every posture event",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

var (
	historyLimit     int
	historyFormat    string
	historyOlderThan time.Duration
	historyYes       bool

	// now is replaced in tests
	now = time.Now
)

func init() {
	historyRecentCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of events to show")
	historyRecentCmd.Flags().StringVarP(&historyFormat, "format", "f", "table", "Output format (table, json)")
	historyStatsCmd.Flags().StringVarP(&historyFormat, "format", "f", "table", "Output format (table, json)")
	historyPruneCmd.Flags().DurationVar(&historyOlderThan, "older-than", 0, "Age limit, e.g. 720h (default: history.retention)")
	historyClearCmd.Flags().BoolVarP(&historyYes, "yes", "y", false, "Confirm deleting the whole history")

	historyCmd.AddCommand(historyRecentCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyPruneCmd)
	historyCmd.AddCommand(historyClearCmd)
}

// openHistory opens the configured store, creating the DuckDB directory
// when needed.
func openHistory(ctx context.Context, cfg *config.Config) (history.Store, error) {
	dsn, err := cfg.HistoryDSN()
	if err != nil {
		return nil, err
	}
	if cfg.History.Driver == history.DriverDuckDB {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	store, err := history.Open(ctx, cfg.History.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s history: %w", cfg.History.Driver, err)
	}
	return store, nil
}

// withHistory loads the configuration, opens the store and runs fn.
func withHistory(cmd *cobra.Command, fn func(ctx context.Context, store history.Store, cfg *config.Config) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	store, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store, cfg)
}

func checkFormat(format string) error {
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
	return nil
}

func runHistoryRecent(cmd *cobra.Command, _ []string) error {
	if err := checkFormat(historyFormat); err != nil {
		return err
	}
	if historyLimit <= 0 {
		return fmt.Errorf("invalid limit %d: must be positive", historyLimit)
	}
	return withHistory(cmd, func(ctx context.Context, store history.Store, _ *config.Config) error {
		events, err := store.Recent(ctx, historyLimit)
		if err != nil {
			return fmt.Errorf("query history: %w", err)
		}
		out := cmd.OutOrStdout()
		if historyFormat == "json" {
			if events == nil {
				events = []history.Event{}
			}
			return writeJSON(out, events)
		}
		if len(events) == 0 {
			fmt.Fprintln(out, "No posture events recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tPOSTURE\tID")
		for _, e := range events {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Timestamp.Local().Format(time.DateTime), postureLabel(e.Type), e.ID)
		}
		return tw.Flush()
	})
}

// statsView is the JSON shape of the stats command
type statsView struct {
	Today statsRow   `json:"today"`
	Week  []statsRow `json:"week"`
}

type statsRow struct {
	Date  string `json:"date"`
	Good  int    `json:"good"`
	Bad   int    `json:"bad"`
	Score int    `json:"score"`
}

func newStatsRow(d history.DailyStats) statsRow {
	return statsRow{Date: d.Date.Format(time.DateOnly), Good: d.Good, Bad: d.Bad, Score: d.Score()}
}

func runHistoryStats(cmd *cobra.Command, _ []string) error {
	if err := checkFormat(historyFormat); err != nil {
		return err
	}
	return withHistory(cmd, func(ctx context.Context, store history.Store, _ *config.Config) error {
		t := now()
		today, err := history.Today(ctx, store, t)
		if err != nil {
			return fmt.Errorf("query today's stats: %w", err)
		}
		week, err := history.Week(ctx, store, t)
		if err != nil {
			return fmt.Errorf("query weekly stats: %w", err)
		}

		view := statsView{Today: newStatsRow(today)}
		for _, d := range week {
			view.Week = append(view.Week, newStatsRow(d))
		}

		out := cmd.OutOrStdout()
		if historyFormat == "json" {
			return writeJSON(out, view)
		}
		fmt.Fprintf(out, "Today: %d good, %d bad, score %d%%\n\n", today.Good, today.Bad, today.Score())
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DATE\tGOOD\tBAD\tSCORE")
		for _, row := range view.Week {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d%%\n", row.Date, row.Good, row.Bad, row.Score)
		}
		return tw.Flush()
	})
}

func runHistoryPrune(cmd *cobra.Command, _ []string) error {
	if historyOlderThan < 0 {
		return fmt.Errorf("invalid --older-than %s: must not be negative", historyOlderThan)
	}
	return withHistory(cmd, func(ctx context.Context, store history.Store, cfg *config.Config) error {
		age := historyOlderThan
		if age == 0 {
			age = cfg.History.Retention
		}
		if age == 0 {
			return errors.New("nothing to prune: history.retention is 0 and --older-than was not given")
		}
		cutoff := now().Add(-age)
		n, err := store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d events recorded before %s\n", n, cutoff.Local().Format(time.DateTime))
		return nil
	})
}

func runHistoryClear(cmd *cobra.Command, _ []string) error {
	if !historyYes {
		return errors.New("refusing to delete the whole history without --yes")
	}
	return withHistory(cmd, func(ctx context.Context, store history.Store, _ *config.Config) error {
		if err := store.DeleteAll(ctx); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
		return nil
	})
}

func postureLabel(t history.EventType) string {
	if t == history.GoodPosture {
		return "good"
	}
	return "bad"
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
