package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nao1215/spindle/internal/config"
	"github.com/nao1215/spindle/internal/model"
	"github.com/nao1215/spindle/internal/store"
	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past crawl runs",
		Long: `History lists summaries of past crawl runs stored in the local
database, newest first. With a run ID argument it shows the per-status
page counts for that run instead.

Examples:
  # List the last 10 runs
  spindle history

  # List the last 50 runs
  spindle history --limit 50

  # Show page counts for a specific run
  spindle history 3f2a9c1e-...

  # Machine-readable output
  spindle history --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "l", 10, "Maximum number of runs to list")
	cmd.Flags().BoolP("json", "j", false, "Output JSON instead of text")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	db, err := store.Open(config.XDGDataDir(), store.Options{CreateIfNotExists: false, EnableWAL: true})
	if err != nil {
		return fmt.Errorf("no crawl history found (run a crawl first): %w", err)
	}
	defer db.Close()

	if len(args) == 1 {
		return showRunDetail(cmd, db, args[0], asJSON)
	}
	return listRuns(cmd, db, limit, asJSON)
}

// listRuns prints the stored run summaries, newest first.
func listRuns(cmd *cobra.Command, db *store.Store, limit int, asJSON bool) error {
	summaries, err := db.ListSummaries(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if asJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No crawl runs recorded.")
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-36s  %-20s  %-9s  %-6s  %s\n",
		"RUN ID", "STARTED", "ELAPSED", "PAGES", "SEEDS")
	for _, s := range summaries {
		status := ""
		if s.Cancelled {
			status = " (cancelled)"
		}
		fmt.Fprintf(out, "%-36s  %-20s  %-9s  %-6d  %s%s\n",
			s.RunID,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.Elapsed().Round(time.Second),
			s.TotalPages(),
			strings.Join(s.Seeds, ", "),
			status,
		)
	}
	return nil
}

// showRunDetail prints the per-status page counts for one run.
func showRunDetail(cmd *cobra.Command, db *store.Store, runID string, asJSON bool) error {
	counts, err := db.CountByStatus(cmd.Context(), runID)
	if err != nil {
		return fmt.Errorf("failed to count pages for run %s: %w", runID, err)
	}

	if asJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(counts)
	}

	out := cmd.OutOrStdout()
	if len(counts) == 0 {
		fmt.Fprintf(out, "No pages recorded for run %s.\n", runID)
		return nil
	}

	fmt.Fprintf(out, "Run %s:\n", runID)
	total := 0
	for _, status := range []model.Status{
		model.StatusSuccess,
		model.StatusDuplicate,
		model.StatusLowQuality,
		model.StatusFailed,
		model.StatusEmpty,
		model.StatusDiscarded,
	} {
		if n, ok := counts[status]; ok {
			fmt.Fprintf(out, "  %-12s %d\n", status, n)
			total += n
		}
	}
	fmt.Fprintf(out, "  %-12s %d\n", "total", total)
	return nil
}
