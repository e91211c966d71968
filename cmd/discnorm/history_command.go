package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"discnorm/internal/history"
	"discnorm/internal/services"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var status string
	var runID string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if !cfg.History.Enabled {
				return fmt.Errorf("%w: run history is disabled (history.enabled = false)", services.ErrConfiguration)
			}
			store, err := history.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), history.ListOptions{
				Limit:  limit,
				Status: strings.TrimSpace(status),
				RunID:  strings.TrimSpace(runID),
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, runs)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprintln(out, renderHistoryTable(runs))

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, formatStats(stats))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of runs to show (0 for all)")
	cmd.Flags().StringVar(&status, "status", "", "Only show runs with this status (succeeded, failed, skipped, canceled)")
	cmd.Flags().StringVar(&runID, "run", "", "Only show groups from this run id")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output runs as JSON")
	return cmd
}

func renderHistoryTable(runs []history.Run) string {
	rows := lo.Map(runs, func(r history.Run, _ int) []string {
		return []string{
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Command,
			r.Group,
			r.Status,
			r.Verification,
			r.Game,
			r.Duration.Round(time.Millisecond).String(),
		}
	})
	return renderTable(
		[]string{"When", "Command", "Group", "Status", "Verification", "Game", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func formatStats(stats map[string]int) string {
	labels := lo.Keys(stats)
	slices.Sort(labels)
	parts := lo.Map(labels, func(label string, _ int) string {
		return label + "=" + strconv.Itoa(stats[label])
	})
	return "Totals: " + strings.Join(parts, " ")
}
