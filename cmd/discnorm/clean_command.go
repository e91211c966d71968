package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"discnorm/internal/logging"
	"discnorm/internal/staging"
)

func newCleanCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration
	var historyAge time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale scratch workspaces",
		Long: `Remove workspaces under the temp directory that are older than --max-age.
Workspaces are normally removed when a run ends; stale ones are left by runs
that were killed. With --history-age, run history older than that is pruned
as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			out := cmd.OutOrStdout()
			result := staging.CleanStale(cmd.Context(), sess.cfg.Paths.TempDir, maxAge, sess.logger)
			for _, path := range result.Removed {
				fmt.Fprintf(out, "Removed %s\n", path)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "Failed to remove %s: %v\n", e.Path, e.Error)
			}
			fmt.Fprintf(out, "%d stale workspace(s) removed\n", len(result.Removed))

			if historyAge > 0 && sess.history != nil {
				pruned, err := sess.history.Prune(cmd.Context(), time.Now().Add(-historyAge))
				if err != nil {
					return err
				}
				sess.logger.Info("run history pruned",
					logging.Int64("rows", pruned),
					logging.String(logging.FieldEventType, "history_pruned"),
				)
				fmt.Fprintf(out, "%d history record(s) pruned\n", pruned)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d workspace(s) could not be removed", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "Remove workspaces older than this")
	cmd.Flags().DurationVar(&historyAge, "history-age", 0, "Also prune run history older than this (0 keeps everything)")
	return cmd
}
