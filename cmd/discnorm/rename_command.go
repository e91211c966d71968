package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"discnorm/internal/config"
	"discnorm/internal/history"
	"discnorm/internal/rename"
	"discnorm/internal/services"
)

func newRenameCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "rename [dir]",
		Short: "Rename images to the game named in their sidecars",
		Long: `Rename each <name>.chd and its <name>.json sidecar to the catalog game
name recorded in the sidecar. Only exact matches are renamed unless --force
is given, which also accepts closest-size matches. Defaults to the output
directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			dir := sess.cfg.Paths.OutputDir
			if len(args) == 1 {
				if dir, err = config.ExpandPath(args[0]); err != nil {
					return err
				}
			}
			if strings.TrimSpace(dir) == "" {
				return fmt.Errorf("%w: no directory; pass one or set --output-dir", services.ErrConfiguration)
			}

			renamer := rename.New(sess.store, rename.Options{
				Force:  sess.cfg.Verify.AcceptClosest,
				DryRun: dryRun,
			}, sess.logger)

			runCtx := sess.withRunID(cmd.Context())
			actions, runErr := renamer.RenameDir(runCtx, dir)
			for _, a := range actions {
				if dryRun {
					break
				}
				run := history.Run{
					Command:      "rename",
					Group:        strings.TrimSuffix(filepath.Base(a.Image), filepath.Ext(a.Image)),
					Source:       a.Image,
					Verification: string(a.Status),
					Game:         a.Game,
					Status:       "skipped",
				}
				if a.Renamed {
					run.Status = "succeeded"
					run.Output = a.Target
				} else if a.Skip != "" {
					run.Error = a.Skip
				}
				sess.record(runCtx, run)
			}

			if jsonOutput {
				if err := writeJSON(cmd, actions); err != nil {
					return err
				}
			} else if len(actions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sidecars found")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), renderRenameTable(actions, dryRun))
			}
			return runErr
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would be renamed without moving files")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output actions as JSON")
	return cmd
}

func renderRenameTable(actions []rename.Action, dryRun bool) string {
	rows := lo.Map(actions, func(a rename.Action, _ int) []string {
		result := "renamed"
		switch {
		case a.Skip != "":
			result = "skipped: " + a.Skip
		case dryRun:
			result = "would rename"
		case !a.Renamed:
			result = "pending"
		}
		target := ""
		if a.Target != "" {
			target = filepath.Base(a.Target)
		}
		return []string{filepath.Base(a.Image), string(a.Status), target, result}
	})
	return renderTable(
		[]string{"Image", "Status", "Target", "Result"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
	)
}
