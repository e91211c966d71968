package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"discnorm/internal/config"
	"discnorm/internal/history"
	"discnorm/internal/logging"
	"discnorm/internal/pipeline"
	"discnorm/internal/services"
	"discnorm/internal/storage"
	"discnorm/internal/verify"
)

// verifyTarget is one unit handed to the runner: either a single path
// (.chd or .cue) or a group of loose bin/cue files.
type verifyTarget struct {
	Name  string
	Path  string
	Files []string
}

type verifyEntry struct {
	Input    string         `json:"input"`
	Status   string         `json:"status"`
	Verified bool           `json:"verified"`
	Game     string         `json:"game,omitempty"`
	Message  string         `json:"message,omitempty"`
	Report   *verify.Report `json:"report,omitempty"`
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var datPath string
	var jsonOutput bool
	var writeMetadata bool

	cmd := &cobra.Command{
		Use:   "verify [path...]",
		Short: "Verify images against a DAT catalog",
		Long: `Verify .chd images, cue sheets, or directories of bin/cue files against
a DAT catalog by SHA-1. With no arguments the source directory is verified.

Exact matches report "match". When no exact match exists the closest game by
combined track size is reported as "partial"; --force accepts it as verified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			catalog, err := sess.loadDat(datPath)
			if err != nil {
				return err
			}
			if catalog == nil {
				return fmt.Errorf("%w: verify requires a DAT; set verify.dat_path or pass --dat", services.ErrConfiguration)
			}
			runner := verify.NewRunner(catalog, sess.cfg.Verify,
				verify.WithLogger(sess.logger),
				verify.WithCHDExtractor(sess.tools, sess.store, sess.registry),
			)

			runCtx := sess.withRunID(cmd.Context())
			targets, err := verifyTargets(runCtx, sess.store, args, sess.cfg.Paths.SourceDir)
			if err != nil {
				return err
			}

			entries := make([]verifyEntry, 0, len(targets))
			unverified := 0
			for _, target := range targets {
				if err := runCtx.Err(); err != nil {
					return err
				}
				entry := verifyOne(runCtx, sess, runner, target, writeMetadata)
				if !entry.Verified {
					unverified++
				}
				entries = append(entries, entry)
			}

			if jsonOutput {
				if err := writeJSON(cmd, entries); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), renderVerifyTable(entries))
			}
			if unverified > 0 {
				return fmt.Errorf("%d of %d inputs not verified", unverified, len(entries))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&datPath, "dat", "", "DAT file to verify against (overrides verify.dat_path)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&writeMetadata, "write-metadata", false, "Write a JSON sidecar next to each verified .chd")
	return cmd
}

func verifyOne(ctx context.Context, sess *session, runner *verify.Runner, target verifyTarget, writeMetadata bool) verifyEntry {
	groupCtx := services.WithGroup(ctx, target.Name)
	started := time.Now()

	var report *verify.Report
	var err error
	if target.Path != "" {
		report, err = runner.VerifyPath(groupCtx, target.Path)
	} else {
		report, err = runner.VerifyFiles(groupCtx, target.Name, target.Files)
	}

	entry := verifyEntry{Input: target.Name}
	run := history.Run{
		Command:  "verify",
		Group:    target.Name,
		Source:   target.Path,
		Duration: time.Since(started),
	}
	if err != nil {
		entry.Status = "error"
		entry.Message = err.Error()
		run.Status = services.FailureLabel(err)
		run.Error = err.Error()
		sess.record(groupCtx, run)
		return entry
	}

	entry.Status = string(report.Status)
	entry.Verified = report.Verified
	entry.Message = report.Message
	entry.Report = report
	if report.Game != nil {
		entry.Game = report.Game.Name
		run.Game = report.Game.Name
	}
	run.Verification = string(report.Status)
	run.Status = "succeeded"
	if !report.Verified {
		run.Status = "failed"
	}
	sess.record(groupCtx, run)

	if writeMetadata && pipeline.FormatOf(target.Path) == pipeline.FormatCHD {
		sidecar := verify.SidecarPath(target.Path)
		if err := verify.WriteSidecar(sidecar, report); err != nil {
			logging.WarnWithContext(logging.WithContext(groupCtx, sess.logger), "sidecar not written", "sidecar_failed",
				logging.String("path", sidecar),
				logging.Error(err),
				logging.String(logging.FieldImpact, "rename cannot use this result"),
			)
		}
	}
	return entry
}

// verifyTargets expands arguments into verification units. Directories
// contribute each .chd on its own and their loose files grouped by disc.
func verifyTargets(ctx context.Context, store storage.Storage, args []string, sourceDir string) ([]verifyTarget, error) {
	if len(args) == 0 {
		if strings.TrimSpace(sourceDir) == "" {
			return nil, fmt.Errorf("%w: no input; pass paths or set --source-dir", services.ErrConfiguration)
		}
		args = []string{sourceDir}
	}

	var targets []verifyTarget
	var loose []string
	for _, arg := range args {
		path, err := config.ExpandPath(arg)
		if err != nil {
			return nil, err
		}
		if !store.IsDirectory(path) {
			if err := storage.GuardFileExists(store, path); err != nil {
				return nil, err
			}
			switch pipeline.FormatOf(path) {
			case pipeline.FormatCHD, pipeline.FormatCue:
				targets = append(targets, verifyTarget{Name: pipeline.GroupKey(path), Path: path})
			default:
				loose = append(loose, path)
			}
			continue
		}
		paths, err := store.List(path, storage.ListOptions{AvoidHiddenFiles: true})
		if err != nil {
			return nil, err
		}
		files := lo.FilterMap(storage.Probe(ctx, store, paths), func(e storage.Entry, _ int) (string, bool) {
			return e.Path, e.IsFile
		})
		for _, file := range files {
			if pipeline.FormatOf(file) == pipeline.FormatCHD {
				targets = append(targets, verifyTarget{Name: pipeline.GroupKey(file), Path: file})
				continue
			}
			loose = append(loose, file)
		}
	}

	for _, g := range pipeline.GroupFiles(store, loose) {
		targets = append(targets, verifyTarget{Name: g.Name, Files: g.Files})
	}
	return targets, nil
}

func renderVerifyTable(entries []verifyEntry) string {
	rows := lo.Map(entries, func(e verifyEntry, _ int) []string {
		return []string{filepath.Base(e.Input), e.Status, yesNo(e.Verified), e.Game, e.Message}
	})
	return renderTable(
		[]string{"Input", "Status", "Verified", "Game", "Message"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}
