package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"discnorm/internal/config"
	"discnorm/internal/deps"
	"discnorm/internal/history"
	"discnorm/internal/pipeline"
	"discnorm/internal/services"
	"discnorm/internal/storage"
	"discnorm/internal/verify"
)

func newCompressCommand(ctx *commandContext) *cobra.Command {
	var datPath string
	var verifyOutput bool
	var repack bool

	cmd := &cobra.Command{
		Use:   "compress [path...]",
		Short: "Convert dumps into CHD images",
		Long: `Convert every disc found in the given files or directories (default:
the source directory) into a CHD image in the output directory.

Archives and intermediate formats are unpacked until nothing more can be
converted. When a DAT is configured the bin/cue set is verified before
compression and a JSON sidecar is written next to the image.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			if err := requireTools(sess.cfg); err != nil {
				return err
			}

			opts := pipeline.OptionsFromConfig(sess.cfg)
			opts.VerifyOutput = verifyOutput
			if cmd.Flags().Changed("repack") {
				opts.RepackCHD = repack
			}
			options := []pipeline.Option{pipeline.WithLogger(sess.logger)}
			catalog, err := sess.loadDat(datPath)
			if err != nil {
				return err
			}
			if catalog != nil {
				options = append(options, pipeline.WithVerifier(verify.NewRunner(catalog, sess.cfg.Verify, verify.WithStorage(sess.store), verify.WithLogger(sess.logger))))
			}
			p, err := pipeline.New(sess.tools, sess.store, sess.registry, opts, options...)
			if err != nil {
				return err
			}

			runCtx := sess.withRunID(cmd.Context())
			results, runErr := runSources(runCtx, p, sess.store, args, sess.cfg.Paths.SourceDir)

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			failed := 0
			for _, result := range results {
				label := services.FailureLabel(result.Err)
				if label == "failed" || label == "canceled" {
					failed++
				}
				sess.record(runCtx, compressRun(result, label))
				fmt.Fprintln(out, renderStatusLine(result.Group, resultKind(result, label), describeResult(result), colorize))
			}
			if runErr != nil {
				return runErr
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d groups failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&datPath, "dat", "", "DAT file to verify against (overrides verify.dat_path)")
	cmd.Flags().BoolVar(&verifyOutput, "verify-output", false, "Run chdman verify on each new image")
	cmd.Flags().BoolVar(&repack, "repack", false, "Re-extract and recompress sources that are already .chd")
	return cmd
}

func requireTools(cfg *config.Config) error {
	missing := deps.MissingRequired(deps.CheckBinaries(deps.ToolRequirements(cfg.Tools)))
	if len(missing) == 0 {
		return nil
	}
	names := lo.Map(missing, func(s deps.Status, _ int) string { return s.Name + " (" + s.Detail + ")" })
	return fmt.Errorf("%w: required tools unavailable: %s; run discnorm doctor",
		services.ErrConfiguration, strings.Join(names, ", "))
}

// runSources runs directory arguments in directory mode and groups the
// remaining file arguments together. With no arguments the source
// directory is used.
func runSources(ctx context.Context, p *pipeline.Pipeline, store storage.Storage, args []string, sourceDir string) ([]*pipeline.Result, error) {
	if len(args) == 0 {
		if strings.TrimSpace(sourceDir) == "" {
			return nil, fmt.Errorf("%w: no input; pass paths or set --source-dir", services.ErrConfiguration)
		}
		args = []string{sourceDir}
	}

	var results []*pipeline.Result
	var files []string
	for _, arg := range args {
		path, err := config.ExpandPath(arg)
		if err != nil {
			return results, err
		}
		if store.IsDirectory(path) {
			dirResults, err := p.RunDirectory(ctx, path)
			results = append(results, dirResults...)
			if err != nil {
				return results, err
			}
			continue
		}
		if err := storage.GuardFileExists(store, path); err != nil {
			return results, err
		}
		files = append(files, path)
	}

	for _, g := range pipeline.GroupFiles(store, files) {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, _ := p.Run(ctx, g)
		results = append(results, result)
	}
	return results, nil
}

func describeResult(result *pipeline.Result) string {
	if result.Err != nil {
		return errorSummary(result.Err)
	}
	names := lo.Map(result.Outputs, func(path string, _ int) string { return filepath.Base(path) })
	message := strings.Join(names, ", ")
	if result.PassThrough {
		message += " (passed through)"
	}
	if report := firstReport(result); report != nil {
		message += " " + reportSummary(report)
	}
	if len(result.Failed) > 0 {
		message += fmt.Sprintf(" [%d file(s) left unconverted]", len(result.Failed))
	}
	return message
}

// resultKind downgrades a converted group whose verification did not pass.
func resultKind(result *pipeline.Result, label string) statusKind {
	kind := failureKind(label)
	if report := firstReport(result); kind == statusOK && report != nil && reportKind(report) != statusOK {
		return statusWarn
	}
	return kind
}

func errorSummary(err error) string {
	if errors.Is(err, services.ErrFatalPipeline) && strings.Contains(err.Error(), "already exists") {
		return "output already exists (use --overwrite to replace it)"
	}
	return err.Error()
}

func reportSummary(report *verify.Report) string {
	if report.Game == nil {
		return "[" + string(report.Status) + "]"
	}
	return fmt.Sprintf("[%s: %s]", report.Status, report.Game.Name)
}

func firstReport(result *pipeline.Result) *verify.Report {
	if len(result.Reports) == 0 {
		return nil
	}
	keys := lo.Keys(result.Reports)
	slices.Sort(keys)
	return result.Reports[keys[0]]
}

func compressRun(result *pipeline.Result, label string) history.Run {
	run := history.Run{
		Command:  "compress",
		Group:    result.Group,
		Output:   strings.Join(result.Outputs, ", "),
		Status:   label,
		Duration: result.Duration,
	}
	if report := firstReport(result); report != nil {
		run.Verification = string(report.Status)
		if report.Game != nil {
			run.Game = report.Game.Name
		}
	}
	if result.Err != nil {
		run.Error = result.Err.Error()
	}
	return run
}
