package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"discnorm/internal/config"
	"discnorm/internal/pipeline"
	"discnorm/internal/services"
	"discnorm/internal/verify"
	"discnorm/internal/watch"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var datPath string
	var initial bool
	var verifyOutput bool

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Convert dumps as they arrive in a directory",
		Long: `Watch a directory (default: the source directory) and convert each disc
once the directory has been quiet for watch.settle_seconds. Runs until
interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			dir := sess.cfg.Paths.SourceDir
			if len(args) == 1 {
				if dir, err = config.ExpandPath(args[0]); err != nil {
					return err
				}
			}
			if strings.TrimSpace(dir) == "" {
				return fmt.Errorf("%w: no directory to watch; pass one or set --source-dir", services.ErrConfiguration)
			}
			if err := requireTools(sess.cfg); err != nil {
				return err
			}

			opts := pipeline.OptionsFromConfig(sess.cfg)
			opts.VerifyOutput = verifyOutput
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

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			handle := func(ctx context.Context, g pipeline.Group) {
				result, _ := p.Run(ctx, g)
				label := services.FailureLabel(result.Err)
				sess.record(ctx, compressRun(result, label))
				fmt.Fprintln(out, renderStatusLine(result.Group, resultKind(result, label), describeResult(result), colorize))
			}

			w := watch.New(dir, sess.store, watch.Options{
				Settle:  sess.cfg.SettleDuration(),
				Initial: initial,
			}, handle, sess.logger)
			return w.Run(sess.withRunID(cmd.Context()))
		},
	}

	cmd.Flags().StringVar(&datPath, "dat", "", "DAT file to verify against (overrides verify.dat_path)")
	cmd.Flags().BoolVar(&initial, "initial", false, "Also convert files already present when watching starts")
	cmd.Flags().BoolVar(&verifyOutput, "verify-output", false, "Run chdman verify on each new image")
	return cmd
}
