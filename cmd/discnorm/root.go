package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	ctx := newCommandContext(flags)

	rootCmd := &cobra.Command{
		Use:           "discnorm",
		Short:         "Normalize disc dumps into verified CHD images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig(cmd)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Configuration file path")
	pf.StringVarP(&flags.sourceDir, "source-dir", "s", "", "Directory holding raw dumps")
	pf.StringVarP(&flags.outputDir, "output-dir", "o", "", "Directory receiving .chd images and sidecars")
	pf.StringVarP(&flags.tempDir, "temp-dir", "t", "", "Parent directory for scratch workspaces")
	pf.BoolVarP(&flags.overwrite, "overwrite", "w", false, "Replace existing outputs")
	pf.BoolVarP(&flags.removeSource, "remove-source", "r", false, "Delete a group's source files after its output is written")
	pf.BoolVarP(&flags.force, "force", "f", false, "Accept closest-size catalog matches")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newCompressCommand(ctx))
	rootCmd.AddCommand(newVerifyCommand(ctx))
	rootCmd.AddCommand(newRenameCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newCleanCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
