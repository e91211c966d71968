package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"discnorm/internal/deps"
	"discnorm/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, the DAT, and external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			for _, line := range renderSectionHeader("Configuration", colorize) {
				fmt.Fprintln(out, line)
			}
			path := ctx.configPath
			if path == "" {
				path = "(defaults)"
			}
			fmt.Fprintln(out, renderStatusLine("Config file", statusInfo, path, colorize))
			results := preflight.RunAll(cfg)
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}

			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("External tools", colorize) {
				fmt.Fprintln(out, line)
			}
			statuses := deps.CheckBinaries(deps.ToolRequirements(cfg.Tools))
			for _, s := range statuses {
				kind := statusOK
				detail := s.Detail
				switch {
				case !s.Available && s.Optional:
					kind = statusWarn
					detail += " (optional: " + s.Description + ")"
				case !s.Available:
					kind = statusError
				}
				if detail == "" {
					detail = s.Command
				}
				fmt.Fprintln(out, renderStatusLine(s.Name, kind, detail, colorize))
			}

			failed := len(preflight.Failed(results)) + len(deps.MissingRequired(statuses))
			if failed > 0 {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
}
