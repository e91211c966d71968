package preflight

import (
	"strings"

	"discnorm/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the applicable checks for cfg.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	if strings.TrimSpace(cfg.Paths.SourceDir) != "" {
		results = append(results, CheckDirectoryReadable("Source directory", cfg.Paths.SourceDir))
	}
	if strings.TrimSpace(cfg.Paths.OutputDir) != "" {
		results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))
	}
	results = append(results,
		CheckDirectoryAccess("Temp directory", cfg.Paths.TempDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	)
	if strings.TrimSpace(cfg.Verify.DatPath) != "" {
		results = append(results, CheckDat(cfg.Verify.DatPath))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
