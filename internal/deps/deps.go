package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"discnorm/internal/config"
)

// Requirement defines an external converter discnorm shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// ToolRequirements lists the configured converters. Archive binaries are
// optional when the in-process extractor is enabled, since they only serve
// as a fallback.
func ToolRequirements(cfg config.Tools) []Requirement {
	return []Requirement{
		{Name: "chdman", Command: cfg.Chdman, Description: "Required for CHD compression and extraction"},
		{Name: "7z", Command: cfg.SevenZip, Description: "Extracts zip and 7z archives", Optional: cfg.NativeArchives},
		{Name: "unrar", Command: cfg.Unrar, Description: "Extracts rar archives", Optional: cfg.NativeArchives},
		{Name: "unecm", Command: cfg.Unecm, Description: "Decodes .ecm images", Optional: true},
		{Name: "mdf2iso", Command: cfg.Mdf2Iso, Description: "Converts .mdf images", Optional: true},
		{Name: "poweriso", Command: cfg.PowerISO, Description: "Converts .iso and .nrg images to .bin", Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			path, err := exec.LookPath(cmd)
			if err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
				break
			}
			status.Available = true
			if path != cmd {
				status.Detail = path
			}
		}
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the required dependencies that are unavailable.
func MissingRequired(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}
