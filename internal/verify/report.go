package verify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"discnorm/internal/dat"
)

// Status is the sidecar verification status.
type Status string

const (
	StatusMatch   Status = "match"
	StatusPartial Status = "partial"
	StatusNone    Status = "none"
)

// GameInfo names the identified game in a sidecar.
type GameInfo struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}

// Report is the per-disc verification outcome persisted as a JSON sidecar.
type Report struct {
	Game      *GameInfo `json:"game,omitempty"`
	Message   string    `json:"message"`
	Status    Status    `json:"status"`
	Timestamp string    `json:"timestamp"`

	// Verified is true for exact matches and, when accepted, closest matches.
	Verified bool `json:"-"`
	// SizeMatch is the catalog's tag for a size-based pick: StatusMatch
	// when the combined size is identical, StatusClosest otherwise. Empty
	// for exact and none reports.
	SizeMatch dat.MatchStatus `json:"-"`
	// Candidates lists the other games sharing the same combined size.
	Candidates []string `json:"-"`
	// Similarity scores the group name against the size-based game's name.
	Similarity float64 `json:"-"`
}

func newReport(status Status, message string) *Report {
	return &Report{
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// SidecarPath returns the sidecar location for an output image.
func SidecarPath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + ".json"
}

// EncodeSidecar renders report as the indented JSON stored in sidecars.
func EncodeSidecar(report *Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode sidecar: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteSidecar writes report as indented JSON to path.
func WriteSidecar(path string, report *Report) error {
	data, err := EncodeSidecar(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// ReadSidecar loads a sidecar written by WriteSidecar.
func ReadSidecar(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode sidecar %s: %w", path, err)
	}
	switch report.Status {
	case StatusMatch, StatusPartial, StatusNone:
	default:
		return nil, fmt.Errorf("sidecar %s has unknown status %q", path, report.Status)
	}
	report.Verified = report.Status == StatusMatch
	return &report, nil
}
