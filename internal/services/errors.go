package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParsing marks malformed CUE, CCD, or DAT input.
	ErrParsing = errors.New("parsing error")
	// ErrExtraction marks a single handler failure inside the extraction loop.
	ErrExtraction = errors.New("extraction error")
	// ErrVerification marks content that does not match the reference catalog.
	ErrVerification = errors.New("verification error")
	// ErrFatalPipeline marks a failure that aborts the current group.
	ErrFatalPipeline = errors.New("fatal pipeline error")
	ErrExternalTool  = errors.New("external tool error")
	ErrTimeout       = errors.New("timeout")
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker. The marker should be one of the sentinels above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExtraction
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureLabel maps an error to the status label persisted in run history.
func FailureLabel(err error) string {
	switch {
	case err == nil:
		return "succeeded"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrFatalPipeline) && strings.Contains(err.Error(), "already exists"):
		return "skipped"
	default:
		return "failed"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
