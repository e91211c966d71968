package cue

import (
	"fmt"
	"strconv"
	"strings"

	"discnorm/internal/services"
)

const (
	// FramesPerSecond is the number of sectors in one second of disc time.
	FramesPerSecond = 75
	// FramesPerMinute is the number of sectors in one minute of disc time.
	FramesPerMinute = 60 * FramesPerSecond
)

// SectorsToTimestamp formats a sector count as MM:SS:FF.
func SectorsToTimestamp(sectors int) string {
	if sectors < 0 {
		sectors = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d",
		sectors/FramesPerMinute,
		(sectors%FramesPerMinute)/FramesPerSecond,
		sectors%FramesPerSecond)
}

// TimestampToSectors parses MM:SS:FF into a sector count.
func TimestampToSectors(ts string) (int, error) {
	parts := strings.Split(strings.TrimSpace(ts), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: timestamp %q is not MM:SS:FF", services.ErrParsing, ts)
	}
	values := [3]int{}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: timestamp %q has invalid field %q", services.ErrParsing, ts, part)
		}
		values[i] = n
	}
	mm, ss, ff := values[0], values[1], values[2]
	if ss >= 60 {
		return 0, fmt.Errorf("%w: timestamp %q seconds out of range", services.ErrParsing, ts)
	}
	if ff >= FramesPerSecond {
		return 0, fmt.Errorf("%w: timestamp %q frames out of range", services.ErrParsing, ts)
	}
	return mm*FramesPerMinute + ss*FramesPerSecond + ff, nil
}
