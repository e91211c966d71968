package ccd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"discnorm/internal/services"
	"discnorm/internal/storage"
)

// PregapSeconds is subtracted from every entry's PSec. CloneCD records
// track starts including the mandatory two second pregap. The subtraction
// is unguarded: an entry at 00:00 or 00:01 yields a negative seconds field.
const PregapSeconds = 2

// DataControl is the Control value CloneCD writes for data tracks.
const DataControl = 0x04

// maxTrackPoint is the highest Point that names a real track; A0/A1/A2
// and other lead-in pointers sit above it.
const maxTrackPoint = 0x63

// ImageExtensions lists the image extensions probed next to a .ccd, in order.
var ImageExtensions = []string{".img", ".bin", ".iso"}

// ErrNoImage reports that no image file sits next to the .ccd.
var ErrNoImage = errors.New("no image file found")

// Entry is one [Entry N] section.
type Entry struct {
	Index   int
	Point   int
	Control int
	Session int
	PMin    int
	PSec    int
	PFrame  int
	PLBA    int
}

// ParseEntries reads the [Entry N] sections of a CCD file in file order.
// Other sections are ignored.
func ParseEntries(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var entries []Entry
	var current *Entry
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section := strings.TrimSpace(line[1 : len(line)-1])
			current = nil
			name, number, ok := strings.Cut(section, " ")
			if !ok || !strings.EqualFold(name, "Entry") {
				continue
			}
			n, err := strconv.Atoi(strings.TrimSpace(number))
			if err != nil {
				return nil, fmt.Errorf("%w: ccd line %d: bad section %q", services.ErrParsing, lineNo, section)
			}
			entries = append(entries, Entry{Index: n, Session: 1})
			current = &entries[len(entries)-1]
			continue
		}
		if current == nil {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if err := current.set(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, fmt.Errorf("%w: ccd line %d: %v", services.ErrParsing, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ccd: %w", err)
	}
	return entries, nil
}

func (e *Entry) set(key, value string) error {
	var target *int
	switch strings.ToLower(key) {
	case "point":
		target = &e.Point
	case "control":
		target = &e.Control
	case "session":
		target = &e.Session
	case "pmin":
		target = &e.PMin
	case "psec":
		target = &e.PSec
	case "pframe":
		target = &e.PFrame
	case "plba":
		target = &e.PLBA
	default:
		return nil
	}
	n, err := parseInt(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = n
	return nil
}

// parseInt accepts decimal and 0x-prefixed hex values.
func parseInt(value string) (int, error) {
	base := 10
	if lower := strings.ToLower(value); strings.HasPrefix(lower, "0x") {
		value, base = value[2:], 16
	}
	n, err := strconv.ParseInt(value, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", value)
	}
	return int(n), nil
}

// TrackType classifies an entry by its Control byte.
func (e Entry) TrackType() string {
	if e.Control == DataControl {
		return "MODE1/2352"
	}
	return "AUDIO"
}

// Timestamp returns the entry start with the pregap removed.
func (e Entry) Timestamp() string {
	minutes, seconds := e.PMin, e.PSec
	if seconds == 0 {
		if minutes >= 1 {
			minutes--
			seconds = 60
		} else {
			minutes, seconds = 0, 0
		}
	}
	seconds -= PregapSeconds
	return fmt.Sprintf("%02d:%02d:%02d", minutes, seconds, e.PFrame)
}

// Render emits CUE text for entries against the named image file.
func Render(entries []Entry, imageName string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "FILE \"%s\" BINARY\n", imageName)
	started := false
	track := 0
	for _, e := range entries {
		if !started {
			if e.PLBA != 0 {
				continue
			}
			started = true
		}
		if e.Point > maxTrackPoint {
			continue
		}
		track++
		fmt.Fprintf(&b, "  TRACK %02d %s\n", track, e.TrackType())
		fmt.Fprintf(&b, "    INDEX %02d %s\n", e.Session, e.Timestamp())
	}
	if track == 0 {
		return "", fmt.Errorf("%w: ccd has no track entries", services.ErrParsing)
	}
	return b.String(), nil
}

// FindImage returns the image file next to ccdPath, probing
// ImageExtensions in order.
func FindImage(store storage.Storage, ccdPath string) (string, error) {
	base := strings.TrimSuffix(ccdPath, filepath.Ext(ccdPath))
	for _, ext := range ImageExtensions {
		if candidate := base + ext; store.IsFile(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrNoImage, ccdPath)
}

// Convert reads the CCD at path and returns CUE text together with the
// image path the text references.
func Convert(store storage.Storage, path string) (string, string, error) {
	image, err := FindImage(store, path)
	if err != nil {
		return "", "", err
	}
	data, err := store.Read(path)
	if err != nil {
		return "", "", fmt.Errorf("read ccd: %w", err)
	}

	entries, err := ParseEntries(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}
	text, err := Render(entries, filepath.Base(image))
	if err != nil {
		return "", "", err
	}
	return text, image, nil
}

// WriteCue converts the CCD at path and writes <base>.cue next to it.
func WriteCue(store storage.Storage, path string) (string, error) {
	text, _, err := Convert(store, path)
	if err != nil {
		return "", err
	}
	cuePath := strings.TrimSuffix(path, filepath.Ext(path)) + ".cue"
	if err := store.Write(cuePath, []byte(text)); err != nil {
		return "", fmt.Errorf("write cue: %w", err)
	}
	return cuePath, nil
}
