package cue

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	fileLine       = regexp.MustCompile(`(?i)^FILE\s+(?:"([^"]*)"|(\S+))\s+(\S+)$`)
	trackLine      = regexp.MustCompile(`(?i)^TRACK\s+(\d+)\s+(\S+)$`)
	indexLine      = regexp.MustCompile(`(?i)^INDEX\s+(\d+)\s+(\d+:\d+:\d+)$`)
	titleLine      = regexp.MustCompile(`(?i)^TITLE\s+"(.*)"$`)
	performerLine  = regexp.MustCompile(`(?i)^PERFORMER\s+"(.*)"$`)
	songwriterLine = regexp.MustCompile(`(?i)^SONGWRITER\s+"(.*)"$`)
	catalogLine    = regexp.MustCompile(`(?i)^CATALOG\s+(\S+)$`)
	isrcLine       = regexp.MustCompile(`(?i)^ISRC\s+(\S+)$`)
	commentLine    = regexp.MustCompile(`(?i)^REM\s+COMMENT\s+"(.*)"$`)
)

// Parse decodes CUE text. Keywords are case-insensitive, LF and CRLF line
// endings are accepted, and unrecognized lines are ignored.
func Parse(text string) (*Sheet, error) {
	sheet := &Sheet{}
	var file *File
	var track *Track

	for i, raw := range strings.Split(text, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(strings.TrimRight(raw, "\r"))
		if line == "" {
			continue
		}

		switch {
		case fileLine.MatchString(line):
			m := fileLine.FindStringSubmatch(line)
			name := m[1]
			if name == "" {
				name = m[2]
			}
			sheet.Files = append(sheet.Files, File{Name: name, Type: strings.ToUpper(m[3])})
			file = &sheet.Files[len(sheet.Files)-1]
			track = nil

		case trackLine.MatchString(line):
			if file == nil {
				return nil, &ParseError{Line: lineNo, Text: line, Reason: "TRACK before any FILE"}
			}
			m := trackLine.FindStringSubmatch(line)
			number, _ := strconv.Atoi(m[1])
			if number <= 0 {
				return nil, &ParseError{Line: lineNo, Text: line, Reason: "track number must be positive"}
			}
			file.Tracks = append(file.Tracks, Track{Number: number, Type: strings.ToUpper(m[2])})
			track = &file.Tracks[len(file.Tracks)-1]

		case indexLine.MatchString(line):
			if track == nil {
				return nil, &ParseError{Line: lineNo, Text: line, Reason: "INDEX before any TRACK"}
			}
			m := indexLine.FindStringSubmatch(line)
			id, _ := strconv.Atoi(m[1])
			if id > 99 {
				return nil, &ParseError{Line: lineNo, Text: line, Reason: "index id out of range"}
			}
			sectors, err := TimestampToSectors(m[2])
			if err != nil {
				return nil, &ParseError{Line: lineNo, Text: line, Reason: "invalid timestamp"}
			}
			track.Indexes = append(track.Indexes, Index{ID: id, Timestamp: SectorsToTimestamp(sectors)})

		case titleLine.MatchString(line):
			sheet.Metadata.Title = titleLine.FindStringSubmatch(line)[1]
		case performerLine.MatchString(line):
			sheet.Metadata.Performer = performerLine.FindStringSubmatch(line)[1]
		case songwriterLine.MatchString(line):
			sheet.Metadata.Songwriter = songwriterLine.FindStringSubmatch(line)[1]
		case catalogLine.MatchString(line):
			sheet.Metadata.Catalog = catalogLine.FindStringSubmatch(line)[1]
		case isrcLine.MatchString(line):
			sheet.Metadata.ISRC = isrcLine.FindStringSubmatch(line)[1]
		case commentLine.MatchString(line):
			sheet.Metadata.Comment = commentLine.FindStringSubmatch(line)[1]
		}
	}

	if err := sheet.Validate(); err != nil {
		return nil, err
	}
	return sheet, nil
}

// Reader loads file contents by path.
type Reader interface {
	Read(path string) ([]byte, error)
}

// ParseFile reads and parses the CUE sheet at path through src.
func ParseFile(src Reader, path string) (*Sheet, error) {
	data, err := src.Read(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}
