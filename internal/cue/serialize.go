package cue

import (
	"fmt"
	"strings"
)

// Serialize renders the sheet as CUE text with LF line endings.
func Serialize(s *Sheet) string {
	var b strings.Builder

	if !s.Metadata.IsZero() {
		m := s.Metadata
		if m.Catalog != "" {
			fmt.Fprintf(&b, "CATALOG %s\n", m.Catalog)
		}
		if m.Performer != "" {
			fmt.Fprintf(&b, "PERFORMER \"%s\"\n", m.Performer)
		}
		if m.Songwriter != "" {
			fmt.Fprintf(&b, "SONGWRITER \"%s\"\n", m.Songwriter)
		}
		if m.Title != "" {
			fmt.Fprintf(&b, "TITLE \"%s\"\n", m.Title)
		}
		if m.ISRC != "" {
			fmt.Fprintf(&b, "ISRC %s\n", m.ISRC)
		}
		if m.Comment != "" {
			fmt.Fprintf(&b, "REM COMMENT \"%s\"\n", m.Comment)
		}
		b.WriteByte('\n')
	}

	for _, f := range s.Files {
		fileType := f.Type
		if fileType == "" {
			fileType = "BINARY"
		}
		fmt.Fprintf(&b, "FILE \"%s\" %s\n", f.Name, fileType)
		for _, t := range f.Tracks {
			fmt.Fprintf(&b, "  TRACK %02d %s\n", t.Number, t.Type)
			for _, idx := range t.Indexes {
				fmt.Fprintf(&b, "    INDEX %02d %s\n", idx.ID, idx.Timestamp)
			}
		}
	}
	return b.String()
}
