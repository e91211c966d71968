package cue

import (
	"fmt"
	"strings"

	"discnorm/internal/services"
)

// DefaultBlockSize is the raw sector size of a CD-ROM bin track.
const DefaultBlockSize = 2352

// Sheet is a parsed CUE document. File order is physical disc order.
type Sheet struct {
	Metadata Metadata
	Files    []File
}

// Metadata holds disc-level pass-through strings.
type Metadata struct {
	Title      string
	Performer  string
	Songwriter string
	Catalog    string
	ISRC       string
	Comment    string
}

// IsZero reports whether no metadata field is set.
func (m Metadata) IsZero() bool {
	return m == Metadata{}
}

// File is one FILE block.
type File struct {
	Name   string
	Type   string
	Tracks []Track
}

// Track is one TRACK entry. Type is AUDIO or MODEn/blocksize.
type Track struct {
	Number  int
	Type    string
	Indexes []Index
}

// Index is one INDEX entry within a track.
type Index struct {
	ID        int
	Timestamp string
}

// Sectors returns the index position in sectors from the start of its file.
func (i Index) Sectors() (int, error) {
	return TimestampToSectors(i.Timestamp)
}

// IsData reports whether the track carries data rather than audio.
func (t Track) IsData() bool {
	return !strings.EqualFold(t.Type, "AUDIO")
}

// BlockSize returns the sector size encoded in the track type, or
// DefaultBlockSize when the type does not carry one.
func (t Track) BlockSize() int {
	_, size, ok := strings.Cut(t.Type, "/")
	if !ok {
		return DefaultBlockSize
	}
	var n int
	if _, err := fmt.Sscanf(size, "%d", &n); err != nil || n <= 0 {
		return DefaultBlockSize
	}
	return n
}

// TrackCount returns the number of tracks across all files.
func (s *Sheet) TrackCount() int {
	total := 0
	for _, f := range s.Files {
		total += len(f.Tracks)
	}
	return total
}

// FileNames returns the FILE references in order.
func (s *Sheet) FileNames() []string {
	names := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		names = append(names, f.Name)
	}
	return names
}

// Validate checks the structural invariants of a sheet.
func (s *Sheet) Validate() error {
	if len(s.Files) == 0 {
		return fmt.Errorf("%w: cue sheet has no FILE entries", services.ErrParsing)
	}
	for _, f := range s.Files {
		if len(f.Tracks) == 0 {
			return fmt.Errorf("%w: FILE %q has no tracks", services.ErrParsing, f.Name)
		}
		prev := 0
		for _, t := range f.Tracks {
			if t.Number <= prev {
				return fmt.Errorf("%w: FILE %q: track %d does not follow track %d", services.ErrParsing, f.Name, t.Number, prev)
			}
			prev = t.Number
			last := -1
			for _, idx := range t.Indexes {
				sectors, err := idx.Sectors()
				if err != nil {
					return err
				}
				if sectors < last {
					return fmt.Errorf("%w: track %02d: index %02d at %s goes backwards", services.ErrParsing, t.Number, idx.ID, idx.Timestamp)
				}
				last = sectors
			}
		}
	}
	return nil
}

// ParseError describes a malformed line in CUE input.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cue line %d: %s: %q", e.Line, e.Reason, e.Text)
}

func (e *ParseError) Unwrap() error {
	return services.ErrParsing
}
