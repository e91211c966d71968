package cue

import (
	"fmt"
	"path/filepath"
	"strings"
)

// TrackFile is one per-track bin file and the tracks recorded for it.
type TrackFile struct {
	File      File
	Size      int64
	BlockSize int
}

func (tf TrackFile) sectors() int {
	block := tf.BlockSize
	if block <= 0 {
		block = DefaultBlockSize
	}
	return int(tf.Size / int64(block))
}

// GenerateMergedSheet folds per-track files into one FILE "<base>.bin"
// block. Each index is shifted by the sector count of all prior files.
func GenerateMergedSheet(base string, files []TrackFile) (*Sheet, error) {
	merged := File{Name: base + ".bin", Type: "BINARY"}
	offset := 0
	for _, tf := range files {
		for _, t := range tf.File.Tracks {
			out := Track{Number: t.Number, Type: t.Type}
			for _, idx := range t.Indexes {
				sectors, err := idx.Sectors()
				if err != nil {
					return nil, err
				}
				out.Indexes = append(out.Indexes, Index{ID: idx.ID, Timestamp: SectorsToTimestamp(offset + sectors)})
			}
			merged.Tracks = append(merged.Tracks, out)
		}
		offset += tf.sectors()
	}
	sheet := &Sheet{Files: []File{merged}}
	if err := sheet.Validate(); err != nil {
		return nil, err
	}
	return sheet, nil
}

// GenerateSplitSheet emits one FILE block per track of a merged sheet.
// Indexes are rebased so each track's earliest index is at 00:00:00.
func GenerateSplitSheet(base string, merged *Sheet) (*Sheet, error) {
	total := merged.TrackCount()
	out := &Sheet{Metadata: merged.Metadata}
	for _, f := range merged.Files {
		for _, t := range f.Tracks {
			first := -1
			for _, idx := range t.Indexes {
				sectors, err := idx.Sectors()
				if err != nil {
					return nil, err
				}
				if first < 0 || sectors < first {
					first = sectors
				}
			}
			track := Track{Number: t.Number, Type: t.Type}
			for _, idx := range t.Indexes {
				sectors, _ := idx.Sectors()
				track.Indexes = append(track.Indexes, Index{ID: idx.ID, Timestamp: SectorsToTimestamp(sectors - first)})
			}
			out.Files = append(out.Files, File{
				Name:   SplitTrackFileName(base, t.Number, total),
				Type:   "BINARY",
				Tracks: []Track{track},
			})
		}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// SplitTrackFileName applies redump naming for track n of total.
func SplitTrackFileName(base string, n, total int) string {
	switch {
	case total <= 1:
		return base + ".bin"
	case total <= 9:
		return fmt.Sprintf("%s (Track %d).bin", base, n)
	default:
		return fmt.Sprintf("%s (Track %02d).bin", base, n)
	}
}

// CreateCueFile returns a single-track MODE2/2352 sheet for the given bin.
func CreateCueFile(binPath string) string {
	return Serialize(&Sheet{Files: []File{{
		Name: filepath.Base(binPath),
		Type: "BINARY",
		Tracks: []Track{{
			Number:  1,
			Type:    "MODE2/2352",
			Indexes: []Index{{ID: 1, Timestamp: "00:00:00"}},
		}},
	}}})
}

// RenameFile rewrites FILE references matching oldName (case-insensitive,
// compared by base name) to newName. It returns the number of references changed.
func (s *Sheet) RenameFile(oldName, newName string) int {
	changed := 0
	for i := range s.Files {
		if strings.EqualFold(filepath.Base(s.Files[i].Name), filepath.Base(oldName)) {
			s.Files[i].Name = newName
			changed++
		}
	}
	return changed
}
