package verify

import (
	"fmt"
	"io"
	"path/filepath"

	"discnorm/internal/cue"
	"discnorm/internal/storage"
	"discnorm/internal/textutil"
)

// SplitMergedBin splits a single-file multi-track image into one bin per
// track using redump naming, rewrites the cue to match, and removes the
// merged bin. Each track starts at its earliest index, so a pregap belongs
// to the track it precedes. Sheets that are already split are left alone.
// It returns the resulting cue and bin paths.
func SplitMergedBin(store storage.Storage, cuePath string) ([]string, error) {
	sheet, err := cue.ParseFile(store, cuePath)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(cuePath)
	if len(sheet.Files) != 1 || sheet.TrackCount() <= 1 {
		return sheetFiles(cuePath, sheet), nil
	}

	merged := filepath.Join(dir, sheet.Files[0].Name)
	size, err := store.Size(merged)
	if err != nil {
		return nil, fmt.Errorf("stat merged bin: %w", err)
	}
	in, err := store.Open(merged)
	if err != nil {
		return nil, fmt.Errorf("open merged bin: %w", err)
	}

	tracks := sheet.Files[0].Tracks
	starts := make([]int64, len(tracks))
	for i, t := range tracks {
		first := -1
		for _, idx := range t.Indexes {
			s, err := idx.Sectors()
			if err != nil {
				in.Close()
				return nil, err
			}
			if first < 0 || s < first {
				first = s
			}
		}
		if first < 0 {
			in.Close()
			return nil, fmt.Errorf("track %02d has no index", t.Number)
		}
		starts[i] = int64(first) * int64(t.BlockSize())
	}

	base := textutil.BaseName(cuePath)
	out := []string{cuePath}
	for i, t := range tracks {
		end := size
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if end < starts[i] || end > size {
			in.Close()
			return nil, fmt.Errorf("track %02d spans beyond %s", t.Number, filepath.Base(merged))
		}
		dest := filepath.Join(dir, cue.SplitTrackFileName(base, t.Number, len(tracks)))
		if err := copySection(store, in, starts[i], end-starts[i], dest); err != nil {
			in.Close()
			return nil, err
		}
		out = append(out, dest)
	}
	in.Close()

	split, err := cue.GenerateSplitSheet(base, sheet)
	if err != nil {
		return nil, err
	}
	if err := store.Write(cuePath, []byte(cue.Serialize(split))); err != nil {
		return nil, fmt.Errorf("write split cue: %w", err)
	}
	if err := store.Remove(merged); err != nil {
		return nil, fmt.Errorf("remove merged bin: %w", err)
	}
	return out, nil
}

func copySection(store storage.Storage, in io.ReaderAt, offset, length int64, dest string) error {
	out, err := store.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.NewSectionReader(in, offset, length)); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(dest), err)
	}
	return out.Close()
}

// sheetFiles returns cuePath followed by the files its sheet references.
func sheetFiles(cuePath string, sheet *cue.Sheet) []string {
	dir := filepath.Dir(cuePath)
	files := []string{cuePath}
	for _, name := range sheet.FileNames() {
		files = append(files, filepath.Join(dir, name))
	}
	return files
}
