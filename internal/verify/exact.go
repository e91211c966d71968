package verify

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"

	"discnorm/internal/dat"
	"discnorm/internal/fileutil"
	"discnorm/internal/services"
	"discnorm/internal/storage"
	"discnorm/internal/textutil"
)

// Options controls exact verification.
type Options struct {
	// AllowCueMismatches downgrades a cue that differs from the catalog to a warning.
	AllowCueMismatches bool
	// RequireAllTracks fails a set that omits any track rom of its game.
	RequireAllTracks bool
}

// MatchedFile pairs a verified file with its catalog rom.
type MatchedFile struct {
	Path string
	Rom  *dat.Rom
}

// Result is the outcome of an exact verification.
type Result struct {
	Game        *dat.Game
	Files       []MatchedFile
	CueMismatch bool
	Warnings    []string
}

// VerifyBinCue verifies a set of .bin files and at most one .cue against d,
// reading them through store. Files with other extensions are ignored.
func VerifyBinCue(store storage.Storage, d *dat.Dat, files []string, opts Options) (*Result, error) {
	bins := filesWithExt(files, ".bin")
	cues := filesWithExt(files, ".cue")
	if len(bins) == 0 {
		return nil, fmt.Errorf("%w: no .bin files to verify", services.ErrVerification)
	}
	if len(cues) > 1 {
		return nil, fmt.Errorf("%w: expected at most one .cue, found %d", services.ErrVerification, len(cues))
	}

	result := &Result{}
	for _, bin := range bins {
		digest, err := hashFile(store, bin)
		if err != nil {
			return nil, err
		}
		rom, ok := lo.Find(d.RomsBySHA1(digest.SHA1), func(r *dat.Rom) bool {
			return r.Size == digest.Size && textutil.SameName(r.Name, bin)
		})
		if !ok {
			return nil, &MismatchError{File: filepath.Base(bin), SHA1: digest.SHA1, Size: digest.Size}
		}
		result.Files = append(result.Files, MatchedFile{Path: bin, Rom: rom})
	}

	games := lo.UniqBy(result.Files, func(m MatchedFile) *dat.Game { return m.Rom.Game() })
	if len(games) > 1 {
		names := lo.Map(games, func(m MatchedFile, _ int) string { return m.Rom.Game().Name })
		return nil, fmt.Errorf("%w: bin files belong to different games: %s", services.ErrVerification, strings.Join(names, ", "))
	}
	result.Game = result.Files[0].Rom.Game()

	if opts.RequireAllTracks {
		if missing := missingTracks(result); len(missing) > 0 {
			return nil, fmt.Errorf("%w: %s is missing %s", services.ErrVerification, result.Game.Name, strings.Join(missing, ", "))
		}
	}

	if len(cues) == 1 {
		if err := checkCue(store, result, cues[0], opts); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func missingTracks(result *Result) []string {
	matched := lo.Map(result.Files, func(m MatchedFile, _ int) *dat.Rom { return m.Rom })
	var missing []string
	for _, rom := range result.Game.TrackRoms() {
		if !slices.Contains(matched, rom) {
			missing = append(missing, rom.Name)
		}
	}
	return missing
}

func hashFile(store storage.Storage, path string) (fileutil.Digest, error) {
	in, err := store.Open(path)
	if err != nil {
		return fileutil.Digest{}, err
	}
	defer in.Close()
	digest, err := fileutil.HashReader(in)
	if err != nil {
		return fileutil.Digest{}, fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return digest, nil
}

func checkCue(store storage.Storage, result *Result, cuePath string, opts Options) error {
	digest, err := hashFile(store, cuePath)
	if err != nil {
		return err
	}
	expected := result.Game.CueRom()
	var reason string
	switch {
	case expected == nil:
		reason = "catalog has no cue for " + result.Game.Name
	case expected.SHA1 != digest.SHA1:
		reason = fmt.Sprintf("cue sha1 %s differs from catalog %s", digest.SHA1, expected.SHA1)
	default:
		result.Files = append(result.Files, MatchedFile{Path: cuePath, Rom: expected})
		return nil
	}
	if !opts.AllowCueMismatches {
		return fmt.Errorf("%w: %s: %s", services.ErrVerification, filepath.Base(cuePath), reason)
	}
	result.CueMismatch = true
	result.Warnings = append(result.Warnings, reason)
	return nil
}

func filesWithExt(files []string, ext string) []string {
	return lo.Filter(files, func(f string, _ int) bool {
		return strings.EqualFold(filepath.Ext(f), ext)
	})
}
