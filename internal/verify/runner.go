package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"

	"discnorm/internal/config"
	"discnorm/internal/cue"
	"discnorm/internal/dat"
	"discnorm/internal/logging"
	"discnorm/internal/services"
	"discnorm/internal/storage"
	"discnorm/internal/textutil"
)

// CHDExtractor re-emits a CHD as bin/cue.
type CHDExtractor interface {
	ExtractCHD(ctx context.Context, src, destDir string) (string, error)
}

// Runner drives the catalog against pipeline output.
type Runner struct {
	dat           *dat.Dat
	opts          Options
	acceptClosest bool
	extractor     CHDExtractor
	store         storage.Storage
	registry      *storage.Registry
	logger        *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStorage sets the storage files are read through. The default is the
// OS filesystem.
func WithStorage(store storage.Storage) RunnerOption {
	return func(r *Runner) {
		r.store = store
	}
}

// WithCHDExtractor enables verification of .chd inputs.
func WithCHDExtractor(e CHDExtractor, store storage.Storage, registry *storage.Registry) RunnerOption {
	return func(r *Runner) {
		r.extractor = e
		r.store = store
		r.registry = registry
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logging.NewComponentLogger(logger, "verify")
	}
}

// NewRunner builds a runner from verification policy.
func NewRunner(d *dat.Dat, cfg config.Verify, opts ...RunnerOption) *Runner {
	r := &Runner{
		dat:           d,
		opts:          Options{AllowCueMismatches: cfg.AllowCueMismatches, RequireAllTracks: cfg.RequireAllTracks},
		acceptClosest: cfg.AcceptClosest,
		store:         storage.NewLocal(""),
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VerifyFiles verifies a bin/cue set belonging to group. Catalog mismatches
// are returned as report data; only I/O failures are errors.
func (r *Runner) VerifyFiles(ctx context.Context, group string, files []string) (*Report, error) {
	logger := logging.WithContext(services.WithStage(ctx, "verify"), r.logger)

	result, err := VerifyBinCue(r.store, r.dat, files, r.opts)
	if err == nil {
		report := newReport(StatusMatch, "verified against "+r.dat.System)
		if len(result.Warnings) > 0 {
			report.Message += "; " + strings.Join(result.Warnings, "; ")
		}
		report.Game = gameInfo(result.Game)
		report.Verified = true
		logger.Info("catalog match",
			logging.String("game", result.Game.Name),
			logging.Bool("cue_mismatch", result.CueMismatch),
			logging.String(logging.FieldEventType, "verify_match"),
		)
		return report, nil
	}
	if !errors.Is(err, services.ErrVerification) {
		return nil, err
	}

	bins := filesWithExt(files, ".bin")
	total, sizeErr := totalSize(r.store, bins)
	if sizeErr != nil {
		return nil, sizeErr
	}
	matches := r.dat.FindGamesByCombinedBinSize(total)
	if len(bins) == 0 || len(matches) == 0 {
		report := newReport(StatusNone, err.Error())
		logging.WarnWithContext(logger, "no catalog match", "verify_none",
			logging.Error(err),
			logging.String(logging.FieldImpact, "output is unverified"),
			logging.String(logging.FieldErrorHint, "confirm the dump and the DAT are for the same system"),
		)
		return report, nil
	}

	// Contents differ from every catalog rom, so a size-based pick is
	// partial whatever its tag; accept_closest decides whether it counts.
	ranked := rankBySimilarity(group, matches)
	best := ranked[0]
	var message string
	switch best.Status {
	case dat.StatusMatch:
		message = "same combined size as catalog entry " + best.Game.Name
	default:
		message = fmt.Sprintf("closest catalog entry by size: %s (difference %d bytes)", best.Game.Name, best.Difference)
	}
	report := newReport(StatusPartial, "")
	report.Game = gameInfo(best.Game)
	report.SizeMatch = best.Status
	report.Similarity = textutil.NameSimilarity(group, best.Game.Name)
	for _, m := range ranked[1:] {
		report.Candidates = append(report.Candidates, m.Game.Name)
	}
	if len(report.Candidates) > 0 {
		message += "; also same size: " + strings.Join(report.Candidates, ", ")
	}
	report.Message = fmt.Sprintf("%s; %v", message, err)
	report.Verified = r.acceptClosest
	logging.WarnWithContext(logger, "size-based catalog match only", "verify_closest",
		logging.String("game", best.Game.Name),
		logging.String("size_match", string(best.Status)),
		logging.Int("candidates", len(ranked)),
		logging.Int64("difference", best.Difference),
		logging.Any("similarity", report.Similarity),
		logging.Bool("accepted", report.Verified),
		logging.String(logging.FieldImpact, "identification is unconfirmed"),
		logging.String(logging.FieldErrorHint, "review the sidecar before renaming, or pass --force to accept"),
	)
	return report, nil
}

// VerifyCHD extracts a CHD into a scratch workspace, splits multi-track
// images to catalog naming, and verifies the result.
func (r *Runner) VerifyCHD(ctx context.Context, chdPath string) (*Report, error) {
	if r.extractor == nil || r.store == nil || r.registry == nil {
		return nil, fmt.Errorf("%w: chd verification requires an extractor", services.ErrConfiguration)
	}
	if err := storage.GuardFileExists(r.store, chdPath); err != nil {
		return nil, err
	}
	ws, err := r.registry.Acquire(r.store)
	if err != nil {
		return nil, err
	}
	defer ws.Release()

	base := textutil.BaseName(chdPath)
	cuePath, err := r.extractor.ExtractCHD(ctx, chdPath, ws.Dir)
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "verify", "extract chd", filepath.Base(chdPath), err)
	}
	files, err := SplitMergedBin(r.store, cuePath)
	if err != nil {
		return nil, err
	}
	return r.VerifyFiles(services.WithGroup(ctx, base), base, files)
}

// VerifyPath verifies a .chd, a .cue with its bins, or a directory of bin/cue files.
func (r *Runner) VerifyPath(ctx context.Context, path string) (*Report, error) {
	switch {
	case r.store.IsDirectory(path):
		files, err := r.store.List(path, storage.ListOptions{AvoidHiddenFiles: true})
		if err != nil {
			return nil, err
		}
		return r.VerifyFiles(ctx, filepath.Base(path), files)
	case strings.EqualFold(filepath.Ext(path), ".chd"):
		return r.VerifyCHD(ctx, path)
	case strings.EqualFold(filepath.Ext(path), ".cue"):
		sheet, err := cue.ParseFile(r.store, path)
		if err != nil {
			return nil, err
		}
		return r.VerifyFiles(ctx, textutil.BaseName(path), sheetFiles(path, sheet))
	default:
		return r.VerifyFiles(ctx, textutil.BaseName(path), []string{path})
	}
}

func gameInfo(g *dat.Game) *GameInfo {
	return &GameInfo{
		Name:  g.Name,
		Files: lo.Map(g.Roms, func(r *dat.Rom, _ int) string { return r.Name }),
	}
}

// rankBySimilarity orders size-based matches by how closely each game's
// name resembles group. Ties keep catalog order.
func rankBySimilarity(group string, matches []dat.GameMatch) []dat.GameMatch {
	ranked := slices.Clone(matches)
	slices.SortStableFunc(ranked, func(a, b dat.GameMatch) int {
		sa := textutil.NameSimilarity(group, a.Game.Name)
		sb := textutil.NameSimilarity(group, b.Game.Name)
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return 0
	})
	return ranked
}

func totalSize(store storage.Storage, paths []string) (int64, error) {
	var total int64
	for _, p := range paths {
		size, err := store.Size(p)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}
