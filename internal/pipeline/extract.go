package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/samber/lo"

	"discnorm/internal/logging"
	"discnorm/internal/services"
	"discnorm/internal/storage"
)

// maxPasses bounds the fixpoint loop; a handler chain that has not settled
// by then is cyclic.
const maxPasses = 32

// run holds the state of one group's conversion inside its workspace.
type run struct {
	p   *Pipeline
	dir string
}

// extract applies handlers until a pass makes no progress and returns the
// workspace listing together with the files whose handler failed.
func (r *run) extract(ctx context.Context, initial []string) ([]string, []string, error) {
	ctx = services.WithStage(ctx, "extract")
	logger := logging.WithContext(ctx, r.p.logger)

	pending := slices.Clone(initial)
	failed := make(map[string]struct{})
	for pass := 1; ; pass++ {
		if pass > maxPasses {
			return nil, nil, services.Wrap(services.ErrFatalPipeline, "extract", "fixpoint",
				fmt.Sprintf("working set did not settle after %d passes", maxPasses), nil)
		}
		done := make([]string, 0, len(pending))
		progressed := false
		for i, file := range pending {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			format := FormatOf(file)
			h := r.handlerFor(format)
			if _, skip := failed[file]; h == nil || skip {
				done = append(done, file)
				continue
			}

			working := append(slices.Clone(done), pending[i:]...)
			produced, err := h(ctx, file, working)
			if err != nil {
				if ctx.Err() != nil {
					return nil, nil, ctx.Err()
				}
				failed[file] = struct{}{}
				done = append(done, file)
				logging.WarnWithContext(logger, "handler failed; keeping file", "extraction_failed",
					logging.String("file", filepath.Base(file)),
					logging.String("format", format.String()),
					logging.Error(err),
					logging.String(logging.FieldImpact, "file left unprocessed"),
					logging.String(logging.FieldErrorHint, "check the tool output with --log-level debug"),
				)
				continue
			}

			progressed = true
			if !slices.Contains(produced, file) {
				if err := r.p.store.Remove(file); err != nil {
					return nil, nil, services.Wrap(services.ErrFatalPipeline, "extract", "remove handled file", filepath.Base(file), err)
				}
			}
			done = append(done, produced...)
			logger.Debug("handler applied",
				logging.Int("pass", pass),
				logging.String("file", filepath.Base(file)),
				logging.String("format", format.String()),
				logging.Int("produced", len(produced)),
			)
		}
		pending = lo.Uniq(done)
		if !progressed {
			logger.Debug("working set settled", logging.Int("passes", pass), logging.Int("files", len(pending)))
			break
		}
	}

	files, err := r.p.store.List(r.dir, storage.ListOptions{AvoidHiddenFiles: true})
	if err != nil {
		return nil, nil, services.Wrap(services.ErrFatalPipeline, "extract", "list workspace", "", err)
	}
	failedFiles := lo.Keys(failed)
	slices.Sort(failedFiles)
	return files, failedFiles, nil
}
