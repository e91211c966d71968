package pipeline

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"

	"discnorm/internal/cue"
	"discnorm/internal/logging"
	"discnorm/internal/services"
	"discnorm/internal/storage"
	"discnorm/internal/textutil"
)

// GroupKey returns the group a source file belongs to: its base name
// without extension, with a trailing .ecm layer removed first.
func GroupKey(path string) string {
	base := filepath.Base(path)
	if FormatOf(base) == FormatECM {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return textutil.BaseName(base)
}

// GroupFiles groups source files by GroupKey. Files referenced by a cue
// sheet join the sheet's group, so split multi-track dumps stay together.
// Sheets are read through store. Groups are returned sorted by name.
func GroupFiles(store storage.Storage, files []string) []Group {
	owner := make(map[string]string)
	for _, f := range files {
		if FormatOf(f) != FormatCue {
			continue
		}
		sheet, err := cue.ParseFile(store, f)
		if err != nil {
			continue
		}
		for _, name := range sheet.FileNames() {
			owner[filepath.Join(filepath.Dir(f), name)] = GroupKey(f)
			owner[filepath.Join(filepath.Dir(f), name+".ecm")] = GroupKey(f)
		}
	}

	grouped := lo.GroupBy(files, func(f string) string {
		if key, ok := owner[f]; ok {
			return key
		}
		return GroupKey(f)
	})
	names := lo.Keys(grouped)
	slices.Sort(names)
	return lo.Map(names, func(name string, _ int) Group {
		members := grouped[name]
		slices.Sort(members)
		return Group{Name: name, Files: members}
	})
}

// RunDirectory groups the regular files in sourceDir and runs each group
// in turn. A group's failure is recorded in its Result and logged; the
// remaining groups still run. The error is non-nil only when the
// directory cannot be listed or ctx is canceled.
func (p *Pipeline) RunDirectory(ctx context.Context, sourceDir string) ([]*Result, error) {
	if err := storage.GuardDirectoryExists(p.store, sourceDir); err != nil {
		return nil, err
	}
	paths, err := p.store.List(sourceDir, storage.ListOptions{AvoidHiddenFiles: true})
	if err != nil {
		return nil, err
	}
	files := lo.FilterMap(storage.Probe(ctx, p.store, paths), func(e storage.Entry, _ int) (string, bool) {
		return e.Path, e.IsFile
	})

	groups := GroupFiles(p.store, files)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("source directory scanned",
		logging.String("dir", sourceDir),
		logging.Int("files", len(files)),
		logging.Int("groups", len(groups)),
		logging.String(logging.FieldEventType, "directory_scanned"),
	)

	results := make([]*Result, 0, len(groups))
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := p.Run(ctx, g)
		results = append(results, result)
		if err == nil {
			continue
		}
		groupLogger := logging.WithContext(services.WithGroup(ctx, g.Name), p.logger)
		if services.FailureLabel(err) == "skipped" {
			groupLogger.Info("group skipped", logging.Error(err), logging.String(logging.FieldEventType, "group_skipped"))
			continue
		}
		logging.ErrorWithContext(groupLogger, "group failed", "group_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "group not converted; remaining groups continue"),
			logging.String(logging.FieldErrorHint, "inspect the group's files or rerun it alone"),
		)
	}
	return results, nil
}
