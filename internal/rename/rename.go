// Package rename renames compressed images to the catalog name recorded in
// their verification sidecars.
package rename

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"discnorm/internal/logging"
	"discnorm/internal/services"
	"discnorm/internal/storage"
	"discnorm/internal/textutil"
	"discnorm/internal/verify"
)

// Options controls which sidecars are acted on.
type Options struct {
	// Force accepts closest-size (partial) identifications.
	Force  bool
	DryRun bool
}

// Action is the planned or applied rename of one image and its sidecar.
type Action struct {
	Image         string
	Sidecar       string
	Target        string
	SidecarTarget string
	Game          string
	Status        verify.Status
	// Skip explains why no rename happens; empty when the rename applies.
	Skip    string
	Renamed bool
}

// Renamer plans and applies sidecar-driven renames.
type Renamer struct {
	store  storage.Storage
	opts   Options
	logger *slog.Logger
}

// New constructs a Renamer.
func New(store storage.Storage, opts Options, logger *slog.Logger) *Renamer {
	return &Renamer{
		store:  store,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "rename"),
	}
}

// Plan reads every sidecar in dir and decides what to rename.
func (r *Renamer) Plan(dir string) ([]Action, error) {
	if err := storage.GuardDirectoryExists(r.store, dir); err != nil {
		return nil, err
	}
	paths, err := r.store.List(dir, storage.ListOptions{AvoidHiddenFiles: true})
	if err != nil {
		return nil, err
	}
	var actions []Action
	for _, path := range paths {
		if !strings.EqualFold(filepath.Ext(path), ".json") {
			continue
		}
		action, err := r.plan(path)
		if err != nil {
			return nil, err
		}
		if action != nil {
			actions = append(actions, *action)
		}
	}
	return r.dedupeTargets(actions), nil
}

func (r *Renamer) plan(sidecar string) (*Action, error) {
	image := strings.TrimSuffix(sidecar, filepath.Ext(sidecar)) + ".chd"
	if !r.store.IsFile(image) {
		return nil, nil
	}
	report, err := verify.ReadSidecar(sidecar)
	if err != nil {
		return nil, services.Wrap(services.ErrParsing, "rename", "read sidecar", filepath.Base(sidecar), err)
	}

	action := &Action{Image: image, Sidecar: sidecar, Status: report.Status}
	if report.Game != nil {
		action.Game = report.Game.Name
	}
	switch {
	case report.Status == verify.StatusNone || report.Game == nil:
		action.Skip = "no catalog match"
		return action, nil
	case report.Status == verify.StatusPartial && !r.opts.Force:
		action.Skip = "closest match only (use --force to accept)"
		return action, nil
	}

	name := textutil.SanitizeFileName(report.Game.Name)
	if name == "" {
		action.Skip = "catalog name is empty"
		return action, nil
	}
	dir := filepath.Dir(image)
	action.Target = filepath.Join(dir, name+".chd")
	action.SidecarTarget = filepath.Join(dir, name+".json")
	switch {
	case textutil.SameName(action.Target, image):
		action.Skip = "already named"
	case r.store.Exists(action.Target):
		action.Skip = fmt.Sprintf("%s already exists", filepath.Base(action.Target))
	}
	return action, nil
}

// dedupeTargets skips every action after the first that claims a target.
func (r *Renamer) dedupeTargets(actions []Action) []Action {
	claimed := make(map[string]string)
	for i := range actions {
		a := &actions[i]
		if a.Skip != "" || a.Target == "" {
			continue
		}
		if prev, ok := claimed[a.Target]; ok {
			a.Skip = fmt.Sprintf("%s also maps to %s", filepath.Base(prev), filepath.Base(a.Target))
			continue
		}
		claimed[a.Target] = a.Image
	}
	return actions
}

// Apply performs the renames in actions. Skipped actions are left alone.
// With DryRun set nothing is moved.
func (r *Renamer) Apply(ctx context.Context, actions []Action) ([]Action, error) {
	logger := logging.WithContext(services.WithStage(ctx, "rename"), r.logger)
	for i := range actions {
		a := &actions[i]
		if err := ctx.Err(); err != nil {
			return actions, err
		}
		if a.Skip != "" {
			logger.Info("rename skipped",
				logging.String("image", filepath.Base(a.Image)),
				logging.String("reason", a.Skip),
				logging.String(logging.FieldEventType, "rename_skipped"),
			)
			continue
		}
		if r.opts.DryRun {
			continue
		}
		if err := r.store.Move(a.Image, a.Target); err != nil {
			return actions, services.Wrap(services.ErrFatalPipeline, "rename", "move image", filepath.Base(a.Image), err)
		}
		if err := r.store.Move(a.Sidecar, a.SidecarTarget); err != nil {
			return actions, services.Wrap(services.ErrFatalPipeline, "rename", "move sidecar", filepath.Base(a.Sidecar), err)
		}
		a.Renamed = true
		logger.Info("image renamed",
			logging.String("from", filepath.Base(a.Image)),
			logging.String("to", filepath.Base(a.Target)),
			logging.String("status", string(a.Status)),
			logging.String(logging.FieldEventType, "image_renamed"),
		)
	}
	return actions, nil
}

// RenameDir plans and applies renames for every sidecar in dir.
func (r *Renamer) RenameDir(ctx context.Context, dir string) ([]Action, error) {
	actions, err := r.Plan(dir)
	if err != nil {
		return nil, err
	}
	return r.Apply(ctx, actions)
}
