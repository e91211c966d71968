// Package watch feeds dumps that land in the source directory into the
// conversion pipeline once the directory has gone quiet.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"discnorm/internal/logging"
	"discnorm/internal/pipeline"
	"discnorm/internal/storage"
)

// HandleFunc processes one settled group.
type HandleFunc func(ctx context.Context, g pipeline.Group)

// Options configures a Watcher.
type Options struct {
	// Settle is how long the directory must see no events before pending
	// files are grouped and handled.
	Settle time.Duration
	// Initial queues files already present when watching starts.
	Initial bool
}

// Watcher debounces filesystem events in one directory.
type Watcher struct {
	dir    string
	store  storage.Storage
	opts   Options
	handle HandleFunc
	logger *slog.Logger
}

// New constructs a Watcher for dir.
func New(dir string, store storage.Storage, opts Options, handle HandleFunc, logger *slog.Logger) *Watcher {
	if opts.Settle <= 0 {
		opts.Settle = 10 * time.Second
	}
	return &Watcher{
		dir:    dir,
		store:  store,
		opts:   opts,
		handle: handle,
		logger: logging.NewComponentLogger(logger, "watch"),
	}
}

// Run watches until ctx is canceled. Groups are handled on the calling
// goroutine, so events that arrive during a run are picked up afterwards.
func (w *Watcher) Run(ctx context.Context) error {
	if err := storage.GuardDirectoryExists(w.store, w.dir); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.opts.Settle)
	timer.Stop()
	defer timer.Stop()

	if w.opts.Initial {
		existing, err := w.store.List(w.dir, storage.ListOptions{AvoidHiddenFiles: true})
		if err != nil {
			return err
		}
		for _, path := range existing {
			pending[path] = struct{}{}
		}
		if len(pending) > 0 {
			timer.Reset(w.opts.Settle)
		}
	}
	w.logger.Info("watching source directory",
		logging.String("dir", w.dir),
		logging.Duration("settle", w.opts.Settle),
		logging.Int("queued", len(pending)),
		logging.String(logging.FieldEventType, "watch_started"),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				pending[event.Name] = struct{}{}
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				delete(pending, event.Name)
			default:
				continue
			}
			timer.Reset(w.opts.Settle)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "watch error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some file events may be missed"),
			)
		case <-timer.C:
			w.flush(ctx, pending)
			clear(pending)
		}
	}
}

// flush groups the pending regular files and hands each group over.
func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	paths := make([]string, 0, len(pending))
	for path := range pending {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	var files []string
	for _, e := range storage.Probe(ctx, w.store, paths) {
		if e.IsFile {
			files = append(files, e.Path)
		}
	}
	groups := pipeline.GroupFiles(w.store, files)
	if len(groups) == 0 {
		return
	}
	w.logger.Info("directory settled",
		logging.Int("files", len(files)),
		logging.Int("groups", len(groups)),
		logging.String(logging.FieldEventType, "watch_settled"),
	)
	for _, g := range groups {
		if ctx.Err() != nil {
			return
		}
		w.handle(ctx, g)
	}
}
