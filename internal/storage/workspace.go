package storage

import (
	"log/slog"
	"sync"

	"discnorm/internal/logging"
)

// Workspace is a scratch directory exclusively owned by one pipeline run.
// Release removes it; calling Release more than once is safe.
type Workspace struct {
	Dir string

	store    Storage
	registry *Registry
	once     sync.Once
	err      error
}

// Release removes the workspace directory and unregisters it.
func (w *Workspace) Release() error {
	if w == nil {
		return nil
	}
	w.once.Do(func() {
		w.err = w.store.Remove(w.Dir)
		if w.registry != nil {
			w.registry.forget(w)
		}
	})
	return w.err
}

// Registry tracks live workspaces.
type Registry struct {
	mu     sync.Mutex
	live   map[*Workspace]struct{}
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		live:   make(map[*Workspace]struct{}),
		logger: logging.NewComponentLogger(logger, "workspace"),
	}
}

// Acquire creates a temporary directory through s and registers it.
func (r *Registry) Acquire(s Storage) (*Workspace, error) {
	dir, err := s.CreateTemporaryDirectory()
	if err != nil {
		return nil, err
	}
	ws := &Workspace{Dir: dir, store: s, registry: r}
	r.mu.Lock()
	r.live[ws] = struct{}{}
	r.mu.Unlock()
	r.logger.Debug("workspace acquired", logging.String("dir", dir))
	return ws, nil
}

// Live returns the number of unreleased workspaces.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// ReleaseAll releases every live workspace. Failures are logged and the
// first one is returned.
func (r *Registry) ReleaseAll() error {
	r.mu.Lock()
	pending := make([]*Workspace, 0, len(r.live))
	for ws := range r.live {
		pending = append(pending, ws)
	}
	r.mu.Unlock()

	var first error
	for _, ws := range pending {
		if err := ws.Release(); err != nil {
			logging.WarnWithContext(r.logger, "workspace removal failed", "workspace_cleanup_failed",
				logging.String("dir", ws.Dir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run discnorm clean to remove leftover workspaces"),
				logging.String(logging.FieldImpact, "scratch files remain on disk"),
			)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (r *Registry) forget(ws *Workspace) {
	r.mu.Lock()
	delete(r.live, ws)
	r.mu.Unlock()
}
