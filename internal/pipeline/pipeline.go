package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"discnorm/internal/config"
	"discnorm/internal/logging"
	"discnorm/internal/services"
	"discnorm/internal/storage"
	"discnorm/internal/textutil"
	"discnorm/internal/verify"
)

// Toolchain is the external archive and codec collaborator.
type Toolchain interface {
	Extract(ctx context.Context, archive, destDir string) error
	DecodeECM(ctx context.Context, src string) (string, error)
	ConvertMDF(ctx context.Context, src string) (string, error)
	ConvertToBin(ctx context.Context, src string) (string, error)
	ExtractCHD(ctx context.Context, src, destDir string) (string, error)
	CompressCHD(ctx context.Context, sheet, output string) error
	VerifyCHD(ctx context.Context, path string) error
}

// Verifier checks a stabilised bin/cue set against a catalog.
type Verifier interface {
	VerifyFiles(ctx context.Context, group string, files []string) (*verify.Report, error)
}

// Options carries the per-invocation settings threaded through every run.
type Options struct {
	OutputDir       string
	LockDir         string
	Overwrite       bool
	RemoveSource    bool
	RepackCHD       bool
	VerifyOutput    bool
	WriteMetadata   bool
	ArchiveTimeout  time.Duration
	CompressTimeout time.Duration
}

// OptionsFromConfig derives run options from configuration. CLI flags are
// applied on top by the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		OutputDir:       cfg.Paths.OutputDir,
		LockDir:         cfg.LockDir(),
		Overwrite:       cfg.Compress.Overwrite,
		RemoveSource:    cfg.Compress.RemoveSource,
		RepackCHD:       cfg.Compress.RepackCHD,
		WriteMetadata:   cfg.Verify.WriteMetadata,
		ArchiveTimeout:  cfg.ArchiveTimeout(),
		CompressTimeout: cfg.CompressTimeout(),
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithVerifier verifies each disc before compression and enables sidecars.
func WithVerifier(v Verifier) Option {
	return func(p *Pipeline) {
		p.verifier = v
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logging.NewComponentLogger(logger, "pipeline")
	}
}

// Pipeline converts disc dumps into CHD images.
type Pipeline struct {
	opts     Options
	tools    Toolchain
	store    storage.Storage
	registry *storage.Registry
	verifier Verifier
	logger   *slog.Logger
}

// Group is the set of source files that make up one logical disc.
type Group struct {
	Name  string
	Files []string
}

// Result describes one group's run.
type Result struct {
	Group string
	// Outputs lists the CHD files placed in the output directory.
	Outputs []string
	// Files is the stabilised working set after extraction.
	Files []string
	// Failed names working files whose handler failed and were kept as-is.
	Failed []string
	// Reports holds the verification report per output, when verifying.
	Reports     map[string]*verify.Report
	PassThrough bool
	Duration    time.Duration
	Err         error
}

// New constructs a pipeline. The registry owns every scratch workspace so
// the caller can release them all on shutdown.
func New(tools Toolchain, store storage.Storage, registry *storage.Registry, opts Options, options ...Option) (*Pipeline, error) {
	if tools == nil || store == nil || registry == nil {
		return nil, errors.New("pipeline requires a toolchain, storage, and workspace registry")
	}
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("%w: output directory is required", services.ErrConfiguration)
	}
	if opts.ArchiveTimeout <= 0 {
		opts.ArchiveTimeout = 5 * time.Minute
	}
	if opts.CompressTimeout <= 0 {
		opts.CompressTimeout = time.Hour
	}
	p := &Pipeline{
		opts:     opts,
		tools:    tools,
		store:    store,
		registry: registry,
		logger:   logging.NewNop(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// OutputPath returns the CHD a group named group compresses to.
func (p *Pipeline) OutputPath(group string) string {
	return filepath.Join(p.opts.OutputDir, group+".chd")
}

// Run processes one group: guard, extract to a fixpoint, verify, compress.
// The returned Result is never nil; its Err matches the returned error.
func (p *Pipeline) Run(ctx context.Context, g Group) (*Result, error) {
	start := time.Now()
	result := &Result{Group: g.Name}
	err := p.run(ctx, g, result)
	result.Duration = time.Since(start)
	result.Err = err
	return result, err
}

func (p *Pipeline) run(ctx context.Context, g Group, result *Result) error {
	ctx = services.WithGroup(ctx, g.Name)
	logger := logging.WithContext(ctx, p.logger)

	if len(g.Files) == 0 {
		return services.Wrap(services.ErrFatalPipeline, "compress", "prepare", "group has no source files", nil)
	}
	target := p.OutputPath(g.Name)
	if err := p.guardOutput(target); err != nil {
		return err
	}
	for _, f := range g.Files {
		if err := storage.GuardFileExists(p.store, f); err != nil {
			return err
		}
	}

	unlock, err := p.lock(ctx, target)
	if err != nil {
		return err
	}
	defer unlock()

	ws, err := p.registry.Acquire(p.store)
	if err != nil {
		return services.Wrap(services.ErrFatalPipeline, "compress", "workspace", "create scratch directory", err)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			logging.WarnWithContext(logger, "workspace cleanup failed", "workspace_cleanup_failed",
				logging.String("dir", ws.Dir),
				logging.Error(err),
				logging.String(logging.FieldImpact, "scratch files left on disk"),
				logging.String(logging.FieldErrorHint, "run discnorm clean to remove stale workspaces"),
			)
		}
	}()

	initial := make([]string, 0, len(g.Files))
	for _, src := range g.Files {
		dst := filepath.Join(ws.Dir, filepath.Base(src))
		if err := p.store.Copy(src, dst); err != nil {
			return services.Wrap(services.ErrFatalPipeline, "compress", "stage source", filepath.Base(src), err)
		}
		initial = append(initial, dst)
	}
	logger.Info("group staged",
		logging.Int("files", len(initial)),
		logging.String("workspace", ws.Dir),
		logging.String(logging.FieldEventType, "group_staged"),
	)

	r := &run{p: p, dir: ws.Dir}
	files, failed, err := r.extract(ctx, initial)
	if err != nil {
		return err
	}
	result.Files = files
	result.Failed = failed

	outputs, reports, passThrough, err := r.compress(ctx, g.Name, files)
	result.Outputs = outputs
	result.Reports = reports
	result.PassThrough = passThrough
	if err != nil {
		return err
	}

	if p.opts.RemoveSource {
		p.removeSources(ctx, g.Files)
	}
	logger.Info("group complete",
		logging.Int("outputs", len(outputs)),
		logging.Int("failed_files", len(failed)),
		logging.Bool("pass_through", passThrough),
		logging.String(logging.FieldEventType, "group_complete"),
	)
	return nil
}

func (p *Pipeline) guardOutput(target string) error {
	if p.opts.Overwrite || !p.store.Exists(target) {
		return nil
	}
	return services.Wrap(services.ErrFatalPipeline, "compress", "guard output",
		fmt.Sprintf("%s already exists (use --overwrite to replace it)", target), nil)
}

// lock takes a per-output file lock so two runs never build the same image.
func (p *Pipeline) lock(ctx context.Context, target string) (func(), error) {
	if p.opts.LockDir == "" {
		return func() {}, nil
	}
	// Locks coordinate processes on this host, so they live on the OS filesystem.
	if err := os.MkdirAll(p.opts.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lockPath := filepath.Join(p.opts.LockDir, textutil.SanitizeToken(filepath.Base(target))+".lock")
	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrFatalPipeline, "compress", "lock",
			fmt.Sprintf("%s is being built by another run", filepath.Base(target)), nil)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, p.logger), "failed to release output lock", "lock_release_failed",
				logging.String("lock", lockPath),
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale lock file remains"),
			)
		}
	}, nil
}

func (p *Pipeline) removeSources(ctx context.Context, files []string) {
	logger := logging.WithContext(ctx, p.logger)
	for _, f := range files {
		if err := p.store.Remove(f); err != nil {
			logging.WarnWithContext(logger, "failed to remove source file", "remove_source_failed",
				logging.String("file", f),
				logging.Error(err),
				logging.String(logging.FieldImpact, "source file kept after conversion"),
			)
			continue
		}
		logger.Debug("source removed", logging.String("file", f))
	}
}

func (p *Pipeline) archiveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.opts.ArchiveTimeout)
}

func (p *Pipeline) compressContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.opts.CompressTimeout)
}
