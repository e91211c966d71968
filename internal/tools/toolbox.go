package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"discnorm/internal/config"
	"discnorm/internal/logging"
	"discnorm/internal/services"
)

// Option configures a Toolbox.
type Option func(*Toolbox)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(t *Toolbox) {
		if exec != nil {
			t.exec = exec
		}
	}
}

// WithLogger attaches a logger used for tool output at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Toolbox) {
		t.logger = logging.NewComponentLogger(logger, "tools")
	}
}

// Toolbox runs the external converters named in configuration.
type Toolbox struct {
	cfg    config.Tools
	exec   Executor
	native *NativeExtractor
	logger *slog.Logger
}

// New constructs a Toolbox from tool configuration.
func New(cfg config.Tools, opts ...Option) *Toolbox {
	t := &Toolbox{
		cfg:    cfg,
		exec:   commandExecutor{},
		logger: logging.NewNop(),
	}
	if cfg.NativeArchives {
		t.native = &NativeExtractor{Password: cfg.ArchivePassword}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Toolbox) run(ctx context.Context, binary string, args ...string) error {
	logger := logging.WithContext(ctx, t.logger)
	logger.Debug("running tool", logging.String("binary", binary), logging.String("args", strings.Join(args, " ")))
	return t.exec.Run(ctx, binary, args, func(line string) {
		logger.Debug(line, logging.String("binary", filepath.Base(binary)))
	})
}

// Extract unpacks a zip, 7z, or rar archive into destDir. The in-process
// extractor is tried first when enabled; the 7z or unrar binary is the fallback.
func (t *Toolbox) Extract(ctx context.Context, archive, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}
	if t.native != nil {
		err := t.native.Extract(ctx, archive, destDir)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		logging.WarnWithContext(logging.WithContext(ctx, t.logger), "native extraction failed; falling back to external tool", "native_extract_failed",
			logging.String("archive", archive),
			logging.Error(err),
			logging.String(logging.FieldImpact, "archive extracted with external binary"),
		)
		if err := clearDir(destDir); err != nil {
			return err
		}
	}

	switch strings.ToLower(filepath.Ext(archive)) {
	case ".rar":
		args := []string{"x", "-o+", "-y"}
		if t.cfg.ArchivePassword != "" {
			args = append(args, "-p"+t.cfg.ArchivePassword)
		} else {
			args = append(args, "-p-")
		}
		args = append(args, archive, destDir+string(filepath.Separator))
		return t.run(ctx, t.cfg.Unrar, args...)
	default:
		args := []string{"x", "-y", "-o" + destDir}
		if t.cfg.ArchivePassword != "" {
			args = append(args, "-p"+t.cfg.ArchivePassword)
		}
		args = append(args, archive)
		return t.run(ctx, t.cfg.SevenZip, args...)
	}
}

// DecodeECM runs unecm and returns the decoded image path (the input without .ecm).
func (t *Toolbox) DecodeECM(ctx context.Context, src string) (string, error) {
	out := strings.TrimSuffix(src, filepath.Ext(src))
	if filepath.Ext(out) == "" {
		out += ".bin"
	}
	if err := t.run(ctx, t.cfg.Unecm, src, out); err != nil {
		return "", err
	}
	return requireOutput(out)
}

// ConvertMDF runs mdf2iso and returns the resulting .iso path.
func (t *Toolbox) ConvertMDF(ctx context.Context, src string) (string, error) {
	out := replaceExt(src, ".iso")
	if err := t.run(ctx, t.cfg.Mdf2Iso, src, out); err != nil {
		return "", err
	}
	return requireOutput(out)
}

// ConvertToBin runs poweriso to turn an .iso or .nrg into a raw .bin.
func (t *Toolbox) ConvertToBin(ctx context.Context, src string) (string, error) {
	out := replaceExt(src, ".bin")
	if err := t.run(ctx, t.cfg.PowerISO, "convert", src, "-o", out, "-ot", "bin"); err != nil {
		return "", err
	}
	return requireOutput(out)
}

// ExtractCHD re-emits a CHD as bin/cue in destDir and returns the cue path.
func (t *Toolbox) ExtractCHD(ctx context.Context, src, destDir string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	cuePath := filepath.Join(destDir, base+".cue")
	binPath := filepath.Join(destDir, base+".bin")
	if err := t.run(ctx, t.cfg.Chdman, "extractcd", "-i", src, "-o", cuePath, "-ob", binPath, "-f"); err != nil {
		return "", err
	}
	return requireOutput(cuePath)
}

// CompressCHD compresses a cue or gdi sheet into output.
func (t *Toolbox) CompressCHD(ctx context.Context, sheet, output string) error {
	if err := t.run(ctx, t.cfg.Chdman, "createcd", "-i", sheet, "-o", output, "-f"); err != nil {
		return err
	}
	_, err := requireOutput(output)
	return err
}

// VerifyCHD runs chdman's integrity check on a CHD.
func (t *Toolbox) VerifyCHD(ctx context.Context, path string) error {
	return t.run(ctx, t.cfg.Chdman, "verify", "-i", path)
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func requireOutput(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: expected output %s was not produced", services.ErrExternalTool, path)
	}
	return path, nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
