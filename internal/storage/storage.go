package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"discnorm/internal/fileutil"
	"discnorm/internal/services"
)

// WorkspacePrefix names the scratch directories created under the temp root.
const WorkspacePrefix = "work-"

// ListOptions controls List.
type ListOptions struct {
	Recursive          bool
	AvoidHiddenFiles   bool
	IncludeDirectories bool
}

// File is a readable handle returned by Storage.Open.
type File interface {
	io.Reader
	io.ReaderAt
	io.Closer
}

// Storage is the filesystem contract consumed by the pipeline.
type Storage interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Open(path string) (File, error)
	Create(path string) (io.WriteCloser, error)
	List(dir string, opts ListOptions) ([]string, error)
	Copy(src, dst string) error
	Move(src, dst string) error
	Remove(path string) error
	CreateTemporaryDirectory() (string, error)
	Exists(path string) bool
	IsFile(path string) bool
	IsDirectory(path string) bool
	Size(path string) (int64, error)
}

// Local implements Storage on an afero filesystem.
type Local struct {
	fs       afero.Fs
	tempRoot string
}

// NewLocal returns storage on the OS filesystem. Temporary directories are
// created under tempRoot, or the system temp directory when empty.
func NewLocal(tempRoot string) *Local {
	return NewWithFs(afero.NewOsFs(), tempRoot)
}

// NewWithFs returns storage backed by fsys.
func NewWithFs(fsys afero.Fs, tempRoot string) *Local {
	if strings.TrimSpace(tempRoot) == "" {
		tempRoot = os.TempDir()
	}
	return &Local{fs: fsys, tempRoot: tempRoot}
}

// Fs exposes the underlying filesystem.
func (l *Local) Fs() afero.Fs { return l.fs }

func (l *Local) Read(path string) ([]byte, error) {
	return afero.ReadFile(l.fs, path)
}

func (l *Local) Write(path string, data []byte) error {
	if err := l.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(l.fs, path, data, 0o644)
}

func (l *Local) Open(path string) (File, error) {
	return l.fs.Open(path)
}

// Create truncates or creates path, making parent directories as needed.
func (l *Local) Create(path string) (io.WriteCloser, error) {
	if err := l.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return l.fs.Create(path)
}

// List returns paths under dir in lexical order.
func (l *Local) List(dir string, opts ListOptions) ([]string, error) {
	var out []string
	err := afero.Walk(l.fs, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		hidden := strings.HasPrefix(info.Name(), ".")
		if info.IsDir() {
			if opts.AvoidHiddenFiles && hidden {
				return filepath.SkipDir
			}
			if opts.IncludeDirectories {
				out = append(out, path)
			}
			if !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.AvoidHiddenFiles && hidden {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

func (l *Local) Copy(src, dst string) error {
	in, err := l.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := l.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := l.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Move renames src to dst. On the OS filesystem a rename across devices
// falls back to a verified copy.
func (l *Local) Move(src, dst string) error {
	if err := l.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if _, ok := l.fs.(*afero.OsFs); ok {
		return fileutil.MoveFile(src, dst)
	}
	if err := l.fs.Rename(src, dst); err == nil {
		return nil
	}
	if err := l.Copy(src, dst); err != nil {
		return err
	}
	return l.fs.Remove(src)
}

func (l *Local) Remove(path string) error {
	err := l.fs.RemoveAll(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (l *Local) CreateTemporaryDirectory() (string, error) {
	if err := l.fs.MkdirAll(l.tempRoot, 0o755); err != nil {
		return "", err
	}
	return afero.TempDir(l.fs, l.tempRoot, WorkspacePrefix)
}

func (l *Local) Exists(path string) bool {
	ok, err := afero.Exists(l.fs, path)
	return err == nil && ok
}

func (l *Local) IsFile(path string) bool {
	info, err := l.fs.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (l *Local) IsDirectory(path string) bool {
	ok, err := afero.IsDir(l.fs, path)
	return err == nil && ok
}

func (l *Local) Size(path string) (int64, error) {
	info, err := l.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// GuardFileExists fails with a message naming path when it is not a regular file.
func GuardFileExists(s Storage, path string) error {
	if !s.IsFile(path) {
		return fmt.Errorf("%w: file %s does not exist", services.ErrNotFound, path)
	}
	return nil
}

// GuardDirectoryExists fails with a message naming path when it is not a directory.
func GuardDirectoryExists(s Storage, path string) error {
	if !s.IsDirectory(path) {
		return fmt.Errorf("%w: directory %s does not exist", services.ErrNotFound, path)
	}
	return nil
}
