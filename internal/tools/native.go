package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"github.com/yeka/zip"
)

// NativeExtractor unpacks zip, 7z, and rar archives in-process. Encrypted
// zips go through yeka/zip, which understands ZipCrypto and AES entries.
type NativeExtractor struct {
	Password string
}

// Extract writes every regular file of archive under destDir. Entries that
// would land outside destDir are rejected.
func (n *NativeExtractor) Extract(ctx context.Context, archive, destDir string) error {
	root, err := filepath.Abs(destDir)
	if err != nil {
		return fmt.Errorf("invalid output directory: %s", destDir)
	}

	file, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("cannot open archive: %w", err)
	}
	defer file.Close()

	format, reader, err := archives.Identify(ctx, archive, file)
	if err != nil {
		return fmt.Errorf("cannot identify archive format: %w", err)
	}

	switch f := format.(type) {
	case archives.Zip:
		if n.Password != "" {
			return n.extractEncryptedZip(ctx, archive, root)
		}
	case archives.SevenZip:
		f.Password = n.Password
		format = f
	case archives.Rar:
		f.Password = n.Password
		format = f
	}

	extractor, ok := format.(archives.Extractor)
	if !ok {
		return fmt.Errorf("format %T does not support extraction", format)
	}

	var input io.Reader = reader
	switch format.(type) {
	case archives.Zip, archives.SevenZip:
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind archive: %w", err)
		}
		input = file
	}

	return extractor.Extract(ctx, input, func(ctx context.Context, f archives.FileInfo) error {
		if f.IsDir() || f.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		dest, err := safeJoin(root, f.NameInArchive)
		if err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		defer src.Close()
		return writeEntry(dest, src)
	})
}

func (n *NativeExtractor) extractEncryptedZip(ctx context.Context, archive, root string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("cannot open archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if f.IsEncrypted() {
			f.SetPassword(n.Password)
		}
		dest, err := safeJoin(root, f.Name)
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		err = writeEntry(dest, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

var errEscapes = errors.New("entry escapes output directory")

func safeJoin(root, name string) (string, error) {
	dest := filepath.Join(root, filepath.Clean("/"+filepath.FromSlash(name)))
	if dest != root && !strings.HasPrefix(dest, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errEscapes, name)
	}
	return dest, nil
}

func writeEntry(dest string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
