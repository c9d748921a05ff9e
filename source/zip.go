package source

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mailvault/model"
)

// zipReader extracts a zip export into the scratch area and recurses into
// directory handling for whatever the zip contained (eml/emlx/mbox/ics/xml).
type zipReader struct {
	path   string
	opts   Options
	logger *slog.Logger
}

func newZipReader(path string, opts Options) *zipReader {
	return &zipReader{path: path, opts: opts, logger: opts.Logger}
}

func (r *zipReader) Kind() Kind { return KindZip }

func (r *zipReader) Stream(ctx context.Context, after int64, out chan<- model.RawRecord) error {
	dir, err := os.MkdirTemp(r.opts.ScratchDir, "mailvault-zip-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := extractZip(r.path, dir); err != nil {
		return fmt.Errorf("extract %s: %w", r.path, err)
	}
	if r.logger != nil {
		r.logger.Debug("zip extracted", "archive", r.path, "scratch", dir)
	}

	return newDirReader(dir, r.opts).Stream(ctx, after, out)
}

func extractZip(path, dest string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, entry := range zr.File {
		target, err := scratchPath(dest, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipEntry(entry, target); err != nil {
			return fmt.Errorf("entry %s: %w", entry.Name, err)
		}
	}
	return nil
}

func extractZipEntry(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// scratchPath joins an archive entry name under dest, rejecting entries that
// escape the extraction root.
func scratchPath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("zip entry escapes extraction root: %s", name)
	}
	return target, nil
}
