package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mailvault/model"
)

// pstReader streams a binary PST container through the external readpst
// facility (libpst): the PST is converted into an eml tree in the scratch
// area and directory handling takes over. The rest of the pipeline never
// sees which extractor produced the bytes.
type pstReader struct {
	path   string
	opts   Options
	logger *slog.Logger
}

func newPSTReader(path string, opts Options) *pstReader {
	return &pstReader{path: path, opts: opts, logger: opts.Logger}
}

func (r *pstReader) Kind() Kind { return KindPST }

func (r *pstReader) Stream(ctx context.Context, after int64, out chan<- model.RawRecord) error {
	tool, err := r.lookupTool()
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp(r.opts.ScratchDir, "mailvault-pst-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	abs, err := filepath.Abs(r.path)
	if err != nil {
		abs = r.path
	}

	// -D preserves folder structure, -r recurses, -e writes eml files
	cmd := exec.CommandContext(ctx, tool, "-D", "-r", "-e", "-o", dir, abs)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("readpst %s: %w (stderr: %s)", r.path, err, strings.TrimSpace(stderr.String()))
	}
	if r.logger != nil {
		r.logger.Debug("pst converted", "archive", r.path, "scratch", dir)
	}

	return newDirReader(dir, r.opts).Stream(ctx, after, out)
}

func (r *pstReader) lookupTool() (string, error) {
	if r.opts.Readpst != "" {
		if _, err := os.Stat(r.opts.Readpst); err != nil {
			return "", fmt.Errorf("%w: %s", ErrToolMissing, r.opts.Readpst)
		}
		return r.opts.Readpst, nil
	}
	tool, err := exec.LookPath("readpst")
	if err != nil {
		return "", fmt.Errorf("%w: install libpst or pass --readpst", ErrToolMissing)
	}
	return tool, nil
}
