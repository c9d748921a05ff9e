package source

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mailvault/model"
)

// dirReader walks a directory tree of exported mail: eml/emlx files, nested
// mbox files, ICS calendars and Outlook-for-Mac XML message files. WalkDir
// visits entries in lexical order, so positions are stable across runs.
type dirReader struct {
	root   string
	logger *slog.Logger
}

func newDirReader(root string, opts Options) *dirReader {
	return &dirReader{root: root, logger: opts.Logger}
}

func (r *dirReader) Kind() Kind { return KindDirectory }

func (r *dirReader) Stream(ctx context.Context, after int64, out chan<- model.RawRecord) error {
	cur := &cursor{after: after}
	return filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			rel = path
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".eml", ".txt":
			return streamSingleMessage(ctx, path, rel, cur, out, false)
		case ".emlx":
			return streamSingleMessage(ctx, path, rel, cur, out, true)
		case ".mbox":
			return streamMboxFile(ctx, path, rel, cur, out)
		case ".ics":
			return streamICSFile(ctx, path, rel, cur, out)
		case ".xml":
			return streamOMXFile(ctx, path, rel, cur, out)
		}
		return nil
	})
}

// streamSingleMessage emits one whole file as one record. Files at or before
// the resume position are skipped without being opened. Apple Mail emlx
// files carry a decimal length prefix line before the RFC822 payload.
func streamSingleMessage(ctx context.Context, path, rel string, cur *cursor, out chan<- model.RawRecord, emlx bool) error {
	pos, active := cur.next()
	if !active {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return emit(ctx, out, model.RawRecord{
			Position: pos,
			Source:   rel,
			Kind:     model.RecordMessage,
			Err:      fmt.Errorf("read %s: %w", rel, err),
		})
	}
	if emlx {
		raw = stripEmlxPrefix(raw)
	}

	return emit(ctx, out, model.RawRecord{
		Position: pos,
		Source:   rel,
		Kind:     model.RecordMessage,
		Raw:      raw,
	})
}

func stripEmlxPrefix(raw []byte) []byte {
	idx := bytes.IndexByte(raw, '\n')
	if idx <= 0 {
		return raw
	}
	prefix := strings.TrimSpace(string(raw[:idx]))
	if prefix == "" {
		return raw
	}
	for _, c := range prefix {
		if c < '0' || c > '9' {
			return raw
		}
	}
	return raw[idx+1:]
}
