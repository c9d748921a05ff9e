// Package source detects archive kinds and streams their raw records. Each
// format implements the same Reader contract: a lazy, finite, restartable
// sequence of positioned records. Dispatch picks the implementation once per
// archive; downstream stages never care which extractor produced the bytes.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"mailvault/model"
)

type Kind string

const (
	KindPST       Kind = "pst"
	KindZip       Kind = "zip"
	KindMbox      Kind = "mbox"
	KindDirectory Kind = "directory"
	KindICS       Kind = "ics"
)

var (
	ErrUnrecognized = errors.New("unrecognized archive format")
	ErrToolMissing  = errors.New("readpst tool not found")
)

var (
	pstMagic = []byte("!BDN")
	zipMagic = []byte("PK\x03\x04")
)

// Reader streams the records of one archive. Stream emits records with
// Position > after, strictly in scan order, and returns only when the
// archive is exhausted, the context is canceled, or the archive itself is
// unreadable. Per-record decode failures are emitted as records carrying
// Err, never returned.
type Reader interface {
	Kind() Kind
	Stream(ctx context.Context, after int64, out chan<- model.RawRecord) error
}

// Options configures archive readers.
type Options struct {
	ScratchDir string // extraction area for zip and PST archives
	Readpst    string // explicit readpst binary, $PATH lookup when empty
	Logger     *slog.Logger
}

// Detect determines the archive kind by content inspection. Extension alone
// is only consulted for formats without usable magic bytes.
func Detect(path string) (Kind, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}
	if info.IsDir() {
		return KindDirectory, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	head := make([]byte, 8)
	n, _ := file.Read(head)
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, pstMagic):
		return KindPST, nil
	case bytes.HasPrefix(head, zipMagic):
		return KindZip, nil
	case bytes.HasPrefix(head, []byte("From ")):
		return KindMbox, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ics":
		return KindICS, nil
	case ".mbox":
		return KindMbox, nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnrecognized, path)
}

// Open detects the archive kind and returns the matching reader.
func Open(path string, opts Options) (Reader, error) {
	kind, err := Detect(path)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindPST:
		return newPSTReader(path, opts), nil
	case KindZip:
		return newZipReader(path, opts), nil
	case KindMbox:
		return &mboxReader{path: path, label: filepath.Base(path)}, nil
	case KindDirectory:
		return newDirReader(path, opts), nil
	case KindICS:
		return &icsReader{path: path}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnrecognized, path)
}

// emit delivers one record unless the context is canceled first.
func emit(ctx context.Context, out chan<- model.RawRecord, rec model.RawRecord) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- rec:
		return nil
	}
}
