// Package semantic is the boundary to the optional embedding collaborator.
// The core hands over (message id, text excerpt) fire-and-forget; indexer
// failures are absorbed by the caller and never fail ingestion.
package semantic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Indexer receives normalized text for each newly ingested message.
type Indexer interface {
	EmbedAndIndex(ctx context.Context, messageID int64, text string) error
	Close() error
}

// Noop is the indexer used when the semantic layer is disabled.
type Noop struct{}

func (Noop) EmbedAndIndex(context.Context, int64, string) error { return nil }
func (Noop) Close() error                                       { return nil }

type spoolRecord struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

// Spool appends embedding requests to a JSONL file consumed by the external
// embedding indexer. Appends are buffered; Close flushes and syncs.
type Spool struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

func NewSpool(path string) (*Spool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open spool file: %w", err)
	}
	return &Spool{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
	}, nil
}

func (s *Spool) EmbedAndIndex(_ context.Context, messageID int64, text string) error {
	data, err := json.Marshal(spoolRecord{MessageID: messageID, Text: text})
	if err != nil {
		return fmt.Errorf("encode spool record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("write spool record: %w", err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if err := s.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush spool: %w", err)
	}
	if err := s.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync spool: %w", err)
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close spool: %w", err)
	}
	return firstErr
}
