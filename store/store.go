// Package store persists canonical records in SQLite. Writes happen in one
// transaction per batch through a single writer; WAL mode lets external
// readers (search, dossier generation) see consistent snapshots mid-ingest.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"mailvault/model"
)

type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes batch transactions
}

// Open opens (and if needed initializes) the store at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// Enable WAL mode so concurrent readers tolerate an active writer
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_hash TEXT NOT NULL UNIQUE,
	sender TEXT NOT NULL DEFAULT '',
	recipients_to TEXT NOT NULL DEFAULT '',
	recipients_cc TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	sent_at TEXT,
	archive TEXT NOT NULL DEFAULT '',
	has_attachments INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS calendar_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_hash TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	starts_at TEXT,
	ends_at TEXT,
	archive TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tag_associations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	account TEXT NOT NULL,
	rule_kind TEXT NOT NULL,
	matched_value TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);
CREATE INDEX IF NOT EXISTS idx_messages_recipients ON messages(recipients_to);
CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages(sent_at);
CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);
CREATE INDEX IF NOT EXISTS idx_tags_message ON tag_associations(message_id);
CREATE INDEX IF NOT EXISTS idx_tags_account ON tag_associations(account);

CREATE VIRTUAL TABLE IF NOT EXISTS message_fts USING fts5(subject, body);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// BatchItem pairs one envelope with its tag associations.
type BatchItem struct {
	Envelope *model.CanonicalEnvelope
	Tags     []model.TagAssociation
}

// InsertedMessage identifies a newly stored message for downstream
// collaborators such as the semantic indexer.
type InsertedMessage struct {
	ID      int64
	Subject string
	Body    string
}

// BatchResult summarizes one committed batch.
type BatchResult struct {
	Inserted   []InsertedMessage
	Messages   int
	Events     int
	Duplicates int
	Tagged     int
	Untagged   int
}

// WriteBatch writes a batch of records in a single transaction. Commit is
// all-or-nothing: any failure rolls the whole batch back and the caller must
// not advance the checkpoint. Records whose content hash is already present
// are counted as duplicate-skips, inserting nothing (no tags either).
func (s *Store) WriteBatch(ctx context.Context, archive string, items []BatchItem) (BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res BatchResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		env := item.Envelope
		if env.Kind == model.RecordEvent {
			inserted, err := insertEvent(ctx, tx, archive, env)
			if err != nil {
				return BatchResult{}, err
			}
			if inserted {
				res.Events++
			} else {
				res.Duplicates++
			}
			continue
		}

		id, inserted, err := insertMessage(ctx, tx, archive, env)
		if err != nil {
			return BatchResult{}, err
		}
		if !inserted {
			res.Duplicates++
			continue
		}
		res.Messages++
		res.Inserted = append(res.Inserted, InsertedMessage{ID: id, Subject: env.Subject, Body: env.Body})

		if err := insertTags(ctx, tx, id, item.Tags); err != nil {
			return BatchResult{}, err
		}
		if len(item.Tags) > 0 {
			res.Tagged++
		} else {
			res.Untagged++
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{}, fmt.Errorf("commit batch: %w", err)
	}
	return res, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, archive string, env *model.CanonicalEnvelope) (int64, bool, error) {
	var existing int64
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM messages WHERE content_hash = ?", env.ContentHash).Scan(&existing)
	if err == nil {
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("dedup lookup: %w", err)
	}

	hasAttachments := 0
	if len(env.Attachments) > 0 {
		hasAttachments = 1
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (content_hash, sender, recipients_to, recipients_cc, subject, body, sent_at, archive, has_attachments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		env.ContentHash,
		env.Sender,
		strings.Join(env.To, ";"),
		strings.Join(env.Cc, ";"),
		env.Subject,
		env.Body,
		nullTime(env.SentAt),
		archive,
		hasAttachments,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("message id: %w", err)
	}

	for _, att := range env.Attachments {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO attachments (message_id, name, size, mime_type) VALUES (?, ?, ?, ?)",
			id, att.Name, att.Size, att.MimeType); err != nil {
			return 0, false, fmt.Errorf("insert attachment: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO message_fts (rowid, subject, body) VALUES (?, ?, ?)",
		id, env.Subject, env.Body); err != nil {
		return 0, false, fmt.Errorf("index message: %w", err)
	}

	return id, true, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, archive string, env *model.CanonicalEnvelope) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO calendar_events (content_hash, title, location, starts_at, ends_at, archive)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO NOTHING`,
		env.ContentHash,
		env.Title,
		env.Location,
		nullTime(env.StartsAt),
		nullTime(env.EndsAt),
		archive,
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("event rows affected: %w", err)
	}
	return affected > 0, nil
}

func insertTags(ctx context.Context, tx *sql.Tx, messageID int64, tags []model.TagAssociation) error {
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tag_associations (message_id, account, rule_kind, matched_value) VALUES (?, ?, ?, ?)",
			messageID, tag.Account, string(tag.Kind), tag.MatchedValue); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
