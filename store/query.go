package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// SearchResult is one hit from the full-text index.
type SearchResult struct {
	ID       int64
	Sender   string
	Subject  string
	SentAt   string
	Accounts string
}

// Search runs an FTS5 match over subject+body, optionally narrowed to an
// account tag or sender address.
func (s *Store) Search(ctx context.Context, query, account, sender string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	sqlQuery := `
		SELECT m.id, m.sender, m.subject, COALESCE(m.sent_at, ''),
		       COALESCE((SELECT group_concat(DISTINCT account) FROM tag_associations WHERE message_id = m.id), '')
		FROM message_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE message_fts MATCH ?`
	args := []any{query}

	if account != "" {
		sqlQuery += " AND EXISTS (SELECT 1 FROM tag_associations t WHERE t.message_id = m.id AND t.account = ?)"
		args = append(args, account)
	}
	if sender != "" {
		sqlQuery += " AND m.sender = ?"
		args = append(args, sender)
	}
	sqlQuery += " ORDER BY m.sent_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Sender, &r.Subject, &r.SentAt, &r.Accounts); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// TimelineEntry is one row of the chronological compliance listing,
// either a message or a calendar event.
type TimelineEntry struct {
	When    string
	Kind    string
	Title   string
	Sender  string
	Account string
}

// Timeline returns messages and calendar events in chronological order,
// optionally restricted to one account tag (events are never tagged and are
// only included in the unfiltered view).
func (s *Store) Timeline(ctx context.Context, account string, limit int) ([]TimelineEntry, error) {
	if limit <= 0 {
		limit = 200
	}

	var (
		rows *sql.Rows
		err  error
	)
	if account != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT COALESCE(m.sent_at, ''), 'message', m.subject, m.sender,
			       COALESCE((SELECT group_concat(DISTINCT account) FROM tag_associations WHERE message_id = m.id), '')
			FROM messages m
			WHERE EXISTS (SELECT 1 FROM tag_associations t WHERE t.message_id = m.id AND t.account = ?)
			ORDER BY m.sent_at LIMIT ?`, account, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT * FROM (
				SELECT COALESCE(m.sent_at, '') AS at, 'message' AS kind, m.subject AS title, m.sender AS sender,
				       COALESCE((SELECT group_concat(DISTINCT account) FROM tag_associations WHERE message_id = m.id), '') AS account
				FROM messages m
				UNION ALL
				SELECT COALESCE(e.starts_at, ''), 'event', e.title, e.location, ''
				FROM calendar_events e
			) ORDER BY at LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	defer rows.Close()

	var entries []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.When, &e.Kind, &e.Title, &e.Sender, &e.Account); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Dossier aggregates per-account activity for the account-planning report.
type Dossier struct {
	Account        string
	MessageCount   int
	TopSenders     []Count
	RecentSubjects []string
}

type Count struct {
	Key   string
	Value int
}

func (s *Store) DossierFor(ctx context.Context, account string, topN int) (*Dossier, error) {
	if topN <= 0 {
		topN = 10
	}
	d := &Dossier{Account: account}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT message_id) FROM tag_associations WHERE account = ?`,
		account).Scan(&d.MessageCount)
	if err != nil {
		return nil, fmt.Errorf("dossier count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.sender, COUNT(*) AS n
		FROM messages m
		JOIN tag_associations t ON t.message_id = m.id
		WHERE t.account = ? AND m.sender != ''
		GROUP BY m.sender ORDER BY n DESC LIMIT ?`, account, topN)
	if err != nil {
		return nil, fmt.Errorf("dossier senders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Key, &c.Value); err != nil {
			return nil, err
		}
		d.TopSenders = append(d.TopSenders, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subjectRows, err := s.db.QueryContext(ctx, `
		SELECT m.subject
		FROM messages m
		JOIN tag_associations t ON t.message_id = m.id
		WHERE t.account = ?
		ORDER BY m.sent_at DESC LIMIT ?`, account, topN)
	if err != nil {
		return nil, fmt.Errorf("dossier subjects: %w", err)
	}
	defer subjectRows.Close()
	for subjectRows.Next() {
		var subject string
		if err := subjectRows.Scan(&subject); err != nil {
			return nil, err
		}
		d.RecentSubjects = append(d.RecentSubjects, subject)
	}
	return d, subjectRows.Err()
}

// ExportCSV streams all messages with their tags as CSV.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content_hash, m.sender, m.recipients_to, m.recipients_cc,
		       m.subject, COALESCE(m.sent_at, ''), m.archive,
		       COALESCE((SELECT group_concat(DISTINCT account) FROM tag_associations WHERE message_id = m.id), '')
		FROM messages m ORDER BY m.id`)
	if err != nil {
		return fmt.Errorf("export query: %w", err)
	}
	defer rows.Close()

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"id", "content_hash", "sender", "to", "cc", "subject", "sent_at", "archive", "accounts"}); err != nil {
		return err
	}

	for rows.Next() {
		var (
			id                                                       int64
			hash, sender, to, cc, subject, sentAt, archive, accounts string
		)
		if err := rows.Scan(&id, &hash, &sender, &to, &cc, &subject, &sentAt, &archive, &accounts); err != nil {
			return err
		}
		record := []string{strconv.FormatInt(id, 10), hash, sender, to, cc, subject, sentAt, archive, accounts}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	writer.Flush()
	return writer.Error()
}

// Counts reports total row counts, used by tests and the init-db command.
func (s *Store) Counts(ctx context.Context) (messages, events, tags int, err error) {
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&messages); err != nil {
		return
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calendar_events").Scan(&events); err != nil {
		return
	}
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tag_associations").Scan(&tags)
	return
}
