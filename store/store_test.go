package store

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailvault/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func messageItem(hash, sender, subject, body string, tags ...model.TagAssociation) BatchItem {
	return BatchItem{
		Envelope: &model.CanonicalEnvelope{
			Kind:        model.RecordMessage,
			ContentHash: hash,
			Sender:      sender,
			Subject:     subject,
			Body:        body,
		},
		Tags: tags,
	}
}

func TestWriteBatch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sentAt := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	items := []BatchItem{
		{
			Envelope: &model.CanonicalEnvelope{
				Kind:        model.RecordMessage,
				ContentHash: "hash-1",
				Sender:      "bob@acme.com",
				To:          []string{"alice@example.com"},
				Subject:     "Renewal quarterly",
				Body:        "Contract renewal details inside",
				SentAt:      &sentAt,
				Attachments: []model.Attachment{{Name: "draft.pdf", Size: 1024, MimeType: "application/pdf"}},
			},
			Tags: []model.TagAssociation{{Account: "Acme Corp", Kind: model.RuleOverride, MatchedValue: "bob@acme.com"}},
		},
		messageItem("hash-2", "x@y.test", "untagged one", "nothing matches here"),
		{
			Envelope: &model.CanonicalEnvelope{
				Kind:        model.RecordEvent,
				ContentHash: "event-1",
				Title:       "Renewal Call",
				Location:    "Room 4",
			},
		},
	}

	res, err := st.WriteBatch(ctx, "inbox.mbox", items)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Messages)
	assert.Equal(t, 1, res.Events)
	assert.Equal(t, 0, res.Duplicates)
	assert.Equal(t, 1, res.Tagged)
	assert.Equal(t, 1, res.Untagged)
	require.Len(t, res.Inserted, 2)
	assert.Equal(t, "Renewal quarterly", res.Inserted[0].Subject)

	messages, events, tags, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, messages)
	assert.Equal(t, 1, events)
	assert.Equal(t, 1, tags)
}

func TestWriteBatchDedup(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	items := []BatchItem{
		messageItem("same-hash", "a@b.test", "hello", "world",
			model.TagAssociation{Account: "Acme Corp", Kind: model.RuleKeyword, MatchedValue: "hello"}),
	}

	res, err := st.WriteBatch(ctx, "first.mbox", items)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Messages)

	// the same content from another archive is a duplicate skip and must
	// not add rows or tags
	res, err = st.WriteBatch(ctx, "second.mbox", items)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Messages)
	assert.Equal(t, 1, res.Duplicates)
	assert.Empty(t, res.Inserted)

	messages, _, tags, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, messages)
	assert.Equal(t, 1, tags)
}

func TestWriteBatchDedupWithinBatch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	res, err := st.WriteBatch(ctx, "a.mbox", []BatchItem{
		messageItem("dup", "a@b.test", "one", "x"),
		messageItem("dup", "a@b.test", "one", "x"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Messages)
	assert.Equal(t, 1, res.Duplicates)
}

func TestWriteBatchEventDedup(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	item := BatchItem{Envelope: &model.CanonicalEnvelope{
		Kind:        model.RecordEvent,
		ContentHash: "evt",
		Title:       "Standup",
	}}

	res, err := st.WriteBatch(ctx, "cal.ics", []BatchItem{item})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Events)

	res, err = st.WriteBatch(ctx, "cal.ics", []BatchItem{item})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Events)
	assert.Equal(t, 1, res.Duplicates)
}

func TestSearch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.WriteBatch(ctx, "inbox.mbox", []BatchItem{
		messageItem("h1", "bob@acme.com", "Renewal quarterly", "please sign the contract",
			model.TagAssociation{Account: "Acme Corp", Kind: model.RuleDomain, MatchedValue: "acme.com"}),
		messageItem("h2", "carol@globex.io", "lunch", "sushi on friday"),
	})
	require.NoError(t, err)

	results, err := st.Search(ctx, "renewal", "", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bob@acme.com", results[0].Sender)
	assert.Equal(t, "Acme Corp", results[0].Accounts)

	// body terms are indexed too
	results, err = st.Search(ctx, "sushi", "", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "lunch", results[0].Subject)

	// account filter excludes untagged hits
	results, err = st.Search(ctx, "sushi", "Acme Corp", "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTimeline(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	early := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	late := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	mid := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	_, err := st.WriteBatch(ctx, "inbox.mbox", []BatchItem{
		{Envelope: &model.CanonicalEnvelope{Kind: model.RecordMessage, ContentHash: "m1", Sender: "a@x.test", Subject: "first", SentAt: &early}},
		{Envelope: &model.CanonicalEnvelope{Kind: model.RecordMessage, ContentHash: "m2", Sender: "b@x.test", Subject: "last", SentAt: &late},
			Tags: []model.TagAssociation{{Account: "Acme Corp", Kind: model.RuleKeyword}}},
		{Envelope: &model.CanonicalEnvelope{Kind: model.RecordEvent, ContentHash: "e1", Title: "Renewal Call", StartsAt: &mid}},
	})
	require.NoError(t, err)

	entries, err := st.Timeline(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"first", "Renewal Call", "last"},
		[]string{entries[0].Title, entries[1].Title, entries[2].Title})
	assert.Equal(t, "event", entries[1].Kind)

	filtered, err := st.Timeline(ctx, "Acme Corp", 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "last", filtered[0].Title)
}

func TestDossierFor(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	tag := model.TagAssociation{Account: "Acme Corp", Kind: model.RuleDomain, MatchedValue: "acme.com"}
	_, err := st.WriteBatch(ctx, "inbox.mbox", []BatchItem{
		messageItem("h1", "bob@acme.com", "one", "x", tag),
		messageItem("h2", "bob@acme.com", "two", "y", tag),
		messageItem("h3", "eve@acme.com", "three", "z", tag),
		messageItem("h4", "other@y.test", "unrelated", "w"),
	})
	require.NoError(t, err)

	d, err := st.DossierFor(ctx, "Acme Corp", 5)
	require.NoError(t, err)
	assert.Equal(t, 3, d.MessageCount)
	require.NotEmpty(t, d.TopSenders)
	assert.Equal(t, "bob@acme.com", d.TopSenders[0].Key)
	assert.Equal(t, 2, d.TopSenders[0].Value)
	assert.Len(t, d.RecentSubjects, 3)
}

func TestExportCSV(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.WriteBatch(ctx, "inbox.mbox", []BatchItem{
		messageItem("h1", "bob@acme.com", "subject, with comma", "x",
			model.TagAssociation{Account: "Acme Corp", Kind: model.RuleOverride}),
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, st.ExportCSV(ctx, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,content_hash,sender"))
	assert.Contains(t, lines[1], `"subject, with comma"`)
	assert.Contains(t, lines[1], "Acme Corp")
}
