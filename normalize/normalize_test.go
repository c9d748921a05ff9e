package normalize

import (
	"strings"
	"testing"
	"time"

	"mailvault/model"
)

const sampleEML = "From: Bob Example <Bob@Acme.com>\r\n" +
	"To: alice@example.com, carol@example.com\r\n" +
	"Cc: dave@example.com\r\n" +
	"Subject: Quarterly   Renewal\r\n" +
	"Date: Mon, 15 Jan 2024 10:00:00 +0000\r\n" +
	"\r\n" +
	"Let's discuss the renewal.\r\n"

func TestEnvelopeFromRFC822(t *testing.T) {
	env, err := Envelope(model.RawRecord{
		Position: 1,
		Source:   "inbox.mbox#1",
		Kind:     model.RecordMessage,
		Raw:      []byte(sampleEML),
	})
	if err != nil {
		t.Fatalf("Envelope failed: %v", err)
	}

	if env.Sender != "bob@acme.com" {
		t.Errorf("sender not lowercased: %q", env.Sender)
	}
	if len(env.To) != 2 || env.To[0] != "alice@example.com" {
		t.Errorf("unexpected To list: %v", env.To)
	}
	if len(env.Cc) != 1 || env.Cc[0] != "dave@example.com" {
		t.Errorf("unexpected Cc list: %v", env.Cc)
	}
	if env.Subject != "Quarterly   Renewal" {
		t.Errorf("unexpected subject: %q", env.Subject)
	}
	if env.SentAt == nil {
		t.Fatal("expected a parsed date")
	}
	want := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	if !env.SentAt.Equal(want) {
		t.Errorf("expected %v, got %v", want, env.SentAt)
	}
	if !strings.Contains(env.Body, "discuss the renewal") {
		t.Errorf("unexpected body: %q", env.Body)
	}
	if env.ContentHash == "" {
		t.Error("content hash not set")
	}
	if env.Source != "inbox.mbox#1" || env.Position != 1 {
		t.Errorf("source metadata not carried: %q %d", env.Source, env.Position)
	}
}

func TestEnvelopeMissingHeadersDegrade(t *testing.T) {
	raw := "Subject: orphan\r\n\r\nno sender, no date\r\n"
	env, err := Envelope(model.RawRecord{Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("Envelope failed: %v", err)
	}
	if env.Sender != "" {
		t.Errorf("expected empty sender, got %q", env.Sender)
	}
	if env.SentAt != nil {
		t.Errorf("expected nil SentAt, got %v", env.SentAt)
	}
	if env.ContentHash == "" {
		t.Error("degraded record must still hash")
	}
}

func TestEnvelopeUnparsableDateIsNil(t *testing.T) {
	raw := "From: x@y.test\r\nDate: not a date at all\r\n\r\nhi\r\n"
	env, err := Envelope(model.RawRecord{Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("Envelope failed: %v", err)
	}
	if env.SentAt != nil {
		t.Errorf("expected nil SentAt for garbage date, got %v", env.SentAt)
	}
}

func TestEnvelopeHTMLOnlyBody(t *testing.T) {
	raw := "From: x@y.test\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<html><body><p>Hello <b>world</b></p></body></html>\r\n"
	env, err := Envelope(model.RawRecord{Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("Envelope failed: %v", err)
	}
	if strings.Contains(env.Body, "<") {
		t.Errorf("HTML not stripped: %q", env.Body)
	}
	if !strings.Contains(env.Body, "Hello") {
		t.Errorf("text content lost: %q", env.Body)
	}
}

func TestEnvelopeEmptyRecord(t *testing.T) {
	if _, err := Envelope(model.RawRecord{}); err == nil {
		t.Fatal("expected error for empty record")
	}
}

func TestEnvelopeFromEvent(t *testing.T) {
	env, err := Envelope(model.RawRecord{
		Kind: model.RecordEvent,
		Event: &model.SourceEvent{
			Summary:  "Renewal Call",
			Location: "Room 4",
			Start:    "20240115T100000",
			End:      "20240115T110000",
		},
	})
	if err != nil {
		t.Fatalf("Envelope failed: %v", err)
	}
	if env.Kind != model.RecordEvent {
		t.Errorf("expected event kind, got %v", env.Kind)
	}
	if env.Title != "Renewal Call" || env.Location != "Room 4" {
		t.Errorf("event fields lost: %+v", env)
	}
	if env.StartsAt == nil || !env.StartsAt.Equal(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start: %v", env.StartsAt)
	}
	if env.EndsAt == nil || !env.EndsAt.Equal(time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected end: %v", env.EndsAt)
	}
}

// The same message recovered from raw RFC 822 bytes and from pre-extracted
// fields must produce the same content hash, or cross-format dedup breaks.
func TestContentHashStableAcrossFormats(t *testing.T) {
	fromRaw, err := Envelope(model.RawRecord{Raw: []byte(sampleEML)})
	if err != nil {
		t.Fatalf("raw envelope failed: %v", err)
	}

	fromFields, err := Envelope(model.RawRecord{
		Fields: &model.SourceFields{
			Sender:  "BOB@ACME.COM",
			To:      []string{"carol@example.com", "Alice@Example.com"},
			Cc:      []string{"dave@example.com"},
			Subject: "  quarterly renewal ",
			Date:    "2024-01-15 10:00:00",
			Body:    "Let's   discuss\nthe renewal.",
		},
	})
	if err != nil {
		t.Fatalf("fields envelope failed: %v", err)
	}

	if fromRaw.ContentHash != fromFields.ContentHash {
		t.Errorf("hashes differ across formats:\n raw:    %s\n fields: %s",
			fromRaw.ContentHash, fromFields.ContentHash)
	}
}

func TestContentHashDistinguishesContent(t *testing.T) {
	base := &model.CanonicalEnvelope{Kind: model.RecordMessage, Sender: "a@b.test", Subject: "x", Body: "y"}
	other := &model.CanonicalEnvelope{Kind: model.RecordMessage, Sender: "a@b.test", Subject: "x", Body: "z"}
	if ContentHash(base) == ContentHash(other) {
		t.Error("different bodies must hash differently")
	}

	// an event and a message with coincidentally equal fields never collide
	evt := &model.CanonicalEnvelope{Kind: model.RecordEvent, Title: "x"}
	msg := &model.CanonicalEnvelope{Kind: model.RecordMessage, Subject: "x"}
	if ContentHash(evt) == ContentHash(msg) {
		t.Error("event and message hash domains must be distinct")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want string // RFC3339, empty means nil expected
	}{
		{"2024-01-15T10:00:00Z", "2024-01-15T10:00:00Z"},
		{"Mon, 15 Jan 2024 10:00:00 +0100", "2024-01-15T09:00:00Z"},
		{"20240115T100000Z", "2024-01-15T10:00:00Z"},
		{"20240115", "2024-01-15T00:00:00Z"},
		{"", ""},
		{"garbage", ""},
	}

	for _, tt := range tests {
		got := parseTimestamp(tt.in)
		if tt.want == "" {
			if got != nil {
				t.Errorf("parseTimestamp(%q) = %v, expected nil", tt.in, got)
			}
			continue
		}
		want, _ := time.Parse(time.RFC3339, tt.want)
		if got == nil || !got.Equal(want) {
			t.Errorf("parseTimestamp(%q) = %v, expected %v", tt.in, got, want)
		}
	}
}
