// Package normalize maps raw source records onto the canonical envelope
// shared by every archive format. Malformed headers degrade to empty fields,
// unparsable timestamps become nil; only an undecodable record as a whole is
// reported as an error.
package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"

	"mailvault/model"
)

var ErrEmptyRecord = errors.New("source record carries no payload")

// Envelope converts one raw record into a canonical envelope, including its
// content hash. Returns an error only for records that cannot be decoded at
// all; such errors are record-recoverable for the caller.
func Envelope(rec model.RawRecord) (*model.CanonicalEnvelope, error) {
	var (
		env *model.CanonicalEnvelope
		err error
	)

	switch {
	case rec.Event != nil:
		env, err = fromEvent(rec.Event)
	case rec.Fields != nil:
		env = fromFields(rec.Fields)
	case len(rec.Raw) > 0:
		env, err = fromRFC822(rec.Raw)
	default:
		return nil, ErrEmptyRecord
	}
	if err != nil {
		return nil, err
	}

	env.Source = rec.Source
	env.Position = rec.Position
	env.ContentHash = ContentHash(env)
	return env, nil
}

func fromRFC822(raw []byte) (*model.CanonicalEnvelope, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	header := mail.Header{Header: entity.Header}

	env := &model.CanonicalEnvelope{Kind: model.RecordMessage}
	env.Sender = firstAddress(header, "From")
	env.To = addressList(header, "To")
	env.Cc = addressList(header, "Cc")

	if subject, err := header.Subject(); err == nil {
		env.Subject = strings.TrimSpace(subject)
	} else {
		env.Subject = strings.TrimSpace(entity.Header.Get("Subject"))
	}

	if date, err := header.Date(); err == nil && !date.IsZero() {
		utc := date.UTC()
		env.SentAt = &utc
	}

	body, attachments := extractBody(entity)
	env.Body = body
	env.Attachments = attachments
	return env, nil
}

func fromFields(fields *model.SourceFields) *model.CanonicalEnvelope {
	env := &model.CanonicalEnvelope{
		Kind:        model.RecordMessage,
		Sender:      strings.ToLower(strings.TrimSpace(fields.Sender)),
		Subject:     strings.TrimSpace(fields.Subject),
		Body:        strings.TrimSpace(fields.Body),
		Attachments: fields.Attachments,
	}
	for _, addr := range fields.To {
		if addr = strings.ToLower(strings.TrimSpace(addr)); addr != "" {
			env.To = append(env.To, addr)
		}
	}
	for _, addr := range fields.Cc {
		if addr = strings.ToLower(strings.TrimSpace(addr)); addr != "" {
			env.Cc = append(env.Cc, addr)
		}
	}
	if t := parseTimestamp(fields.Date); t != nil {
		env.SentAt = t
	}
	return env
}

func fromEvent(event *model.SourceEvent) (*model.CanonicalEnvelope, error) {
	if event.Summary == "" && event.Start == "" {
		return nil, fmt.Errorf("event record has neither summary nor start")
	}
	return &model.CanonicalEnvelope{
		Kind:     model.RecordEvent,
		Title:    strings.TrimSpace(event.Summary),
		Location: strings.TrimSpace(event.Location),
		StartsAt: parseTimestamp(event.Start),
		EndsAt:   parseTimestamp(event.End),
	}, nil
}

func firstAddress(header mail.Header, field string) string {
	addrs := addressList(header, field)
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

func addressList(header mail.Header, field string) []string {
	addrs, err := header.AddressList(field)
	if err != nil || len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr.Address == "" {
			continue
		}
		out = append(out, strings.ToLower(addr.Address))
	}
	return out
}

// extractBody walks the MIME tree collecting the best plain-text body and
// attachment metadata. When only HTML is present it is stripped to text.
func extractBody(entity *message.Entity) (string, []model.Attachment) {
	var (
		plaintext   *string
		htmlBody    *string
		attachments []model.Attachment
	)

	var walk func(e *message.Entity)
	walk = func(e *message.Entity) {
		mediaType, _, _ := e.Header.ContentType()

		if strings.HasPrefix(mediaType, "multipart/") {
			mr := e.MultipartReader()
			if mr == nil {
				return
			}
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					return
				}
				if err != nil {
					return
				}
				walk(part)
			}
		}

		disposition, dispParams, _ := e.Header.ContentDisposition()
		if disposition == "attachment" {
			name := dispParams["filename"]
			if name == "" {
				_, typeParams, _ := e.Header.ContentType()
				name = typeParams["name"]
			}
			size, _ := io.Copy(io.Discard, e.Body)
			attachments = append(attachments, model.Attachment{
				Name:     name,
				Size:     size,
				MimeType: mediaType,
			})
			return
		}

		switch mediaType {
		case "text/plain", "":
			if plaintext == nil {
				if content, err := io.ReadAll(e.Body); err == nil {
					s := string(content)
					plaintext = &s
				}
			}
		case "text/html":
			if htmlBody == nil {
				if content, err := io.ReadAll(e.Body); err == nil {
					s := string(content)
					htmlBody = &s
				}
			}
		}
	}
	walk(entity)

	if plaintext == nil && htmlBody != nil {
		stripped := html2text.HTML2Text(*htmlBody)
		plaintext = &stripped
	}
	if plaintext == nil {
		return "", attachments
	}
	return strings.TrimSpace(*plaintext), attachments
}

var timestampLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"20060102T150405Z",
	"20060102T150405",
	"20060102",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp normalizes a source timestamp to UTC. Unparsable values
// yield nil rather than failing the record.
func parseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	if t, err := netmail.ParseDate(value); err == nil {
		utc := t.UTC()
		return &utc
	}
	return nil
}
