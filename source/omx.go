package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"mailvault/model"
)

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

const omxAttachmentDir = "com.microsoft.__Attachments"

// streamOMXFile recovers a message from an Outlook-for-Mac XML export file.
// Every .xml file consumes exactly one position whether or not it turns out
// to hold a message, so resume offsets stay stable without re-parsing.
func streamOMXFile(ctx context.Context, path, rel string, cur *cursor, out chan<- model.RawRecord) error {
	if strings.EqualFold(filepath.Base(path), "categories.xml") {
		return nil
	}

	pos, active := cur.next()
	if !active {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return emit(ctx, out, model.RawRecord{
			Position: pos,
			Source:   rel,
			Kind:     model.RecordMessage,
			Err:      fmt.Errorf("read %s: %w", rel, err),
		})
	}

	fields := parseOMX(data)
	if fields == nil {
		// not a message document
		return nil
	}
	fields.Attachments = omxAttachments(path)

	return emit(ctx, out, model.RawRecord{
		Position: pos,
		Source:   rel,
		Kind:     model.RecordMessage,
		Fields:   fields,
	})
}

// parseOMX flattens the XML tree into tag -> values and picks message fields
// by the tag names Outlook for Mac is known to use. Returns nil when the
// document has neither subject nor body.
func parseOMX(data []byte) *model.SourceFields {
	flat, attrEmails := flattenXML(data)
	if flat == nil {
		return nil
	}

	subject := pick(flat, "subject", "mssubject", "itemsubject", "title", "opfmessagecopysubject")
	body := pick(flat, "body", "textbody", "plaintext", "preview", "bodypreview", "content", "opfmessagecopybody")
	if subject == "" && body == "" {
		return nil
	}

	sender := ""
	senderBlock := pick(flat, "from", "sender", "fromname", "fromemailaddress", "opfmessagecopysenderaddress")
	if m := emailPattern.FindString(senderBlock); m != "" {
		sender = m
	}
	if sender == "" && len(attrEmails) > 0 {
		sender = attrEmails[0]
	}
	if sender == "" {
		sender = anyEmail(flat)
	}

	return &model.SourceFields{
		Subject: subject,
		Sender:  sender,
		To:      collectEmails(flat, "to", "torecipients", "recipient", "toaddresses", "toemailaddress"),
		Cc:      collectEmails(flat, "cc", "ccrecipients", "ccaddresses", "ccemailaddress"),
		Date:    pick(flat, "datesent", "datetimesent", "sent", "date", "receivedtime", "opfmessagecopyreceivedtime", "opfmessagecopysenttime"),
		Body:    body,
	}
}

// flattenXML returns all element text keyed by lowercased local tag name,
// plus any email-looking attribute values of emailAddress elements.
func flattenXML(data []byte) (map[string][]string, []string) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	decoder.Strict = false

	flat := make(map[string][]string)
	var attrEmails []string
	var stack []string

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil
		}
		switch t := token.(type) {
		case xml.StartElement:
			name := strings.ToLower(t.Name.Local)
			stack = append(stack, name)
			if name == "emailaddress" {
				for _, attr := range t.Attr {
					if m := emailPattern.FindString(attr.Value); m != "" {
						attrEmails = append(attrEmails, m)
					}
				}
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			value := strings.TrimSpace(string(t))
			if value == "" {
				continue
			}
			key := stack[len(stack)-1]
			flat[key] = append(flat[key], value)
		}
	}
	if len(flat) == 0 {
		return nil, nil
	}
	return flat, attrEmails
}

func pick(flat map[string][]string, keys ...string) string {
	for _, key := range keys {
		if values := flat[key]; len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

func collectEmails(flat map[string][]string, keys ...string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, key := range keys {
		for _, value := range flat[key] {
			for _, m := range emailPattern.FindAllString(value, -1) {
				if !seen[m] {
					seen[m] = true
					out = append(out, m)
				}
			}
		}
	}
	return out
}

func anyEmail(flat map[string][]string) string {
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, value := range flat[key] {
			if m := emailPattern.FindString(value); m != "" {
				return m
			}
		}
	}
	return ""
}

// omxAttachments lists attachment metadata from the sibling attachments
// directory Outlook for Mac writes next to message files.
func omxAttachments(xmlPath string) []model.Attachment {
	dir := filepath.Join(filepath.Dir(xmlPath), omxAttachmentDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []model.Attachment
	for _, entry := range entries {
		if entry.IsDir() || strings.EqualFold(filepath.Ext(entry.Name()), ".xml") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, model.Attachment{Name: entry.Name(), Size: info.Size()})
	}
	return out
}
