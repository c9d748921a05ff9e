package model

// RecordKind distinguishes the two unit types a source archive can yield.
type RecordKind int

const (
	RecordMessage RecordKind = iota
	RecordEvent
)

func (k RecordKind) String() string {
	if k == RecordEvent {
		return "event"
	}
	return "message"
}

// RawRecord is one unit pulled out of a source archive before normalization.
// Exactly one of Raw, Fields, Event or Err is set. Position is monotonically
// increasing within a single archive scan and is the unit the checkpoint
// advances over.
type RawRecord struct {
	Position int64
	Source   string // sub-path or offset label inside the archive
	Kind     RecordKind

	Raw    []byte        // RFC822 bytes, for mail formats
	Fields *SourceFields // pre-split fields, for non-RFC822 formats
	Event  *SourceEvent  // calendar payload

	Err error // decode error affecting this record only
}

// SourceFields carries message fields for formats that do not produce RFC822
// bytes, such as Outlook for Mac XML exports.
type SourceFields struct {
	Subject     string
	Sender      string
	To          []string
	Cc          []string
	Date        string
	Body        string
	Attachments []Attachment
}

// SourceEvent is a single VEVENT as read from an ICS file, values unparsed.
type SourceEvent struct {
	Summary  string
	Location string
	Start    string
	End      string
}

// Attachment holds attachment metadata only. Blob content is never retained.
type Attachment struct {
	Name     string
	Size     int64
	MimeType string
}
