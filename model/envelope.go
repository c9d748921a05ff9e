package model

import "time"

// CanonicalEnvelope is the normalized representation of one source unit,
// either a message or a calendar event. ContentHash is the dedup identity:
// the same logical message recovered from different archive formats hashes
// to the same value.
type CanonicalEnvelope struct {
	Kind        RecordKind
	ContentHash string

	// message fields
	Sender      string
	To          []string
	Cc          []string
	Subject     string
	Body        string
	SentAt      *time.Time
	Attachments []Attachment

	// calendar fields
	Title    string
	Location string
	StartsAt *time.Time
	EndsAt   *time.Time

	Source   string
	Position int64
}

// RuleKind names the rule stage that produced a tag. Precedence is
// override > domain > keyword, fixed.
type RuleKind string

const (
	RuleOverride RuleKind = "override"
	RuleDomain   RuleKind = "domain"
	RuleKeyword  RuleKind = "keyword"
)

// TagAssociation records why an account tag was applied to a message.
type TagAssociation struct {
	Account      string
	Kind         RuleKind
	MatchedValue string
}
