package normalize

import (
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"mailvault/model"
)

// ContentHash computes the deterministic identity hash of an envelope from a
// canonical byte serialization of its normalized fields. The serialization is
// independent of the source format, so the same message recovered from a PST
// and from an exported eml hashes identically.
func ContentHash(env *model.CanonicalEnvelope) string {
	var b strings.Builder

	if env.Kind == model.RecordEvent {
		b.WriteString("event\x00")
		b.WriteString(canonicalText(env.Title))
		b.WriteByte(0)
		b.WriteString(canonicalText(env.Location))
		b.WriteByte(0)
		b.WriteString(canonicalTime(env.StartsAt))
		b.WriteByte(0)
		b.WriteString(canonicalTime(env.EndsAt))
	} else {
		b.WriteString("message\x00")
		b.WriteString(canonicalText(env.Subject))
		b.WriteByte(0)
		b.WriteString(strings.ToLower(strings.TrimSpace(env.Sender)))
		b.WriteByte(0)
		b.WriteString(canonicalRecipients(env.To, env.Cc))
		b.WriteByte(0)
		b.WriteString(canonicalText(env.Body))
	}

	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// canonicalText lowercases and collapses all whitespace runs so that
// formatting differences between export formats do not change the hash.
func canonicalText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func canonicalRecipients(to, cc []string) string {
	all := make([]string, 0, len(to)+len(cc))
	for _, addr := range to {
		all = append(all, strings.ToLower(addr))
	}
	for _, addr := range cc {
		all = append(all, strings.ToLower(addr))
	}
	sort.Strings(all)
	return strings.Join(all, ",")
}

func canonicalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
