package tagger

import (
	"testing"

	"mailvault/config"
	"mailvault/model"
)

func testRules() *config.Rules {
	return &config.Rules{
		Accounts: []config.Account{
			{
				Name:     "Acme Corp",
				Aliases:  []string{"acme corporation"},
				Domains:  []string{"acme.com"},
				Keywords: []string{"acme"},
			},
			{
				Name:     "Globex",
				Domains:  []string{"globex.io"},
				Keywords: []string{"globex", "renewal"},
			},
		},
		Overrides: config.Overrides{
			Addresses: map[string]string{
				"bob@acme.com": "Acme Corp",
			},
		},
	}
}

func TestOverrideBeatsKeyword(t *testing.T) {
	env := &model.CanonicalEnvelope{
		Kind:    model.RecordMessage,
		Sender:  "bob@acme.com",
		Subject: "hello",
		Body:    "lots of acme and renewal talk",
	}

	tags := Tag(env, testRules())
	if len(tags) != 1 {
		t.Fatalf("expected exactly 1 tag, got %d: %v", len(tags), tags)
	}
	if tags[0].Account != "Acme Corp" || tags[0].Kind != model.RuleOverride {
		t.Errorf("expected override tag for Acme Corp, got %+v", tags[0])
	}
}

func TestDomainBeatsKeyword(t *testing.T) {
	env := &model.CanonicalEnvelope{
		Kind:   model.RecordMessage,
		Sender: "someone@mail.test",
		To:     []string{"ceo@globex.io"},
		Body:   "mentions acme in passing",
	}

	tags := Tag(env, testRules())
	if len(tags) != 1 {
		t.Fatalf("expected exactly 1 tag, got %d: %v", len(tags), tags)
	}
	if tags[0].Account != "Globex" || tags[0].Kind != model.RuleDomain {
		t.Errorf("expected domain tag for Globex, got %+v", tags[0])
	}
	if tags[0].MatchedValue != "globex.io" {
		t.Errorf("matched value must record the domain: %+v", tags[0])
	}
}

func TestMultipleKeywordMatches(t *testing.T) {
	env := &model.CanonicalEnvelope{
		Kind:    model.RecordMessage,
		Sender:  "noreply@unrelated.test",
		Subject: "ACME renewal discussion",
	}

	tags := Tag(env, testRules())
	if len(tags) != 2 {
		t.Fatalf("expected 2 keyword tags, got %d: %v", len(tags), tags)
	}
	for _, tag := range tags {
		if tag.Kind != model.RuleKeyword {
			t.Errorf("expected keyword tag, got %+v", tag)
		}
	}
	if tags[0].Account != "Acme Corp" || tags[1].Account != "Globex" {
		t.Errorf("keyword tags must follow account config order: %v", tags)
	}
}

func TestNoMatchYieldsUntagged(t *testing.T) {
	env := &model.CanonicalEnvelope{
		Kind:    model.RecordMessage,
		Sender:  "stranger@elsewhere.test",
		Subject: "lunch?",
		Body:    "see you at noon",
	}

	if tags := Tag(env, testRules()); len(tags) != 0 {
		t.Errorf("expected no tags, got %v", tags)
	}
}

func TestMatchingIsCaseInsensitive(t *testing.T) {
	tests := []struct {
		name string
		env  model.CanonicalEnvelope
		want string
	}{
		{
			name: "override uppercase sender",
			env:  model.CanonicalEnvelope{Kind: model.RecordMessage, Sender: "BOB@ACME.COM"},
			want: "Acme Corp",
		},
		{
			name: "domain uppercase recipient",
			env:  model.CanonicalEnvelope{Kind: model.RecordMessage, To: []string{"Sales@GLOBEX.IO"}},
			want: "Globex",
		},
		{
			name: "keyword uppercase body",
			env:  model.CanonicalEnvelope{Kind: model.RecordMessage, Body: "RENEWAL TIME"},
			want: "Globex",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags := Tag(&tt.env, testRules())
			if len(tags) == 0 {
				t.Fatal("expected a tag")
			}
			if tags[0].Account != tt.want {
				t.Errorf("expected %s, got %+v", tt.want, tags[0])
			}
		})
	}
}

func TestEventsAreNeverTagged(t *testing.T) {
	env := &model.CanonicalEnvelope{
		Kind:  model.RecordEvent,
		Title: "acme renewal call",
	}
	if tags := Tag(env, testRules()); tags != nil {
		t.Errorf("calendar events must not be tagged, got %v", tags)
	}
}
