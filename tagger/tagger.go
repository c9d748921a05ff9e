// Package tagger applies account tags to normalized messages. Evaluation is
// a pure function of (envelope, rules snapshot): identical inputs always
// produce identical associations regardless of run order or prior state.
package tagger

import (
	"strings"

	"mailvault/config"
	"mailvault/model"
)

// Tag evaluates the fixed three-stage pipeline: manual overrides by exact
// identity, then domain patterns, then keyword/alias patterns. Overrides and
// domains stop at the first match; keyword matching records every matching
// account. A message matching nothing returns an empty slice and is still
// persisted untagged.
func Tag(env *model.CanonicalEnvelope, rules *config.Rules) []model.TagAssociation {
	if env.Kind != model.RecordMessage {
		return nil
	}

	identities := collectIdentities(env)

	if tag, ok := matchOverride(identities, rules); ok {
		return []model.TagAssociation{tag}
	}
	if tag, ok := matchDomain(identities, rules); ok {
		return []model.TagAssociation{tag}
	}
	return matchKeywords(env, rules)
}

// collectIdentities returns sender then recipients, lowercased, in a stable
// order. Sender first so override ties resolve toward the sender.
func collectIdentities(env *model.CanonicalEnvelope) []string {
	identities := make([]string, 0, 1+len(env.To)+len(env.Cc))
	if env.Sender != "" {
		identities = append(identities, strings.ToLower(env.Sender))
	}
	for _, addr := range env.To {
		identities = append(identities, strings.ToLower(addr))
	}
	for _, addr := range env.Cc {
		identities = append(identities, strings.ToLower(addr))
	}
	return identities
}

func matchOverride(identities []string, rules *config.Rules) (model.TagAssociation, bool) {
	for _, id := range identities {
		if account, ok := rules.Overrides.Addresses[id]; ok {
			return model.TagAssociation{
				Account:      account,
				Kind:         model.RuleOverride,
				MatchedValue: id,
			}, true
		}
	}
	return model.TagAssociation{}, false
}

func matchDomain(identities []string, rules *config.Rules) (model.TagAssociation, bool) {
	for _, acc := range rules.Accounts {
		for _, domain := range acc.Domains {
			suffix := "@" + domain
			for _, id := range identities {
				if strings.HasSuffix(id, suffix) {
					return model.TagAssociation{
						Account:      acc.Name,
						Kind:         model.RuleDomain,
						MatchedValue: domain,
					}, true
				}
			}
		}
	}
	return model.TagAssociation{}, false
}

func matchKeywords(env *model.CanonicalEnvelope, rules *config.Rules) []model.TagAssociation {
	text := strings.ToLower(env.Subject + "\n" + env.Body)

	var tags []model.TagAssociation
	for _, acc := range rules.Accounts {
		// keywords first, then aliases; one association per account
		if pattern, ok := firstContained(text, acc.Keywords, acc.Aliases); ok {
			tags = append(tags, model.TagAssociation{
				Account:      acc.Name,
				Kind:         model.RuleKeyword,
				MatchedValue: pattern,
			})
		}
	}
	return tags
}

func firstContained(text string, patternSets ...[]string) (string, bool) {
	for _, patterns := range patternSets {
		for _, pattern := range patterns {
			if pattern != "" && strings.Contains(text, pattern) {
				return pattern, true
			}
		}
	}
	return "", false
}
