package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Account is one config-defined account with its matching patterns.
// Slice order in the file is evaluation order for domain matching.
type Account struct {
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	Domains  []string `yaml:"domains"`
	Keywords []string `yaml:"keywords"`
}

// Overrides maps exact sender/recipient addresses to an account name.
type Overrides struct {
	Addresses map[string]string `yaml:"addresses"`
}

// Semantic toggles the optional embedding collaborator.
type Semantic struct {
	Enabled bool   `yaml:"enabled"`
	Spool   string `yaml:"spool"`
}

// Rules is the tagging configuration snapshot for one ingest run. It is
// loaded once and never mutated afterwards.
type Rules struct {
	Accounts  []Account `yaml:"accounts"`
	Overrides Overrides `yaml:"overrides"`
	Semantic  Semantic  `yaml:"semantic"`
}

// LoadRules reads and validates the YAML tagging configuration. Any parse
// or validation failure aborts the run before writes occur.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	if err := rules.normalize(); err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}

	return &rules, nil
}

// normalize lowercases all match patterns so evaluation stays
// case-insensitive without per-record lowering of the config side.
func (r *Rules) normalize() error {
	for i := range r.Accounts {
		acc := &r.Accounts[i]
		if strings.TrimSpace(acc.Name) == "" {
			return fmt.Errorf("account %d has no name", i)
		}
		acc.Aliases = lowerAll(acc.Aliases)
		acc.Keywords = lowerAll(acc.Keywords)
		acc.Domains = lowerAll(acc.Domains)
		for _, d := range acc.Domains {
			if strings.ContainsAny(d, "@ ") {
				return fmt.Errorf("account %q: domain %q must be a bare domain", acc.Name, d)
			}
		}
	}

	if len(r.Overrides.Addresses) > 0 {
		lowered := make(map[string]string, len(r.Overrides.Addresses))
		for addr, account := range r.Overrides.Addresses {
			addr = strings.ToLower(strings.TrimSpace(addr))
			if addr == "" || strings.TrimSpace(account) == "" {
				return fmt.Errorf("override %q -> %q is incomplete", addr, account)
			}
			lowered[addr] = account
		}
		r.Overrides.Addresses = lowered
	}

	return nil
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
