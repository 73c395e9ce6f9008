// Package redact scrubs secrets and PII from transcripts before they are
// exposed through a public share.
package redact

import (
	"fmt"
	"regexp"
	"sort"
)

// Rule detects sensitive data in a string and provides a replacement.
type Rule interface {
	Name() string
	Category() string
	Detect(s string) []Match
	Replacement(m Match) string
}

// Match is one detected occurrence within a string.
type Match struct {
	Start int
	End   int
	Value string
}

// Rule categories accepted in configuration.
const (
	CategorySecrets = "secrets"
	CategoryPII     = "pii"
)

type regexRule struct {
	name     string
	category string
	pattern  *regexp.Regexp
}

func (r *regexRule) Name() string     { return r.name }
func (r *regexRule) Category() string { return r.category }

func (r *regexRule) Detect(s string) []Match {
	locs := r.pattern.FindAllStringIndex(s, -1)
	matches := make([]Match, len(locs))
	for i, loc := range locs {
		matches[i] = Match{Start: loc[0], End: loc[1], Value: s[loc[0]:loc[1]]}
	}
	return matches
}

func (r *regexRule) Replacement(Match) string {
	return fmt.Sprintf("[REDACTED:%s]", r.name)
}

func rule(category, name, pattern string) Rule {
	return &regexRule{name: name, category: category, pattern: regexp.MustCompile(pattern)}
}

var builtin = map[string][]Rule{
	CategorySecrets: {
		rule(CategorySecrets, "aws_key", `AKIA[0-9A-Z]{16}`),
		rule(CategorySecrets, "api_key", `(?:sk-[a-zA-Z0-9_\-]{32,}|ghp_[a-zA-Z0-9]{36,}|gho_[a-zA-Z0-9]{36,}|glpat-[a-zA-Z0-9\-]{20,})`),
		rule(CategorySecrets, "tunnel_token", `(?:ngrok_authtoken|NGROK_AUTHTOKEN|tskey-[a-z]+)[=: -]*[A-Za-z0-9_\-]{20,}`),
		rule(CategorySecrets, "private_key", `-----BEGIN [A-Z ]+PRIVATE KEY-----`),
		rule(CategorySecrets, "connection_string", `(?:postgres|mongodb|mysql|redis)://[^\s"'`+"`"+`]+`),
		rule(CategorySecrets, "jwt", `eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_.+/=]+`),
	},
	CategoryPII: {
		rule(CategoryPII, "email", `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		rule(CategoryPII, "ipv4", `\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
		rule(CategoryPII, "phone", `(?:\+\d{1,3}[\s\-]?)?\(?\d{3}\)?[\s\-]?\d{3}[\s\-]?\d{4}`),
	},
}

// Rules returns the built-in rules for a category.
func Rules(category string) ([]Rule, error) {
	rules, ok := builtin[category]
	if !ok {
		return nil, fmt.Errorf("unknown redaction category %q (want one of %v)", category, Categories())
	}
	return rules, nil
}

// Categories lists the known rule categories in sorted order.
func Categories() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
