package redact

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/sonnes/cgshare/core"
)

// Config selects the rules a Redactor applies.
type Config struct {
	Categories []string // e.g. "secrets", "pii"
	ExtraRules []Rule
	Allowlist  []string // regex patterns whose matches are left untouched
}

// Redactor applies redaction rules to every string in a Transcript.
type Redactor struct {
	rules     []Rule
	allowlist []*regexp.Regexp
}

// New builds a Redactor. It returns nil, nil when cfg selects no rules; a nil
// Redactor is a no-op transformer.
func New(cfg Config) (*Redactor, error) {
	var rules []Rule
	for _, c := range cfg.Categories {
		rs, err := Rules(c)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rs...)
	}
	rules = append(rules, cfg.ExtraRules...)
	if len(rules) == 0 {
		return nil, nil
	}

	allow := make([]*regexp.Regexp, 0, len(cfg.Allowlist))
	for _, pattern := range cfg.Allowlist {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile allowlist pattern %q: %w", pattern, err)
		}
		allow = append(allow, re)
	}

	return &Redactor{rules: rules, allowlist: allow}, nil
}

// Transform implements core.Transformer.
func (r *Redactor) Transform(t *core.Transcript) error {
	if r == nil {
		return nil
	}
	t.Title = r.String(t.Title)
	for i := range t.Messages {
		for j := range t.Messages[i].Content {
			b := &t.Messages[i].Content[j]
			switch b.Type {
			case core.BlockText, core.BlockThinking:
				b.Text = r.String(b.Text)
			case core.BlockToolUse:
				b.Input = walkAny(b.Input, r.String)
			case core.BlockToolResult:
				b.Content = r.String(b.Content)
			}
		}
	}
	return nil
}

// String applies all rules to s. Overlapping matches resolve to the earliest
// start, then the longest span.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}

	type span struct {
		start, end int
		text       string
	}

	var spans []span
	for _, rule := range r.rules {
		for _, m := range rule.Detect(s) {
			if r.allowed(m.Value) {
				continue
			}
			spans = append(spans, span{m.Start, m.End, rule.Replacement(m)})
		}
	}
	if len(spans) == 0 {
		return s
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	out := make([]byte, 0, len(s))
	pos := 0
	for _, sp := range spans {
		if sp.start < pos {
			continue
		}
		out = append(out, s[pos:sp.start]...)
		out = append(out, sp.text...)
		pos = sp.end
	}
	out = append(out, s[pos:]...)
	return string(out)
}

func (r *Redactor) allowed(value string) bool {
	for _, re := range r.allowlist {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}
