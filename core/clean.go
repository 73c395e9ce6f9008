package core

import (
	"regexp"
	"strings"
)

var (
	commandNameRE = regexp.MustCompile(`<command-name>(/[^<]+)</command-name>`)
	commandArgsRE = regexp.MustCompile(`<command-args>([^<]*)</command-args>`)
	openTagRE     = regexp.MustCompile(`<([a-zA-Z_][a-zA-Z0-9_-]*)[^>]*>`)
)

// CleanUserText strips harness-injected XML from user text.
//
// Slash commands collapse to "/name args". Any other element is removed
// together with its body.
func CleanUserText(s string) string {
	if m := commandNameRE.FindStringSubmatch(s); m != nil {
		name := m[1]
		if a := commandArgsRE.FindStringSubmatch(s); a != nil && strings.TrimSpace(a[1]) != "" {
			return name + " " + strings.TrimSpace(a[1])
		}
		return name
	}

	// Go regexp has no backreferences, so pair open/close tags by hand.
	for {
		loc := openTagRE.FindStringSubmatchIndex(s)
		if loc == nil {
			break
		}
		closeTag := "</" + s[loc[2]:loc[3]] + ">"
		closeIdx := strings.Index(s[loc[1]:], closeTag)
		if closeIdx < 0 {
			s = s[:loc[0]] + s[loc[1]:]
			continue
		}
		s = s[:loc[0]] + s[loc[1]+closeIdx+len(closeTag):]
	}

	return strings.TrimSpace(s)
}

// Cleaner is a Transformer that applies CleanUserText to every user text
// block and drops messages left without content.
type Cleaner struct{}

// Transform implements Transformer.
func (Cleaner) Transform(t *Transcript) error {
	kept := t.Messages[:0]
	for _, msg := range t.Messages {
		if msg.Role == RoleUser {
			msg.Content = cleanBlocks(msg.Content)
			if len(msg.Content) == 0 {
				continue
			}
		}
		kept = append(kept, msg)
	}
	t.Messages = kept
	return nil
}

func cleanBlocks(blocks []ContentBlock) []ContentBlock {
	out := blocks[:0]
	for _, b := range blocks {
		if b.Type == BlockText {
			b.Text = CleanUserText(b.Text)
			if b.Text == "" {
				continue
			}
		}
		out = append(out, b)
	}
	return out
}
