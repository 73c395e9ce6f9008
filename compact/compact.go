// Package compact shrinks a transcript before it is published: thinking can
// be hidden and bulky tool payloads replaced with line counts.
package compact

import (
	"fmt"
	"strings"

	"github.com/sonnes/cgshare/core"
)

// Options selects what to trim. The zero value trims nothing.
type Options struct {
	HideThinking   bool
	SummarizeTools bool
}

// bulkyInputs lists tool_use input fields that carry whole file bodies.
var bulkyInputs = map[string][]string{
	"write":     {"content"},
	"edit":      {"old_string", "new_string"},
	"multiedit": {"edits"},
}

// New returns a transformer applying opts, or nil when opts is the zero
// value. core.Chain skips nil transformers.
func New(opts Options) core.Transformer {
	if opts == (Options{}) {
		return nil
	}
	return core.TransformerFunc(func(t *core.Transcript) error {
		apply(t, opts)
		return nil
	})
}

func apply(t *core.Transcript, opts Options) {
	kept := t.Messages[:0]
	for _, msg := range t.Messages {
		if opts.HideThinking {
			msg.Content = dropThinking(msg.Content)
			if len(msg.Content) == 0 {
				continue
			}
		}
		if opts.SummarizeTools {
			for i := range msg.Content {
				summarize(&msg.Content[i])
			}
		}
		kept = append(kept, msg)
	}
	t.Messages = kept
}

func dropThinking(blocks []core.ContentBlock) []core.ContentBlock {
	out := blocks[:0:0]
	for _, b := range blocks {
		if b.Type != core.BlockThinking {
			out = append(out, b)
		}
	}
	return out
}

func summarize(b *core.ContentBlock) {
	switch b.Type {
	case core.BlockToolResult:
		label := "output"
		if b.IsError {
			label = "error"
		}
		b.Content = lines(label, b.Content)

	case core.BlockToolUse:
		input, ok := b.Input.(map[string]any)
		if !ok {
			return
		}
		for _, field := range bulkyInputs[strings.ToLower(b.Name)] {
			switch v := input[field].(type) {
			case string:
				input[field] = lines(field, v)
			case []any:
				input[field] = fmt.Sprintf("[%s: %d]", field, len(v))
			}
		}
	}
}

// lines renders "[label: N lines]". A trailing newline does not start a line.
func lines(label, s string) string {
	n := strings.Count(s, "\n")
	if s != "" && !strings.HasSuffix(s, "\n") {
		n++
	}
	if n == 1 {
		return fmt.Sprintf("[%s: 1 line]", label)
	}
	return fmt.Sprintf("[%s: %d lines]", label, n)
}
