package html

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/sonnes/cgshare/core"
)

// renderBlock dispatches on block type. For tool_use blocks, result is the
// paired tool_result, or nil.
func (r *Renderer) renderBlock(b core.ContentBlock, result *core.ContentBlock) (template.HTML, error) {
	switch b.Type {
	case core.BlockText:
		return r.text(b)
	case core.BlockThinking:
		return thinking(b), nil
	case core.BlockToolUse:
		return r.toolUse(b, result), nil
	case core.BlockToolResult:
		return toolResult(b), nil
	default:
		return "", fmt.Errorf("unknown block type %q", b.Type)
	}
}

func (r *Renderer) markdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("goldmark convert: %w", err)
	}
	return buf.String(), nil
}

func (r *Renderer) text(b core.ContentBlock) (template.HTML, error) {
	if b.Format != core.FormatMarkdown {
		return template.HTML(`<p class="plain">` + template.HTMLEscapeString(b.Text) + `</p>`), nil
	}
	h, err := r.markdown(b.Text)
	if err != nil {
		return "", err
	}
	return template.HTML(`<div class="prose">` + h + `</div>`), nil
}

func thinking(b core.ContentBlock) template.HTML {
	return template.HTML(`<details class="thinking"><summary>Thinking</summary><pre>` +
		template.HTMLEscapeString(b.Text) + `</pre></details>`)
}

func (r *Renderer) toolUse(b core.ContentBlock, result *core.ContentBlock) template.HTML {
	var body string
	if input := formatInput(b.Input); input != "" {
		h, err := r.markdown("```json\n" + input + "\n```")
		if err != nil {
			h = `<pre>` + template.HTMLEscapeString(input) + `</pre>`
		}
		body = `<div class="tool-input">` + h + `</div>`
	}
	if result != nil {
		class := "tool-output"
		if result.IsError {
			class += " error"
		}
		body += `<pre class="` + class + `">` + template.HTMLEscapeString(result.Content) + `</pre>`
	}
	return template.HTML(`<div class="tool"><div class="tool-name">` +
		template.HTMLEscapeString(b.Name) + `</div>` + body + `</div>`)
}

// toolResult renders a tool_result with no matching tool_use.
func toolResult(b core.ContentBlock) template.HTML {
	class := "tool-output"
	if b.IsError {
		class += " error"
	}
	return template.HTML(`<pre class="` + class + `">` + template.HTMLEscapeString(b.Content) + `</pre>`)
}

func formatInput(input any) string {
	if input == nil {
		return ""
	}
	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(data)
}
