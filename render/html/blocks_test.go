package html

import (
	"testing"

	"github.com/sonnes/cgshare/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextBlockMarkdown(t *testing.T) {
	r := New()
	tests := []struct {
		name     string
		text     string
		contains []string
	}{
		{
			name:     "bold text",
			text:     "Hello **world**",
			contains: []string{"<strong>world</strong>", `class="prose"`},
		},
		{
			name:     "code fence",
			text:     "```go\nfmt.Println(\"hi\")\n```",
			contains: []string{"<pre", "Println"},
		},
		{
			name:     "inline code",
			text:     "Use `git status` to check.",
			contains: []string{"<code>git status</code>"},
		},
		{
			name:     "raw html omitted",
			text:     "before <iframe src=x></iframe>",
			contains: []string{"<!-- raw HTML omitted -->"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.text(core.ContentBlock{Type: core.BlockText, Format: core.FormatMarkdown, Text: tt.text})
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, string(out), s)
			}
		})
	}
}

func TestTextBlockPlain(t *testing.T) {
	r := New()
	tests := []struct {
		name     string
		text     string
		contains string
		absent   string
	}{
		{name: "simple text", text: "hello world", contains: "hello world"},
		{
			name:     "html escaped",
			text:     "<script>alert('xss')</script>",
			contains: "&lt;script&gt;",
			absent:   "<script>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.text(core.ContentBlock{Type: core.BlockText, Format: core.FormatPlain, Text: tt.text})
			require.NoError(t, err)
			assert.Contains(t, string(out), tt.contains)
			if tt.absent != "" {
				assert.NotContains(t, string(out), tt.absent)
			}
			assert.NotContains(t, string(out), `class="prose"`)
		})
	}
}

func TestThinkingBlock(t *testing.T) {
	s := string(thinking(core.ContentBlock{Type: core.BlockThinking, Text: "Check if x < 10 && y > 5"}))
	assert.Contains(t, s, "<details")
	assert.Contains(t, s, "<summary>Thinking</summary>")
	assert.Contains(t, s, "x &lt; 10 &amp;&amp; y &gt; 5")
}

func TestToolUseBlock(t *testing.T) {
	r := New()
	tests := []struct {
		name     string
		use      core.ContentBlock
		result   *core.ContentBlock
		contains []string
		absent   []string
	}{
		{
			name:     "paired",
			use:      core.ContentBlock{Type: core.BlockToolUse, ToolUseID: "t1", Name: "Bash", Input: map[string]any{"command": "git status"}},
			result:   &core.ContentBlock{Type: core.BlockToolResult, ToolUseID: "t1", Content: "On branch main"},
			contains: []string{"Bash", "git status", `<pre class="tool-output">On branch main</pre>`},
			absent:   []string{"tool-output error"},
		},
		{
			name:     "unpaired",
			use:      core.ContentBlock{Type: core.BlockToolUse, ToolUseID: "t2", Name: "Read", Input: map[string]any{"file_path": "/tmp/test.go"}},
			contains: []string{"Read", "test.go"},
			absent:   []string{"tool-output"},
		},
		{
			name:     "nil input",
			use:      core.ContentBlock{Type: core.BlockToolUse, ToolUseID: "t3", Name: "TodoRead"},
			contains: []string{`<div class="tool-name">TodoRead</div></div>`},
			absent:   []string{"tool-input"},
		},
		{
			name:     "error result",
			use:      core.ContentBlock{Type: core.BlockToolUse, ToolUseID: "t4", Name: "Bash", Input: map[string]any{"command": "false"}},
			result:   &core.ContentBlock{Type: core.BlockToolResult, ToolUseID: "t4", Content: "exit status 1", IsError: true},
			contains: []string{`<pre class="tool-output error">exit status 1</pre>`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := string(r.toolUse(tt.use, tt.result))
			for _, want := range tt.contains {
				assert.Contains(t, s, want)
			}
			for _, notWant := range tt.absent {
				assert.NotContains(t, s, notWant)
			}
		})
	}
}

func TestToolResultBlock(t *testing.T) {
	s := string(toolResult(core.ContentBlock{Type: core.BlockToolResult, Content: "a < b", IsError: true}))
	assert.Equal(t, `<pre class="tool-output error">a &lt; b</pre>`, s)

	s = string(toolResult(core.ContentBlock{Type: core.BlockToolResult, Content: "OK"}))
	assert.Equal(t, `<pre class="tool-output">OK</pre>`, s)
}

func TestFormatInput(t *testing.T) {
	assert.Equal(t, "", formatInput(nil))
	assert.Equal(t, "{\n  \"a\": 1\n}", formatInput(map[string]any{"a": 1}))
}
