package html

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sonnes/cgshare/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestTranscript() *core.Transcript {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	later := now.Add(2*time.Minute + 30*time.Second)
	return &core.Transcript{
		SessionID: "sess-123",
		Agent:     "claude",
		Model:     "claude-sonnet",
		GitBranch: "main",
		Title:     "Fix the tunnel timeout",
		CreatedAt: now,
		UpdatedAt: &later,
		Usage:     &core.Usage{InputTokens: 12_300, OutputTokens: 950},
		Messages: []core.Message{
			{
				Role:      core.RoleUser,
				Timestamp: &now,
				Content:   []core.ContentBlock{{Type: core.BlockText, Format: core.FormatPlain, Text: "Fix <b>it</b>"}},
			},
			{
				Role:      core.RoleAssistant,
				Timestamp: &later,
				Content: []core.ContentBlock{
					{Type: core.BlockThinking, Text: "look at spawn"},
					{Type: core.BlockText, Format: core.FormatMarkdown, Text: "Edit `spawn.go`.\n\n<script>alert(1)</script>"},
					{Type: core.BlockToolUse, ToolUseID: "t1", Name: "Bash", Input: map[string]any{"command": "go test ./..."}},
				},
			},
			{
				Role:    core.RoleUser,
				Content: []core.ContentBlock{{Type: core.BlockToolResult, ToolUseID: "t1", Content: "FAIL tunnel", IsError: true}},
			},
			{
				Role:    core.RoleUser,
				Content: []core.ContentBlock{{Type: core.BlockToolResult, ToolUseID: "orphan", Content: "orphan output"}},
			},
		},
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New().Render(&buf, buildTestTranscript()))
	page := buf.String()

	t.Run("document", func(t *testing.T) {
		assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
		assert.Contains(t, page, "<title>Fix the tunnel timeout · shared session</title>")
		assert.Contains(t, page, `<meta name="robots" content="noindex">`)
	})

	t.Run("metadata", func(t *testing.T) {
		assert.Contains(t, page, "branch main")
		assert.Contains(t, page, "2m 30s")
		assert.Contains(t, page, "12.3k in · 950 out")
		assert.Contains(t, page, "2024-01-15T10:30:00Z")
	})

	t.Run("plain text escaped", func(t *testing.T) {
		assert.Contains(t, page, "Fix &lt;b&gt;it&lt;/b&gt;")
	})

	t.Run("markdown rendered without raw html", func(t *testing.T) {
		assert.Contains(t, page, "<code>spawn.go</code>")
		assert.NotContains(t, page, "<script>alert(1)</script>")
	})

	t.Run("tool result paired with tool use", func(t *testing.T) {
		assert.Contains(t, page, `<div class="tool-name">Bash</div>`)
		assert.Contains(t, page, `<pre class="tool-output error">FAIL tunnel</pre>`)
		assert.Equal(t, 1, strings.Count(page, "FAIL tunnel"))
		// the message that only held the paired result is dropped
		assert.Equal(t, 3, strings.Count(page, `<section class="message`))
	})

	t.Run("orphan tool result rendered standalone", func(t *testing.T) {
		assert.Contains(t, page, `<pre class="tool-output">orphan output</pre>`)
	})
}

func TestRenderUntitled(t *testing.T) {
	var buf bytes.Buffer
	tr := &core.Transcript{SessionID: "abc", Agent: "claude"}
	require.NoError(t, New().Render(&buf, tr))
	assert.Contains(t, buf.String(), "<h1>Session abc</h1>")
}

func TestRenderUnknownBlock(t *testing.T) {
	tr := &core.Transcript{Messages: []core.Message{{Role: core.RoleUser, Content: []core.ContentBlock{{Type: "image"}}}}}
	err := New().Render(&bytes.Buffer{}, tr)
	assert.ErrorContains(t, err, `unknown block type "image"`)
}

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{950, "950"},
		{1000, "1k"},
		{12_345, "12.3k"},
		{4_100_000, "4.1M"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatTokens(tt.in))
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "<1s", formatDuration(200*time.Millisecond))
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "2m 30s", formatDuration(150*time.Second))
	assert.Equal(t, "1h 5m", formatDuration(65*time.Minute))
}
