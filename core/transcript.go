// Package core defines the transcript model shared by the session parser and
// the share page renderer. A share never exposes raw agent logs: every
// transcript is parsed into this shape, transformed (redaction, cleanup), and
// only then rendered.
package core

import "time"

// Transcript is the top-level container for a single session.
type Transcript struct {
	SessionID string     `json:"session_id"`
	Agent     string     `json:"agent"`
	Model     string     `json:"model,omitempty"`      // primary model used
	Dir       string     `json:"dir,omitempty"`        // working directory
	GitBranch string     `json:"git_branch,omitempty"` // branch at session start
	Title     string     `json:"title,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
	Messages  []Message  `json:"messages"`
}

// Duration returns the wall-clock span of the session, or zero when the
// session has a single timestamp.
func (t *Transcript) Duration() time.Duration {
	if t.UpdatedAt == nil || t.CreatedAt.IsZero() {
		return 0
	}
	return t.UpdatedAt.Sub(t.CreatedAt)
}

// Usage holds token counters, both per message and aggregated per session.
type Usage struct {
	InputTokens         int `json:"input_tokens,omitempty"`
	OutputTokens        int `json:"output_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
}

// Add accumulates the counts from other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheCreationTokens += other.CacheCreationTokens
}

// Total is the sum of all counters.
func (u *Usage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheCreationTokens
}

// Message is a single turn in the conversation.
type Message struct {
	UUID      string         `json:"uuid,omitempty"`
	Role      Role           `json:"role"`
	Model     string         `json:"model,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Content   []ContentBlock `json:"content"`
	Usage     *Usage         `json:"usage,omitempty"`
}

// Role enumerates who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentBlock is one piece of a message. Type decides which other fields
// are populated.
type ContentBlock struct {
	Type      BlockType  `json:"type"`
	Format    TextFormat `json:"format,omitempty"`
	Text      string     `json:"text,omitempty"`        // text, thinking
	ToolUseID string     `json:"tool_use_id,omitempty"` // tool_use, tool_result
	Name      string     `json:"name,omitempty"`        // tool_use
	Input     any        `json:"input,omitempty"`       // tool_use
	Content   string     `json:"content,omitempty"`     // tool_result
	IsError   bool       `json:"is_error,omitempty"`    // tool_result
}

// TextFormat indicates how a text block should be rendered.
type TextFormat string

const (
	FormatMarkdown TextFormat = "markdown"
	FormatPlain    TextFormat = "plain"
)

// BlockType enumerates content block kinds.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)
