// Package claude reads Claude Code session logs (JSONL in ~/.claude/projects/).
package claude

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sonnes/cgshare/core"
	"github.com/sonnes/cgshare/reader"
)

// Reader reads Claude Code JSONL session files.
type Reader struct {
	// Dir overrides the default session directory (~/.claude/projects/).
	Dir string
}

var _ reader.Reader = (*Reader)(nil)

// maxLineSize bounds a JSONL line. Tool results routinely exceed the
// default 64 KB bufio.Scanner buffer.
const maxLineSize = 4 << 20

type rawEntry struct {
	Type        string     `json:"type"`
	UUID        string     `json:"uuid"`
	SessionID   string     `json:"sessionId"`
	Timestamp   string     `json:"timestamp"`
	CWD         string     `json:"cwd"`
	GitBranch   string     `json:"gitBranch"`
	IsSidechain bool       `json:"isSidechain"`
	Message     rawMessage `json:"message"`
}

type rawMessage struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *rawUsage       `json:"usage"`
}

type rawUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type rawBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Thinking  string `json:"thinking"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Input     any    `json:"input"`
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content"`
	IsError   bool   `json:"is_error"`
}

// ReadFile parses a single Claude Code JSONL session file.
func (r *Reader) ReadFile(path string) (*core.Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	entries, err := scanEntries(f)
	if err != nil {
		return nil, fmt.Errorf("scan session file: %w", err)
	}
	if len(entries) == 0 {
		return nil, reader.ErrNoMessages
	}
	return buildTranscript(entries), nil
}

// Locate finds <sessionID>.jsonl in any project directory.
func (r *Reader) Locate(sessionID string) (string, error) {
	dir := r.dir()
	projects, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read projects directory: %w", err)
	}
	for _, p := range projects {
		if !p.IsDir() {
			continue
		}
		path := filepath.Join(dir, p.Name(), sessionID+".jsonl")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("session %s not found under %s", sessionID, dir)
}

func (r *Reader) dir() string {
	if r.Dir != "" {
		return r.Dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude", "projects")
}

// scanEntries keeps main-chain user and assistant entries. Lines that fail
// to decode are skipped; the log is append-only and may end mid-write.
func scanEntries(r io.Reader) ([]rawEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var entries []rawEntry
	for scanner.Scan() {
		var e rawEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.IsSidechain || (e.Type != "user" && e.Type != "assistant") {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func buildTranscript(entries []rawEntry) *core.Transcript {
	messages := mergeMessages(entries)
	first, last := entries[0], entries[len(entries)-1]

	t := &core.Transcript{
		SessionID: first.SessionID,
		Agent:     "claude",
		Dir:       first.CWD,
		GitBranch: first.GitBranch,
		CreatedAt: parseTime(first.Timestamp),
		Title:     deriveTitle(messages),
		Messages:  messages,
	}
	if last.Timestamp != first.Timestamp {
		u := parseTime(last.Timestamp)
		t.UpdatedAt = &u
	}

	var total core.Usage
	for _, m := range messages {
		if m.Model != "" && t.Model == "" {
			t.Model = m.Model
		}
		if m.Usage != nil {
			total.Add(*m.Usage)
		}
	}
	if total != (core.Usage{}) {
		t.Usage = &total
	}
	return t
}

// mergeMessages folds streamed assistant chunks that share a message.id
// into one message. Tool-result user entries may arrive between chunks of
// the same assistant message without closing it; they are held back and
// emitted right after the assistant message they answer.
func mergeMessages(entries []rawEntry) []core.Message {
	var (
		out     []core.Message
		held    []core.Message
		pending *core.Message
		pendID  string
	)
	flush := func() {
		if pending != nil {
			out = append(out, *pending)
			pending, pendID = nil, ""
		}
		out = append(out, held...)
		held = nil
	}

	for _, e := range entries {
		blocks := decodeBlocks(e.Message.Content, e.Type == "assistant")

		if e.Type == "assistant" {
			if pending != nil && e.Message.ID == pendID {
				pending.Content = append(pending.Content, blocks...)
				if e.Message.Usage != nil {
					pending.Usage = toUsage(e.Message.Usage)
				}
				continue
			}
			flush()
			ts := parseTime(e.Timestamp)
			pending = &core.Message{
				UUID:      e.UUID,
				Role:      core.RoleAssistant,
				Model:     e.Message.Model,
				Timestamp: &ts,
				Content:   blocks,
				Usage:     toUsage(e.Message.Usage),
			}
			pendID = e.Message.ID
			continue
		}

		ts := parseTime(e.Timestamp)
		msg := core.Message{
			UUID:      e.UUID,
			Role:      core.RoleUser,
			Timestamp: &ts,
			Content:   blocks,
		}
		if pending != nil && onlyToolResults(blocks) {
			held = append(held, msg)
			continue
		}
		flush()
		out = append(out, msg)
	}
	flush()
	return out
}

// decodeBlocks accepts both content encodings Claude writes: a bare string
// (typed prompts) and an array of typed blocks.
func decodeBlocks(raw json.RawMessage, assistant bool) []core.ContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []core.ContentBlock{{Type: core.BlockText, Format: core.FormatPlain, Text: s}}
	}

	var raws []rawBlock
	if err := json.Unmarshal(raw, &raws); err != nil {
		return nil
	}

	blocks := make([]core.ContentBlock, 0, len(raws))
	for _, b := range raws {
		switch b.Type {
		case "text":
			format := core.FormatPlain
			if assistant {
				format = core.FormatMarkdown
			}
			blocks = append(blocks, core.ContentBlock{Type: core.BlockText, Format: format, Text: b.Text})
		case "thinking":
			blocks = append(blocks, core.ContentBlock{Type: core.BlockThinking, Text: b.Thinking})
		case "tool_use":
			blocks = append(blocks, core.ContentBlock{Type: core.BlockToolUse, ToolUseID: b.ID, Name: b.Name, Input: b.Input})
		case "tool_result":
			blocks = append(blocks, core.ContentBlock{
				Type:      core.BlockToolResult,
				ToolUseID: b.ToolUseID,
				Content:   toolResultText(b.Content),
				IsError:   b.IsError,
			})
		}
	}
	return blocks
}

// toolResultText flattens tool_result content, which is either a string or
// a list of {"type":"text","text":...} parts.
func toolResultText(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		var parts []string
		for _, item := range c {
			if m, ok := item.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func onlyToolResults(blocks []core.ContentBlock) bool {
	if len(blocks) == 0 {
		return false
	}
	for _, b := range blocks {
		if b.Type != core.BlockToolResult {
			return false
		}
	}
	return true
}

func toUsage(raw *rawUsage) *core.Usage {
	if raw == nil {
		return nil
	}
	return &core.Usage{
		InputTokens:         raw.InputTokens,
		OutputTokens:        raw.OutputTokens,
		CacheReadTokens:     raw.CacheReadInputTokens,
		CacheCreationTokens: raw.CacheCreationInputTokens,
	}
}

// deriveTitle takes the first human prompt, truncated on a word boundary.
func deriveTitle(messages []core.Message) string {
	for _, m := range messages {
		if m.Role != core.RoleUser {
			continue
		}
		for _, b := range m.Content {
			if b.Type != core.BlockText {
				continue
			}
			text := core.CleanUserText(b.Text)
			if text == "" {
				continue
			}
			return truncate(text, 80)
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if i := strings.LastIndex(s[:maxLen], " "); i > 0 {
		return s[:i] + "..."
	}
	return s[:maxLen] + "..."
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}
