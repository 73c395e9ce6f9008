package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanUserText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "slash command with args",
			in:   "<command-message>git:commit</command-message>\n<command-name>/git:commit</command-name>\n<command-args>everything</command-args>",
			want: "/git:commit everything",
		},
		{
			name: "slash command without args",
			in:   "<command-name>/commit</command-name>\n<command-args></command-args>",
			want: "/commit",
		},
		{
			name: "system reminder stripped",
			in:   "<system-reminder>\nremember\n</system-reminder>",
			want: "",
		},
		{
			name: "tag then prompt",
			in:   "<ide_opened_file>opened</ide_opened_file>\nShare this session",
			want: "Share this session",
		},
		{
			name: "unclosed tag keeps body",
			in:   "<note>dangling text",
			want: "dangling text",
		},
		{
			name: "plain text unchanged",
			in:   "Fix the tunnel timeout",
			want: "Fix the tunnel timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanUserText(tt.in))
		})
	}
}

func TestCleanerDropsEmptyUserMessages(t *testing.T) {
	tr := &Transcript{
		Messages: []Message{
			{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: "<system-reminder>x</system-reminder>"}}},
			{Role: RoleUser, Content: []ContentBlock{
				{Type: BlockText, Text: "<ide_selection>a</ide_selection> hello"},
				{Type: BlockToolResult, ToolUseID: "t1", Content: "<b>kept</b>"},
			}},
			{Role: RoleAssistant, Content: []ContentBlock{{Type: BlockText, Text: "<b>untouched</b>"}}},
		},
	}

	require.NoError(t, Cleaner{}.Transform(tr))
	require.Len(t, tr.Messages, 2)
	assert.Equal(t, "hello", tr.Messages[0].Content[0].Text)
	assert.Equal(t, "<b>kept</b>", tr.Messages[0].Content[1].Content)
	assert.Equal(t, "<b>untouched</b>", tr.Messages[1].Content[0].Text)
}

func TestChainStopsAtFirstError(t *testing.T) {
	var calls []string
	boom := errors.New("boom")

	err := Chain(&Transcript{},
		TransformerFunc(func(*Transcript) error { calls = append(calls, "a"); return nil }),
		nil,
		TransformerFunc(func(*Transcript) error { calls = append(calls, "b"); return boom }),
		TransformerFunc(func(*Transcript) error { calls = append(calls, "c"); return nil }),
	)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestTranscriptDuration(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	assert.Zero(t, (&Transcript{CreatedAt: start}).Duration())
	assert.Equal(t, 90*time.Second, (&Transcript{CreatedAt: start, UpdatedAt: &end}).Duration())
}
