package json

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sonnes/cgshare/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tr := &core.Transcript{
		SessionID: "s1",
		Agent:     "claude",
		CreatedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Messages: []core.Message{
			{Role: core.RoleUser, Content: []core.ContentBlock{{Type: core.BlockText, Text: "a <b> & c"}}},
		},
	}

	tests := []struct {
		name     string
		indent   bool
		contains string
	}{
		{name: "compact", contains: `"session_id":"s1"`},
		{name: "indented", indent: true, contains: "\n  \"session_id\": \"s1\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, (&Renderer{Indent: tt.indent}).Render(&buf, tr))
			assert.Contains(t, buf.String(), tt.contains)
			assert.Contains(t, buf.String(), "a <b> & c", "html is not escaped")

			var back core.Transcript
			require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
			assert.Equal(t, tr.SessionID, back.SessionID)
			assert.Equal(t, tr.Messages[0].Content[0].Text, back.Messages[0].Content[0].Text)
		})
	}
}
