package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sonnes/cgshare/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTranscript() *core.Transcript {
	return &core.Transcript{
		SessionID: "sess-1",
		Agent:     "claude",
		Title:     "Wire the tunnel",
		CreatedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Messages: []core.Message{
			{Role: core.RoleUser, Content: []core.ContentBlock{{Type: core.BlockText, Format: core.FormatPlain, Text: "hello"}}},
		},
	}
}

func get(t *testing.T, port int, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServe(t *testing.T) {
	inst, err := New().Serve(testTranscript())
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Stop(context.Background()) })
	require.NotZero(t, inst.Port())

	tests := []struct {
		name        string
		path        string
		status      int
		contentType string
		contains    string
	}{
		{name: "page", path: "/", status: http.StatusOK, contentType: "text/html; charset=utf-8", contains: "Wire the tunnel"},
		{name: "json", path: "/transcript.json", status: http.StatusOK, contentType: "application/json", contains: `"session_id": "sess-1"`},
		{name: "health", path: "/healthz", status: http.StatusOK, contentType: "text/plain; charset=utf-8", contains: "ok"},
		{name: "unknown path", path: "/nope", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, inst.Port(), tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.contentType != "" {
				assert.Equal(t, tt.contentType, resp.Header.Get("Content-Type"))
			}
			if tt.contains != "" {
				assert.Contains(t, body, tt.contains)
			}
		})
	}

	t.Run("json decodes", func(t *testing.T) {
		_, body := get(t, inst.Port(), "/transcript.json")
		var tr core.Transcript
		require.NoError(t, json.Unmarshal([]byte(body), &tr))
		assert.Equal(t, "Wire the tunnel", tr.Title)
	})
}

func TestStopReleasesPort(t *testing.T) {
	inst, err := New().Serve(testTranscript())
	require.NoError(t, err)

	require.NoError(t, inst.Stop(context.Background()))
	require.NoError(t, inst.Stop(context.Background()), "second stop is a no-op")
	require.NoError(t, inst.Wait())

	_, err = net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", inst.Port()), time.Second)
	assert.Error(t, err)
}

func TestServeRenderErrorStartsNothing(t *testing.T) {
	tr := testTranscript()
	tr.Messages[0].Content[0].Type = "image"

	inst, err := New().Serve(tr)
	assert.ErrorContains(t, err, "render html")
	assert.Nil(t, inst)
}

func TestServeOnPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = New().ServeOn(testTranscript(), ln.Addr().(*net.TCPAddr).Port)
	assert.ErrorContains(t, err, "listen")
}
