package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")
	require.NoError(t, Init(path, log.DebugLevel))
	t.Cleanup(Close)

	WithComponent("store").Debug("opened", "path", "/tmp/x.db")
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "logger initialized")
	assert.Contains(t, out, "component=store")
	assert.Contains(t, out, "path=/tmp/x.db")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, log.WarnLevel)
	l.Info("hidden")
	l.Warn("shown", "share_id", "abc")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "share_id=abc")
}

func TestCloseWithoutInit(t *testing.T) {
	assert.NotPanics(t, Close)
}
