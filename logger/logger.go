// Package logger configures the process-wide charmbracelet logger. The CLI
// logs to stderr; the daemon appends logfmt lines to a file under the state
// directory.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	mu      sync.Mutex
	logFile *os.File
)

// Init points the default logger at the file at path, creating its directory.
// Calling Init again switches files and closes the previous one.
func Init(path string, level log.Level) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	log.SetDefault(New(f, level))
	log.Info("logger initialized", "path", path)
	return nil
}

// New returns a logfmt logger writing to w with timestamps.
func New(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       log.LogfmtFormatter,
	})
}

// WithComponent returns the default logger tagged with component.
//
//	log := logger.WithComponent("tunnel")
//	log.Info("spawned", "provider", "cloudflare")
//	// time=... level=info msg=spawned component=tunnel provider=cloudflare
func WithComponent(component string) *log.Logger {
	return log.Default().With("component", component)
}

// Close closes the log file opened by Init, if any, and restores stderr.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return
	}
	log.SetDefault(log.New(os.Stderr))
	_ = logFile.Close()
	logFile = nil
}
