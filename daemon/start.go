package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// ErrStartFailed is returned when an auto-started daemon never became
// reachable.
var ErrStartFailed = errors.New("daemon failed to start")

// StartOptions configures ConnectOrStart. Zero values select defaults.
type StartOptions struct {
	SocketPath string
	// Executable is re-run with Args to start the daemon. Defaults to the
	// current executable.
	Executable string
	Args       []string // defaults to "daemon", "run"
	// LogPath receives the daemon's stdout and stderr. Empty discards them.
	LogPath      string
	Timeout      time.Duration // defaults to 5s
	PollInterval time.Duration // defaults to 100ms
}

// ConnectOrStart connects to the daemon, starting it in the background first
// if it is not running.
func ConnectOrStart(ctx context.Context, opts StartOptions) (*Client, error) {
	c, err := Connect(opts.SocketPath)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotRunning) {
		return nil, err
	}

	if err := spawnDaemon(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	return waitForDaemon(ctx, opts)
}

func spawnDaemon(opts StartOptions) error {
	exe := opts.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return fmt.Errorf("find executable: %w", err)
		}
	}
	args := opts.Args
	if len(args) == 0 {
		args = []string{"daemon", "run"}
	}

	stdin, err := os.Open(os.DevNull)
	if err != nil {
		return err
	}
	defer func() { _ = stdin.Close() }()

	out, err := openDaemonLog(opts.LogPath)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	cmd := exec.Command(exe, args...)
	cmd.Stdin = stdin
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", exe, err)
	}
	// Reap the child if it dies while this process is still around.
	go func() { _ = cmd.Wait() }()
	return nil
}

func openDaemonLog(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}

func waitForDaemon(ctx context.Context, opts StartOptions) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: no socket at %s after %s", ErrStartFailed, opts.SocketPath, timeout)
		case <-ticker.C:
			c, err := Connect(opts.SocketPath)
			if err == nil {
				return c, nil
			}
			if !errors.Is(err, ErrNotRunning) {
				return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
			}
		}
	}
}
