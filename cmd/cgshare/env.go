package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/sonnes/cgshare/config"
	"github.com/sonnes/cgshare/daemon"
	"github.com/sonnes/cgshare/reader/claude"
)

// env is what every command resolves first.
type env struct {
	dirs  config.Dirs
	paths daemon.Paths
	cfg   *config.Config
}

func loadEnv() (*env, error) {
	dirs, err := config.ResolveDirs()
	if err != nil {
		return nil, fmt.Errorf("resolve directories: %w", err)
	}
	cfg, err := config.Load(dirs.ConfigFile())
	if err != nil {
		return nil, err
	}
	return &env{dirs: dirs, paths: daemon.PathsFor(dirs), cfg: cfg}, nil
}

// connect returns a client for a daemon that must already be running.
func (e *env) connect() (*daemon.Client, error) {
	c, err := daemon.Connect(e.paths.Socket)
	if errors.Is(err, daemon.ErrNotRunning) {
		return nil, fmt.Errorf("%w (start a share to launch it, or run `cgshare daemon run`)", err)
	}
	return c, err
}

// connectOrStart launches the daemon in the background when needed.
func (e *env) connectOrStart(ctx context.Context) (*daemon.Client, error) {
	return daemon.ConnectOrStart(ctx, daemon.StartOptions{
		SocketPath: e.paths.Socket,
		LogPath:    e.paths.Log,
	})
}

// sessionPath resolves the session named by the first argument or --session.
func sessionPath(cmd *cli.Command) (string, error) {
	file := cmd.Args().First()
	id := cmd.String("session")

	switch {
	case file != "" && id != "":
		return "", errors.New("pass either a session file or --session, not both")
	case file != "":
		return filepath.Abs(file)
	case id != "":
		return (&claude.Reader{}).Locate(id)
	default:
		return "", errors.New("a session file or --session is required")
	}
}
