package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/sonnes/cgshare/config"
)

// Paths locates the files a daemon owns.
type Paths struct {
	Dir    string
	Socket string
	PID    string
	DB     string
	Log    string
}

// PathsFor lays out daemon files inside dirs.
func PathsFor(dirs config.Dirs) Paths {
	return Paths{
		Dir:    dirs.Data,
		Socket: filepath.Join(dirs.Data, "daemon.sock"),
		PID:    filepath.Join(dirs.Data, "daemon.pid"),
		DB:     filepath.Join(dirs.Data, "shares.db"),
		Log:    filepath.Join(dirs.LogsDir(), "daemon.log"),
	}
}

// DefaultPaths resolves Paths from the environment.
func DefaultPaths() (Paths, error) {
	dirs, err := config.ResolveDirs()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve directories: %w", err)
	}
	return PathsFor(dirs), nil
}

// ReadPID returns the pid recorded at path. A missing file returns 0 and no
// error.
func ReadPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s: malformed contents %q", path, strings.TrimSpace(string(b)))
	}
	return pid, nil
}

func writePID(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0600)
}

// ProcessAlive reports whether pid names a live process. EPERM still means
// the process exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
