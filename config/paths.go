package config

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides every per-user directory when set.
const HomeEnv = "CGSHARE_HOME"

const appName = "cgshare"

// Dirs is the per-user directory layout:
//
//   - Config: config.yaml
//   - Data: daemon.sock, daemon.pid, shares.db
//   - State: logs/
//
// Resolution order:
//  1. CGSHARE_HOME set: all three directories are CGSHARE_HOME.
//  2. XDG_CONFIG_HOME, XDG_DATA_HOME and XDG_STATE_HOME, each joined with cgshare/.
//  3. ~/.config/cgshare, ~/.local/share/cgshare and ~/.local/state/cgshare.
type Dirs struct {
	Config string
	Data   string
	State  string
}

// ResolveDirs computes the layout from the environment.
func ResolveDirs() (Dirs, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		return Dirs{Config: home, Data: home, State: home}, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Dirs{}, err
	}

	xdg := func(env string, fallback ...string) string {
		if v := os.Getenv(env); v != "" {
			return filepath.Join(v, appName)
		}
		return filepath.Join(append(append([]string{home}, fallback...), appName)...)
	}

	return Dirs{
		Config: xdg("XDG_CONFIG_HOME", ".config"),
		Data:   xdg("XDG_DATA_HOME", ".local", "share"),
		State:  xdg("XDG_STATE_HOME", ".local", "state"),
	}, nil
}

// ConfigFile returns the path to config.yaml.
func (d Dirs) ConfigFile() string { return filepath.Join(d.Config, "config.yaml") }

// LogsDir returns the directory for log files.
func (d Dirs) LogsDir() string { return filepath.Join(d.State, "logs") }
