package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "diffview"

// Paths contains the per-user directories diffview reads and writes.
type Paths struct {
	Data   string // review history
	Config string // global diffview.jsonc
	Cache  string
	State  string // log files
}

// GetPaths resolves Paths from the XDG base directory variables, falling
// back to the XDG defaults under $HOME (or %APPDATA% on Windows).
func GetPaths() *Paths {
	return &Paths{
		Data:   xdgDir("XDG_DATA_HOME", ".local", "share"),
		Config: xdgDir("XDG_CONFIG_HOME", ".config"),
		Cache:  xdgDir("XDG_CACHE_HOME", ".cache"),
		State:  xdgDir("XDG_STATE_HOME", ".local", "state"),
	}
}

func xdgDir(env string, homeRel ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	if runtime.GOOS == "windows" {
		base := os.Getenv("APPDATA")
		if env == "XDG_CACHE_HOME" {
			base = filepath.Join(base, "cache")
		}
		return filepath.Join(base, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(append(append([]string{home}, homeRel...), appName)...)
}

// EnsurePaths creates all of the directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath is the root of the JSON record store.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "storage")
}

// LogPath is the directory for log files.
func (p *Paths) LogPath() string {
	return filepath.Join(p.State, "log")
}

// GlobalConfigPath returns the user-wide config file in GetConfigDir.
func GlobalConfigPath() string {
	return filepath.Join(GetConfigDir(), appName+".jsonc")
}

// ProjectConfigPath returns the config file of the project rooted at directory.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, "."+appName, appName+".jsonc")
}
