// Package config provides configuration loading and path management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard directories opsploit writes to.
type Paths struct {
	Data   string // ~/.local/share/opsploit
	Config string // ~/.config/opsploit
	Cache  string // ~/.cache/opsploit
	State  string // ~/.local/state/opsploit
}

// GetPaths returns the standard paths, honoring the XDG overrides.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "opsploit"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "opsploit"),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "opsploit"),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "opsploit"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath returns the path to the storage directory.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "storage")
}

// AuthPath returns the path to the auth file.
func (p *Paths) AuthPath() string {
	return filepath.Join(p.Data, "auth.json")
}

// EngagementArchiveDir returns the archival directory for a root session
// (~/.engagement/sessions/<rootID>/), holding session.json,
// trajectory.jsonl and the state mirror.
func EngagementArchiveDir(rootID string) string {
	return filepath.Join(os.Getenv("HOME"), ".engagement", "sessions", rootID)
}

// EngagementLiveDir returns the live working directory for a root session
// under /tmp, with the same sub-layout as the archive.
func EngagementLiveDir(rootID string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("opsploit-session-%s", rootID))
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "opsploit.json")
}

// ProjectConfigPath returns the path to the per-engagement config file.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".opsploit", "opsploit.json")
}
