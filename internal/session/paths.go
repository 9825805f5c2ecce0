package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.enterchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".enterchat")
}

// Dir returns the profile-specific directory.
func Dir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// SocketPath returns the UDS socket path for a profile.
func SocketPath(profile string) string {
	return filepath.Join(Dir(profile), "daemon.sock")
}

// LockPath returns the lock file path for a profile.
func LockPath(profile string) string {
	return filepath.Join(Dir(profile), "LOCK")
}

// AppDBPath returns the unified inbox database path.
func AppDBPath(profile string) string {
	return filepath.Join(Dir(profile), "enterchat.db")
}

// ProtocolDBPath returns the linked-device store of one protocol app.
func ProtocolDBPath(profile, appID string) string {
	return filepath.Join(Dir(profile), "linked", appID+".db")
}

// BrowserDir returns the browser user data directory for one web app, so
// logins survive restarts and apps never share cookies.
func BrowserDir(profile, appID string) string {
	return filepath.Join(Dir(profile), "browser", appID)
}

// LogDir returns the log directory for a profile.
func LogDir(profile string) string {
	return filepath.Join(Dir(profile), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(profile string) string {
	return filepath.Join(LogDir(profile), "enterchatd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnvPath returns the optional env file read next to the config.
func EnvPath() string {
	return filepath.Join(BaseDir(), ".env")
}

// OverridesPath returns the app profile overrides file.
func OverridesPath() string {
	return filepath.Join(BaseDir(), "apps.yaml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(profile string) error {
	dirs := []string{
		Dir(profile),
		LogDir(profile),
		filepath.Join(Dir(profile), "browser"),
		filepath.Join(Dir(profile), "linked"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
