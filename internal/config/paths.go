package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDir returns the base lifetrackd directory, honoring the
// LIFETRACKD_DATA_DIR override.
func DataDir() string {
	if envDir := os.Getenv("LIFETRACKD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return platformDataDir()
}

// platformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/lifetrackd/
//   - Linux:   ~/.local/share/lifetrackd/
//   - Windows: %APPDATA%\lifetrackd\
//
// Falls back to ~/.lifetrackd if platform detection fails.
func platformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		home := os.Getenv("HOME")
		if home == "" {
			home, _ = os.UserHomeDir()
		}
		return filepath.Join(home, "Library", "Application Support", "lifetrackd")
	case "linux":
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			return filepath.Join(xdgData, "lifetrackd")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "lifetrackd")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "lifetrackd")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "lifetrackd")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".lifetrackd")
	}
}
