package config

import "path/filepath"

var (
	// AppName is used to derive file-system paths.
	AppName = "dex"
)

// ConfigDir returns ~/.config/dex by default.
func ConfigDir(homeDir string) string {
	return filepath.Join(homeDir, ".config", AppName)
}

// CacheDir returns ~/.cache/dex by default.
func CacheDir(homeDir string) string {
	return filepath.Join(homeDir, ".cache", AppName)
}

// LogDir returns ~/.local/share/dex/logs by default.
func LogDir(homeDir string) string {
	return filepath.Join(homeDir, ".local", "share", AppName, "logs")
}

// ConfigFilePath returns ~/.config/dex/dex.yaml by default.
func ConfigFilePath(homeDir string) string {
	return filepath.Join(ConfigDir(homeDir), "dex.yaml")
}
