package iofs

import (
	_ "embed"
	"os"

	"github.com/fieldnote/dex/pkg/config"
)

//go:embed dex.yaml
var ConfigYAML string

// EnsureDirs creates the config/cache/log directories dex expects under
// homeDir, if they don't already exist.
func EnsureDirs(homeDir string) error {
	dirs := []string{
		config.ConfigDir(homeDir),
		config.CacheDir(homeDir),
		config.LogDir(homeDir),
	}
	for _, dir := range dirs {
		if err := touchDir(dir); err != nil {
			return err
		}
	}
	return nil
}

func touchDir(dir string) error {
	info, err := os.Stat(dir)
	if err == nil && info.IsDir() {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return CreateDirError(dir, err)
	}
	return nil
}

// EnsureConfigFile writes the embedded default dex.yaml to the config
// directory the first time dex runs. It never overwrites an existing file.
func EnsureConfigFile(homeDir string) error {
	configPath := config.ConfigFilePath(homeDir)
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}
	if err := os.WriteFile(configPath, []byte(ConfigYAML), 0644); err != nil {
		return CopyFileError(configPath, err)
	}
	return nil
}
