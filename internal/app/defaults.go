package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SEALBOX_CONFIG_PATH: config file location (default: ~/.config/sealbox.toml)
//   - SEALBOX_HOME: base directory for sealbox data (default: ~/.local/share/sealbox)
//   - SEALBOX_PRINCIPAL: caller identity, overriding the config's principal (default: empty)
func GetDefaults() (map[string]string, error) {
	configPath, err := envOrHome("SEALBOX_CONFIG_PATH", ".config", "sealbox.toml")
	if err != nil {
		return nil, err
	}

	baseDir, err := envOrHome("SEALBOX_HOME", ".local", "share", "sealbox")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"principal":   os.Getenv("SEALBOX_PRINCIPAL"),
	}, nil
}

// envOrHome returns the value of env when set, else the path rel under the
// user's home directory.
func envOrHome(env string, rel ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, rel...)...), nil
}
