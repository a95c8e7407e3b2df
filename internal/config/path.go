package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// EnvPath names the environment variable that overrides the config location.
const EnvPath = "GRIPRIG_CONFIG"

// ResolvePath picks the config file: --config, then $GRIPRIG_CONFIG, then
// $XDG_CONFIG_HOME/griprig/config.toml, then ~/.config/griprig/config.toml.
func ResolvePath(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv(EnvPath)} {
		if p := strings.TrimSpace(candidate); p != "" {
			return p, nil
		}
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "griprig", "config.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}
	return filepath.Join(home, ".config", "griprig", "config.toml"), nil
}
