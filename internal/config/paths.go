package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppPaths contains the standard on-disk locations for application data.
type AppPaths struct {
	Data   string // ~/.local/share/chatpanel
	Config string // ~/.config/chatpanel
	Cache  string // ~/.cache/chatpanel
}

// Paths returns the standard paths, honoring XDG overrides.
func Paths() *AppPaths {
	return &AppPaths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "chatpanel"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "chatpanel"),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "chatpanel"),
	}
}

// Ensure creates all required directories.
func (p *AppPaths) Ensure() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func home() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return h
}

func defaultDataHome() string {
	if runtime.GOOS == "darwin" {
		return filepath.Join(home(), "Library", "Application Support")
	}
	return filepath.Join(home(), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "darwin" {
		return filepath.Join(home(), "Library", "Preferences")
	}
	return filepath.Join(home(), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "darwin" {
		return filepath.Join(home(), "Library", "Caches")
	}
	return filepath.Join(home(), ".cache")
}
