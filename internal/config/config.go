// Package config provides configuration loading and path management.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/chatpanel-ai/chatpanel/internal/permission"
)

// Config is the merged application configuration.
type Config struct {
	LogLevel   string `json:"logLevel,omitempty"`
	PrettyLogs bool   `json:"prettyLogs,omitempty"`

	Server      ServerConfig     `json:"server,omitempty"`
	Permissions PermissionConfig `json:"permissions,omitempty"`

	// StorageDir overrides where conversations are persisted.
	StorageDir string `json:"storageDir,omitempty"`
}

// ServerConfig configures the websocket bridge.
type ServerConfig struct {
	Host           string   `json:"host,omitempty"`
	Port           int      `json:"port,omitempty"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// PermissionConfig configures the permission lifecycle manager.
type PermissionConfig struct {
	AutoApprove      []string `json:"autoApprove,omitempty" yaml:"autoApprove"`
	AutoDeny         []string `json:"autoDeny,omitempty" yaml:"autoDeny"`
	DefaultTimeoutMS int64    `json:"defaultTimeoutMs,omitempty" yaml:"defaultTimeoutMs"`
	SessionTTLMin    int      `json:"sessionTtlMinutes,omitempty" yaml:"sessionTtlMinutes"`
}

// Rules converts the configured patterns for the permission manager.
func (p PermissionConfig) Rules() permission.Rules {
	return permission.Rules{AutoApprove: p.AutoApprove, AutoDeny: p.AutoDeny}
}

// DefaultTimeout returns the configured request timeout, zero when disabled.
func (p PermissionConfig) DefaultTimeout() time.Duration {
	return time.Duration(p.DefaultTimeoutMS) * time.Millisecond
}

// SessionTTL returns the session-grant lifetime, zero for the default.
func (p PermissionConfig) SessionTTL() time.Duration {
	return time.Duration(p.SessionTTLMin) * time.Minute
}

// Load merges configuration from multiple sources (lowest priority first):
//  1. Global config (~/.config/chatpanel/chatpanel.json[c])
//  2. Project config (<dir>/.chatpanel/chatpanel.json[c])
//  3. Permission rules YAML next to either config (permissions.yaml)
//  4. CHATPANEL_CONFIG file override
func Load(directory string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 7433},
	}

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil || loaded[abs] {
			return
		}
		if loadConfigFile(path, cfg) == nil {
			loaded[abs] = true
		}
	}

	globalDir := Paths().Config
	loadOnce(filepath.Join(globalDir, "chatpanel.json"))
	loadOnce(filepath.Join(globalDir, "chatpanel.jsonc"))
	loadRulesFile(filepath.Join(globalDir, "permissions.yaml"), cfg)

	if directory != "" {
		projectDir := filepath.Join(directory, ".chatpanel")
		loadOnce(filepath.Join(projectDir, "chatpanel.json"))
		loadOnce(filepath.Join(projectDir, "chatpanel.jsonc"))
		loadRulesFile(filepath.Join(projectDir, "permissions.yaml"), cfg)
	}

	if path := os.Getenv("CHATPANEL_CONFIG"); path != "" {
		loadOnce(path)
	}

	if cfg.StorageDir == "" {
		cfg.StorageDir = filepath.Join(Paths().Data, "conversations")
	}
	return cfg, nil
}

// loadConfigFile merges one json/jsonc file into cfg.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonc.ToJSON(data), cfg)
}

// loadRulesFile merges a YAML permission-rules file into cfg. Patterns
// accumulate across layers rather than replacing each other.
func loadRulesFile(path string, cfg *Config) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var rules PermissionConfig
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return
	}
	cfg.Permissions.AutoApprove = append(cfg.Permissions.AutoApprove, rules.AutoApprove...)
	cfg.Permissions.AutoDeny = append(cfg.Permissions.AutoDeny, rules.AutoDeny...)
	if rules.DefaultTimeoutMS != 0 {
		cfg.Permissions.DefaultTimeoutMS = rules.DefaultTimeoutMS
	}
	if rules.SessionTTLMin != 0 {
		cfg.Permissions.SessionTTLMin = rules.SessionTTLMin
	}
}
