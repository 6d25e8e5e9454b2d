// Package config holds daemon configuration and the fixed layout of the
// data directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the daemon configuration, loaded from a JSON file with defaults
// applied for missing fields.
type Config struct {
	// DataDir is the root under which mirrors, worktrees, scratch files and
	// keys live.
	DataDir string `json:"data_dir"`
	// LogLevel is one of debug, info, warn, error, none.
	LogLevel string `json:"log_level"`
	// LogPath overrides the default log file location.
	LogPath string `json:"log_path,omitempty"`
	// GitTimeoutSeconds overrides the 5-minute default for network Git
	// operations.
	GitTimeoutSeconds int `json:"git_timeout_seconds,omitempty"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		DataDir:  defaultDataDir(),
		LogLevel: "info",
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("GITSPACE_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "gitspace")
	}
	return filepath.Join(home, ".local", "share", "gitspace")
}

// Load reads the config file at path, or returns defaults when it does not
// exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// Save writes the config as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// GitTimeout returns the configured network Git timeout, or zero when the
// caller should use the package default.
func (c *Config) GitTimeout() time.Duration {
	if c.GitTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.GitTimeoutSeconds) * time.Second
}

// Data directory layout. Changing any of these paths orphans existing
// mirrors and worktrees; a migration has to move them.

// MirrorPath returns the bare mirror location for a repository.
func (c *Config) MirrorPath(repoID string) string {
	return filepath.Join(c.DataDir, "repos", repoID, "mirror.git")
}

// RepoDir returns the per-repository directory containing the mirror.
func (c *Config) RepoDir(repoID string) string {
	return filepath.Join(c.DataDir, "repos", repoID)
}

// WorkspaceRoot returns the checkout root for a workspace.
func (c *Config) WorkspaceRoot(workspaceID string) string {
	return filepath.Join(c.DataDir, "workspaces", workspaceID)
}

// TmpDir is the scratch directory for ephemeral credential files.
func (c *Config) TmpDir() string {
	return filepath.Join(c.DataDir, "tmp")
}

// KnownHostsPath is the daemon-local SSH trust store.
func (c *Config) KnownHostsPath() string {
	return filepath.Join(c.DataDir, "ssh", "known_hosts")
}

// CACertPath is where a configured custom CA PEM is materialized.
func (c *Config) CACertPath() string {
	return filepath.Join(c.DataDir, "certs", "ca.pem")
}

// MasterKeyPath is the generated credential master key file.
func (c *Config) MasterKeyPath() string {
	return filepath.Join(c.DataDir, "keys", "credential-master-key.json")
}

// DBPath is the SQLite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "gitspace.db")
}

// SocketPath is the Unix socket the daemon listens on.
func (c *Config) SocketPath() string {
	return filepath.Join(c.DataDir, "gitspaced.sock")
}

// LockfilePath is the single-instance lock for the data directory.
func (c *Config) LockfilePath() string {
	return filepath.Join(c.DataDir, "gitspace.lock")
}

// DefaultLogPath is used when LogPath is not set.
func (c *Config) DefaultLogPath() string {
	if c.LogPath != "" {
		return c.LogPath
	}
	return filepath.Join(c.DataDir, "logs", "gitspace.log")
}
