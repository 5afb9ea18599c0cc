// Package config loads and persists Drydock's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/drydock/paths"
)

// Defaults applied when the config file is missing or a field is unset.
const (
	DefaultListenAddr       = "127.0.0.1:8776"
	DefaultContainerWorkdir = "/workspace"
	DefaultContainerUser    = ""
	DefaultSyncInterval     = 30 * time.Second
	DefaultHistoryLimit     = 1 << 20 // 1 MiB of buffered terminal output per session
	DefaultShellCommand     = "/bin/bash"
	DefaultBranchPrefix     = "drydock/"
)

// Config holds the application configuration.
type Config struct {
	ListenAddr       string        `yaml:"listen_addr,omitempty"`       // WebSocket server bind address
	ContainerImage   string        `yaml:"container_image,omitempty"`   // Image for drydock-launched workspace containers
	ContainerWorkdir string        `yaml:"container_workdir,omitempty"` // Agent working directory inside the container
	ContainerUser    string        `yaml:"container_user,omitempty"`    // User for the interactive exec (empty = image default)
	ShellCommand     string        `yaml:"shell_command,omitempty"`     // Command for the interactive exec channel
	SyncInterval     time.Duration `yaml:"sync_interval,omitempty"`     // Period between shadow syncs per container
	HistoryLimit     int           `yaml:"history_limit,omitempty"`     // Max buffered output bytes per session
	PublishPort      int           `yaml:"publish_port,omitempty"`      // Container port to publish on launched workspaces (0 = none)
	SourceRepo       string        `yaml:"source_repo,omitempty"`       // Host repository shadows are cloned from (empty = cwd)
	ShadowBaseDir    string        `yaml:"shadow_base_dir,omitempty"`   // Override for the shadow repository base directory
	BranchPrefix     string        `yaml:"branch_prefix,omitempty"`     // Prefix for shadow target branches (e.g. "drydock/")
	ExtraExcludes    []string      `yaml:"extra_excludes,omitempty"`    // Paths excluded from sync in addition to the built-ins
	Debug            bool          `yaml:"debug,omitempty"`             // Enable debug logging

	mu       sync.RWMutex
	filePath string
}

// Load reads the config from disk, or returns defaults if it doesn't exist.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config from the given path, applying defaults for
// unset fields. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{filePath: path}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.ContainerWorkdir == "" {
		c.ContainerWorkdir = DefaultContainerWorkdir
	}
	if c.ShellCommand == "" {
		c.ShellCommand = DefaultShellCommand
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.BranchPrefix == "" {
		c.BranchPrefix = DefaultBranchPrefix
	}
}

// Save writes the config back to its file path.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.filePath == "" {
		return fmt.Errorf("config has no file path")
	}

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(c.filePath, data, 0644)
}

// ShadowDir returns the base directory for shadow repositories, honoring
// the shadow_base_dir override when set.
func (c *Config) ShadowDir() (string, error) {
	c.mu.RLock()
	override := c.ShadowBaseDir
	c.mu.RUnlock()

	if override != "" {
		return override, nil
	}
	return paths.ShadowsDir()
}
