package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.ContainerWorkdir != DefaultContainerWorkdir {
		t.Errorf("ContainerWorkdir = %q, want %q", cfg.ContainerWorkdir, DefaultContainerWorkdir)
	}
	if cfg.SyncInterval != DefaultSyncInterval {
		t.Errorf("SyncInterval = %v, want %v", cfg.SyncInterval, DefaultSyncInterval)
	}
	if cfg.HistoryLimit != DefaultHistoryLimit {
		t.Errorf("HistoryLimit = %d, want %d", cfg.HistoryLimit, DefaultHistoryLimit)
	}
	if cfg.ShellCommand != DefaultShellCommand {
		t.Errorf("ShellCommand = %q, want %q", cfg.ShellCommand, DefaultShellCommand)
	}
}

func TestLoadFromParsesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen_addr: "0.0.0.0:9000"
container_image: "drydock-agent:latest"
container_workdir: /src
sync_interval: 10s
history_limit: 4096
branch_prefix: "drydock/"
extra_excludes:
  - vendor
  - .terraform
debug: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.ContainerImage != "drydock-agent:latest" {
		t.Errorf("ContainerImage = %q", cfg.ContainerImage)
	}
	if cfg.ContainerWorkdir != "/src" {
		t.Errorf("ContainerWorkdir = %q", cfg.ContainerWorkdir)
	}
	if cfg.SyncInterval != 10*time.Second {
		t.Errorf("SyncInterval = %v", cfg.SyncInterval)
	}
	if cfg.HistoryLimit != 4096 {
		t.Errorf("HistoryLimit = %d", cfg.HistoryLimit)
	}
	if cfg.BranchPrefix != "drydock/" {
		t.Errorf("BranchPrefix = %q", cfg.BranchPrefix)
	}
	if len(cfg.ExtraExcludes) != 2 || cfg.ExtraExcludes[0] != "vendor" {
		t.Errorf("ExtraExcludes = %v", cfg.ExtraExcludes)
	}
	if !cfg.Debug {
		t.Error("Debug should be true")
	}
}

func TestLoadFromInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: [not a string"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom should fail on malformed YAML")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	cfg.ContainerImage = "custom:dev"
	cfg.SyncInterval = 5 * time.Second

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ContainerImage != "custom:dev" {
		t.Errorf("ContainerImage = %q after reload", reloaded.ContainerImage)
	}
	if reloaded.SyncInterval != 5*time.Second {
		t.Errorf("SyncInterval = %v after reload", reloaded.SyncInterval)
	}
}

func TestShadowDirOverride(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	override := t.TempDir()
	cfg.ShadowBaseDir = override

	dir, err := cfg.ShadowDir()
	if err != nil {
		t.Fatalf("ShadowDir: %v", err)
	}
	if dir != override {
		t.Errorf("ShadowDir = %q, want override %q", dir, override)
	}
}
