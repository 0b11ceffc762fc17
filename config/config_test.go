package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Runtime.GCThreshold != 1024 {
		t.Errorf("GCThreshold = %d", cfg.Runtime.GCThreshold)
	}
	if cfg.Shell.Enabled {
		t.Error("shell enabled by default")
	}
	if cfg.VFS.Path == "" {
		t.Error("no default vfs path")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m8r.toml")
	content := `
[runtime]
gc_threshold = 256

[shell]
enabled = true
listen = ":9000"
websocket = ":9001"

[vfs]
path = "/tmp/fs.db"

[log]
verbosity = 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if cfg.Runtime.GCThreshold != 256 {
		t.Errorf("GCThreshold = %d", cfg.Runtime.GCThreshold)
	}
	if !cfg.Shell.Enabled || cfg.Shell.Listen != ":9000" || cfg.Shell.WebSocket != ":9001" {
		t.Errorf("shell = %+v", cfg.Shell)
	}
	if cfg.VFS.Path != "/tmp/fs.db" {
		t.Errorf("vfs path = %q", cfg.VFS.Path)
	}
	if cfg.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d", cfg.Log.Verbosity)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m8r.toml")
	if err := os.WriteFile(path, []byte("[shell]\nenabled = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Shell.Enabled {
		t.Error("explicit value lost")
	}
	if cfg.Runtime.GCThreshold != Default().Runtime.GCThreshold {
		t.Error("default not preserved for unset section")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %s", err)
	}
	if cfg.Runtime.GCThreshold != Default().Runtime.GCThreshold {
		t.Error("missing file should yield defaults")
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("= not toml ="), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("garbage config accepted")
	}
}
