package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svnbridged.toml")
	contents := `
[[repositories]]
name = "main"
git_dir = "/srv/repos/main/.git"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want default", cfg.Server.ListenAddr)
	}
	if cfg.Server.IdleTimeout.Duration != defaultIdleTimeout {
		t.Errorf("IdleTimeout = %v, want default", cfg.Server.IdleTimeout.Duration)
	}
	if len(cfg.Repositories) != 1 || cfg.Repositories[0].Ref != "refs/heads/main" {
		t.Fatalf("Repositories = %+v", cfg.Repositories)
	}
}

func TestLoadParsesDurationsAndACL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svnbridged.toml")
	contents := `
[server]
listen_addr = ":9999"
idle_timeout = "30s"
editor_timeout = "5m"

[[repositories]]
name = "main"
git_dir = "/srv/repos/main/.git"

[[auth.acl]]
user = "*"
path_glob = "/public/*"
access = "read"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.IdleTimeout.Duration != 30*time.Second {
		t.Errorf("IdleTimeout = %v, want 30s", cfg.Server.IdleTimeout.Duration)
	}
	if cfg.Server.EditorTimeout.Duration != 5*time.Minute {
		t.Errorf("EditorTimeout = %v, want 5m", cfg.Server.EditorTimeout.Duration)
	}
	if len(cfg.Auth.ACL) != 1 || cfg.Auth.ACL[0].Access != "read" {
		t.Fatalf("ACL = %+v", cfg.Auth.ACL)
	}
}

func TestValidateRejectsMissingRepositories(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty repositories")
	}
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := &Config{Repositories: []RepositoryConfig{
		{Name: "main", GitDir: "/a"},
		{Name: "main", GitDir: "/b"},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for duplicate repository names")
	}
}

func TestWriteDefaultThenLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svnbridged.toml")
	if err := WriteDefault(path, "main", "/srv/repos/main/.git"); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}
	if len(cfg.Repositories) != 1 || cfg.Repositories[0].Name != "main" {
		t.Fatalf("Repositories = %+v", cfg.Repositories)
	}
}
