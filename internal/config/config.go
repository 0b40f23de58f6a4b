// Package config loads svnbridged's TOML server configuration, the static
// registry of repositories and authentication material a serving process
// needs to start. Parsing goes through github.com/BurntSushi/toml, matching
// the teacher's already-declared but previously unused config dependency;
// the atomic-write helper for generated configs follows the same
// temp-file-then-rename idiom pkg/repo/config.go uses for its own
// repository-local settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig is the [server] table: listen address and timeout knobs.
type ServerConfig struct {
	ListenAddr    string `toml:"listen_addr"`
	IdleTimeout   Duration `toml:"idle_timeout"`
	EditorTimeout Duration `toml:"editor_timeout"`
}

// RepositoryConfig is one [[repositories]] entry.
type RepositoryConfig struct {
	Name          string `toml:"name"`
	GitDir        string `toml:"git_dir"`
	Ref           string `toml:"ref"`
	AnonymousRead bool   `toml:"anonymous_read"`
}

// ACLConfig is one [[auth.acl]] entry, mirroring internal/auth.ACLEntry.
type ACLConfig struct {
	User     string `toml:"user"`
	PathGlob string `toml:"path_glob"`
	Access   string `toml:"access"`
}

// AuthConfig is the [auth] table.
type AuthConfig struct {
	AuthorizedKeysPath string               `toml:"authorized_keys_path"`
	Passwords          map[string]string    `toml:"passwords"`
	ACL                []ACLConfig          `toml:"acl"`
}

// Config is the parsed contents of svnbridged.toml.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Repositories []RepositoryConfig `toml:"repositories"`
	Auth         AuthConfig         `toml:"auth"`
}

// Duration wraps time.Duration so TOML can parse a Go-style "60s"/"10m"
// string directly, since encoding/toml has no native duration type.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

const (
	defaultIdleTimeout   = 60 * time.Second
	defaultEditorTimeout = 10 * time.Minute
	defaultListenAddr    = ":3690"
)

// Load reads and validates svnbridged.toml at path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaultListenAddr
	}
	if c.Server.IdleTimeout.Duration == 0 {
		c.Server.IdleTimeout.Duration = defaultIdleTimeout
	}
	if c.Server.EditorTimeout.Duration == 0 {
		c.Server.EditorTimeout.Duration = defaultEditorTimeout
	}
	for i := range c.Repositories {
		if c.Repositories[i].Ref == "" {
			c.Repositories[i].Ref = "refs/heads/main"
		}
	}
}

// Validate checks the loaded config is well-formed enough to serve:
// non-empty repository names and git dirs, no duplicate names.
func (c *Config) Validate() error {
	if len(c.Repositories) == 0 {
		return fmt.Errorf("config: at least one [[repositories]] entry is required")
	}
	seen := make(map[string]bool, len(c.Repositories))
	for _, r := range c.Repositories {
		if r.Name == "" {
			return fmt.Errorf("config: repository entry missing name")
		}
		if r.GitDir == "" {
			return fmt.Errorf("config: repository %q missing git_dir", r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("config: duplicate repository name %q", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// WriteDefault atomically writes a starter svnbridged.toml to path,
// following the teacher's temp-file-then-rename write discipline
// (pkg/repo/config.go's WriteConfig).
func WriteDefault(path string, repoName, gitDir string) error {
	cfg := Config{
		Server: ServerConfig{
			ListenAddr:    defaultListenAddr,
			IdleTimeout:   Duration{defaultIdleTimeout},
			EditorTimeout: Duration{defaultEditorTimeout},
		},
		Repositories: []RepositoryConfig{
			{Name: repoName, GitDir: gitDir, Ref: "refs/heads/main", AnonymousRead: true},
		},
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".svnbridged-config-tmp-*")
	if err != nil {
		return fmt.Errorf("config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(cfg); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: rename: %w", err)
	}
	return nil
}
