package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Server.APIURL = "https://chat.example.com/api"
	cfg.Search.Debounce = Duration{150 * time.Millisecond}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Search.Debounce.Duration != 150*time.Millisecond {
		t.Errorf("Debounce = %v, want 150ms", loaded.Search.Debounce)
	}
	if loaded.Server.APIURL != cfg.Server.APIURL {
		t.Errorf("APIURL = %q", loaded.Server.APIURL)
	}
}

// TestLoadKeepsDefaults verifies keys missing from the file keep their
// defaults instead of becoming zero.
func TestLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[sync]\npage_size = 20\n[push]\nbackoff_max = \"1m\"\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.PageSize != 20 || cfg.Push.BackoffMax.Duration != time.Minute {
		t.Errorf("overrides not applied: %+v %+v", cfg.Sync, cfg.Push)
	}
	if cfg.Sync.RequestTimeout.Duration != 15*time.Second || cfg.Push.Jitter != 0.5 {
		t.Errorf("defaults lost: %+v %+v", cfg.Sync, cfg.Push)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("/nonexistent/config.toml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.DefaultProfile != "main" {
		t.Errorf("DefaultProfile = %q, want main", cfg.DefaultProfile)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.Auth.TokenFile = "/tmp/token"
	env := map[string]string{
		EnvAPIURL: "https://env.example.com",
		EnvToken:  "secret",
		EnvUserID: "u1",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Server.APIURL != "https://env.example.com" || cfg.Auth.UserID != "u1" {
		t.Errorf("env not applied: %+v", cfg)
	}
	// An explicit token wins over the file.
	if tok, err := cfg.Token(); err != nil || tok != "secret" {
		t.Errorf("Token() = %q, %v", tok, err)
	}
}

func TestTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("abc123\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	cfg.Auth.TokenFile = path
	tok, err := cfg.Token()
	if err != nil {
		t.Fatal(err)
	}
	if tok != "abc123" {
		t.Errorf("Token() = %q, want abc123", tok)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing api url", func(c *Config) { c.Server.APIURL = "" }, "server.api_url is required"},
		{"bad push scheme", func(c *Config) { c.Server.PushURL = "ftp://x" }, "server.push_url"},
		{"missing user", func(c *Config) { c.Auth.UserID = "" }, "auth.user_id"},
		{"missing token", func(c *Config) { c.Auth.Token = "" }, "auth.token"},
		{"jitter out of range", func(c *Config) { c.Push.Jitter = 2 }, "push.jitter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Server.APIURL = "https://chat.example.com/api"
			cfg.Server.PushURL = "wss://chat.example.com/ws"
			cfg.Auth.Token = "t"
			cfg.Auth.UserID = "u1"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
