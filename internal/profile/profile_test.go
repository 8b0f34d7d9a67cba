package profile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "work123", false},
		{"valid with hyphen", "my-profile", false},
		{"valid with underscore", "my_profile", false},
		{"valid max length", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"dot", "my.profile", true},
		{"parent", "..", true},
		{"too long", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true},
		{"slash", "my/profile", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	p := Paths{Base: "/base"}
	tests := []struct {
		got, want string
	}{
		{p.ConfigPath(), "/base/config.toml"},
		{p.Dir("work"), "/base/profiles/work"},
		{p.DBPath("work"), "/base/profiles/work/cache.db"},
		{p.LogPath("work"), "/base/profiles/work/logs/threadline.log"},
	}
	for _, tt := range tests {
		if tt.got != filepath.FromSlash(tt.want) {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestDefaultUnderHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := Default().Base; got != filepath.Join(home, ".threadline") {
		t.Errorf("Default().Base = %q", got)
	}
}

func TestEnsureDir(t *testing.T) {
	p := Paths{Base: t.TempDir()}
	if err := p.EnsureDir("work"); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	info, err := os.Stat(p.LogDir("work"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() || info.Mode().Perm() != 0700 {
		t.Errorf("log dir mode = %v", info.Mode())
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		flag, env, cfg string
		want           string
		wantErr        bool
	}{
		{"", "", "", DefaultName, false},
		{"", "", "home", "home", false},
		{"", "work", "home", "work", false},
		{"cli", "work", "home", "cli", false},
		{"Bad Name", "", "", "", true},
	}
	for _, tt := range tests {
		got, err := Resolve(tt.flag, tt.env, tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("Resolve(%q, %q, %q) error = %v", tt.flag, tt.env, tt.cfg, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q, %q, %q) = %q, want %q", tt.flag, tt.env, tt.cfg, got, tt.want)
		}
	}
}
