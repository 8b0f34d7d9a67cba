// Package config loads the global ~/.threadline/config.toml.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables that override the file.
const (
	EnvAPIURL  = "THREADLINE_API_URL"
	EnvPushURL = "THREADLINE_PUSH_URL"
	EnvToken   = "THREADLINE_TOKEN"
	EnvUserID  = "THREADLINE_USER_ID"
)

// Config represents the global ~/.threadline/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	LogLevel       string `toml:"log_level"`
	Server         Server `toml:"server"`
	Auth           Auth   `toml:"auth"`
	Sync           Sync   `toml:"sync"`
	Push           Push   `toml:"push"`
	Search         Search `toml:"search"`
}

type Server struct {
	APIURL  string `toml:"api_url"`
	PushURL string `toml:"push_url"`
}

type Auth struct {
	Token string `toml:"token"`
	// TokenFile is read on every Token call when set, so a rotated token is
	// picked up on the next request.
	TokenFile string `toml:"token_file"`
	UserID    string `toml:"user_id"`
}

type Sync struct {
	PageSize       int      `toml:"page_size"`
	RequestTimeout Duration `toml:"request_timeout"`
	EchoWindow     Duration `toml:"echo_window"`
	CatchUpAll     bool     `toml:"catch_up_all"`
}

type Push struct {
	BackoffBase Duration `toml:"backoff_base"`
	BackoffMax  Duration `toml:"backoff_max"`
	Jitter      float64  `toml:"jitter"`
	Keepalive   Duration `toml:"keepalive"`
}

type Search struct {
	Debounce Duration `toml:"debounce"`
}

// Duration is a time.Duration written as a string ("15s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		LogLevel:       "info",
		Sync: Sync{
			PageSize:       50,
			RequestTimeout: Duration{15 * time.Second},
			EchoWindow:     Duration{10 * time.Second},
		},
		Push: Push{
			BackoffBase: Duration{500 * time.Millisecond},
			BackoffMax:  Duration{30 * time.Second},
			Jitter:      0.5,
			Keepalive:   Duration{25 * time.Second},
		},
		Search: Search{Debounce: Duration{300 * time.Millisecond}},
	}
}

// Load reads config from the given path on top of Default. A missing file
// is an error; use LoadOrDefault to tolerate it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to Default when the file is missing.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ApplyEnv overrides file values with the THREADLINE_* environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvAPIURL); v != "" {
		c.Server.APIURL = v
	}
	if v := getenv(EnvPushURL); v != "" {
		c.Server.PushURL = v
	}
	if v := getenv(EnvToken); v != "" {
		c.Auth.Token = v
		c.Auth.TokenFile = ""
	}
	if v := getenv(EnvUserID); v != "" {
		c.Auth.UserID = v
	}
}

// Validate checks the values the client cannot start without.
func (c *Config) Validate() error {
	var problems []error
	if err := checkURL("server.api_url", c.Server.APIURL, "http", "https"); err != nil {
		problems = append(problems, err)
	}
	if c.Server.PushURL != "" {
		if err := checkURL("server.push_url", c.Server.PushURL, "ws", "wss", "http", "https"); err != nil {
			problems = append(problems, err)
		}
	}
	if c.Auth.UserID == "" {
		problems = append(problems, errors.New("auth.user_id is required"))
	}
	if c.Auth.Token == "" && c.Auth.TokenFile == "" {
		problems = append(problems, errors.New("auth.token or auth.token_file is required"))
	}
	if c.Sync.PageSize < 0 {
		problems = append(problems, errors.New("sync.page_size must not be negative"))
	}
	if c.Push.Jitter < 0 || c.Push.Jitter > 1 {
		problems = append(problems, errors.New("push.jitter must be within [0, 1]"))
	}
	return errors.Join(problems...)
}

// Token returns the bearer credential, reading token_file when set.
func (c *Config) Token() (string, error) {
	if c.Auth.TokenFile == "" {
		return c.Auth.Token, nil
	}
	data, err := os.ReadFile(c.Auth.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func checkURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: want a %s URL, got %q", key, strings.Join(schemes, "/"), raw)
}
