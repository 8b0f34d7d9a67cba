// Package profile lays out the per-account directories under ~/.threadline.
// A profile is one signed-in identity with its own cache database, lock and
// logs; the config file is shared.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// DefaultName is used when neither a flag nor the config names a profile.
const DefaultName = "main"

// EnvProfile selects a profile when no flag is given.
const EnvProfile = "THREADLINE_PROFILE"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name is usable as a directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Paths resolves files relative to a base directory.
type Paths struct {
	Base string
}

// Default roots paths at ~/.threadline.
func Default() Paths {
	home, _ := os.UserHomeDir()
	return Paths{Base: filepath.Join(home, ".threadline")}
}

func (p Paths) ConfigPath() string { return filepath.Join(p.Base, "config.toml") }

func (p Paths) Dir(name string) string { return filepath.Join(p.Base, "profiles", name) }

// DBPath returns the local cache database of a profile.
func (p Paths) DBPath(name string) string { return filepath.Join(p.Dir(name), "cache.db") }

func (p Paths) LogDir(name string) string { return filepath.Join(p.Dir(name), "logs") }

func (p Paths) LogPath(name string) string { return filepath.Join(p.LogDir(name), "threadline.log") }

// EnsureDir creates the profile directory tree with owner-only permissions.
func (p Paths) EnsureDir(name string) error {
	for _, d := range []string{p.Dir(name), p.LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// Resolve picks the active profile name using precedence:
// 1. flag (--profile)
// 2. THREADLINE_PROFILE
// 3. config default_profile
// 4. "main"
func Resolve(flag, env, configured string) (string, error) {
	name := DefaultName
	switch {
	case flag != "":
		name = flag
	case env != "":
		name = env
	case configured != "":
		name = configured
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
