// Package prefs persists threadline display preferences.
//
// Preferences live in ~/.config/threadline/prefs.toml:
//
//	theme = "Kanagawa"
//	absolute_times = true
//
// They only affect presentation. A missing, unreadable, or malformed file
// never stops the client: Load always returns usable preferences, falling
// back to Default for anything it could not read, and reports the problem
// separately so the caller can log it.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Prefs holds display preferences.
type Prefs struct {
	// Theme names a UI theme. Unknown names are resolved by the UI.
	Theme string `toml:"theme"`
	// AbsoluteTimes renders post and comment times as local dates
	// ("Jan 2 15:04") instead of relative ages ("3m ago"). It is off unless
	// a readable prefs file turns it on.
	AbsoluteTimes bool `toml:"absolute_times"`
}

const (
	defaultPath  = "~/.config/threadline/prefs.toml"
	defaultTheme = "Nightfox"
)

// DefaultPath returns the default preferences file path.
func DefaultPath() string { return defaultPath }

// Default returns the preferences used when no file says otherwise.
func Default() Prefs {
	return Prefs{Theme: defaultTheme}
}

// Load reads preferences from path, or DefaultPath when path is blank. A
// missing file is not an error. Any other failure returns Default together
// with the error; settings from a file that does not parse are not applied
// partially.
func Load(path string) (Prefs, error) {
	resolved, err := expand(path)
	if err != nil {
		return Default(), err
	}

	data, err := os.ReadFile(resolved)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("read prefs: %w", err)
	}

	p := Default()
	if err := toml.Unmarshal(data, &p); err != nil {
		return Default(), fmt.Errorf("parse prefs %s: %w", resolved, err)
	}
	p.Theme = strings.TrimSpace(p.Theme)
	if p.Theme == "" {
		p.Theme = defaultTheme
	}
	return p, nil
}

// Save writes p to path, creating parent directories. The file is replaced
// atomically so a crash never leaves half-written preferences.
func Save(path string, p Prefs) error {
	resolved, err := expand(path)
	if err != nil {
		return err
	}

	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".prefs-*.toml")
	if err != nil {
		return fmt.Errorf("create temp prefs: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod prefs: %w", err)
	}
	if err := os.Rename(tmp.Name(), resolved); err != nil {
		return fmt.Errorf("replace prefs: %w", err)
	}
	return nil
}

// expand resolves a leading ~ and makes path absolute. Blank means the
// default path.
func expand(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultPath
	}
	if rest, ok := strings.CutPrefix(path, "~"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, rest)
	}
	return filepath.Abs(path)
}
