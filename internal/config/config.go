// Package config loads and saves the mesh selection config. `calmesh
// select` writes it; `calmesh once` and `calmesh run` read it and fail
// when it is absent, without prompting interactively.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Config is the on-disk shape of ~/.calendarsync/config.json, exactly as
// spec section 6 specifies it.
type Config struct {
	SelectedCalendarIDs []string `json:"selectedCalendarIds"`
}

// Exists reports whether a config file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load reads and parses the config file at path. It does not create a
// default config: interactive first-run selection is responsible for
// that, via Save.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path atomically: a temp file in the same directory,
// synced and chmod 0600, then renamed over the target. Adapted from the
// teacher's own config.Save, with JSON in place of YAML because spec
// section 6 specifies the JSON wire shape for this file explicitly.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config: path is empty")
	}
	if cfg == nil {
		return errors.New("config: cfg is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calmesh-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ValidateAgainstCalendars reports ErrNoValidCalendars if none of cfg's
// selected ids are present in live, per spec section 7: "Configuration
// invalid" is fatal only if no calendar from the stored configuration
// still exists.
func (cfg *Config) ValidateAgainstCalendars(live []string) error {
	liveSet := make(map[string]bool, len(live))
	for _, id := range live {
		liveSet[id] = true
	}
	for _, id := range cfg.SelectedCalendarIDs {
		if liveSet[id] {
			return nil
		}
	}
	return ErrNoValidCalendars
}

// ErrNoValidCalendars is returned by ValidateAgainstCalendars when none of
// the configured calendars still resolve. Callers should exit(1) per spec
// section 6.
var ErrNoValidCalendars = errors.New("config: no configured calendar still exists")
