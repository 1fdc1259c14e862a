// Package config loads the optional session configuration file layered
// under cmd/ndscore's CLI flags. Grounded on the struct-plus-Defaults
// shape other_examples' gbemu-style config.go uses, with persistence
// added via gopkg.in/yaml.v3 (present in the teacher's dependency tree,
// pulled in indirectly by its testify/cli toolchain).
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the settings a session can carry between runs: default
// ROM/BIOS/firmware paths, key bindings, and headless snapshot cadence.
type Config struct {
	RomPath      string            `yaml:"rom_path,omitempty"`
	BiosAPath    string            `yaml:"bios_a_path,omitempty"`
	BiosCPath    string            `yaml:"bios_c_path,omitempty"`
	FirmwarePath string            `yaml:"firmware_path,omitempty"`
	Keys         map[string]string `yaml:"keys,omitempty"`

	SnapshotInterval int    `yaml:"snapshot_interval,omitempty"`
	SnapshotDir      string `yaml:"snapshot_dir,omitempty"`
}

// DefaultKeys is used whenever a loaded config omits the keys map
// entirely, matching spec.md §6's button set.
var DefaultKeys = map[string]string{
	"a":      "A",
	"b":      "B",
	"x":      "X",
	"y":      "Y",
	"l":      "L",
	"r":      "R",
	"start":  "Enter",
	"select": "Backspace",
	"up":     "Up",
	"down":   "Down",
	"left":   "Left",
	"right":  "Right",
}

// Defaults fills missing fields with reasonable defaults.
func (c *Config) Defaults() {
	if c.Keys == nil {
		c.Keys = make(map[string]string, len(DefaultKeys))
		for k, v := range DefaultKeys {
			c.Keys[k] = v
		}
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = "snapshots"
	}
}

// Load reads and parses a YAML config file. A missing file is not an
// error: it returns a Config holding only the defaults, so the caller's CLI
// flags layer over those.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Defaults()
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Defaults()
	return cfg, nil
}

// Save writes cfg back out as YAML, creating the file if needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
