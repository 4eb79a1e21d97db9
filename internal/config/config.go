// Package config defines the tunables shared by every stage of the trait
// extraction pipeline: thread count, hashing and heuristic toggles, the
// mmap cache, and the sweep disassembler. A Config is built once by the
// driver and passed by value to every component; nothing below the driver
// mutates it.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	directoryName = "binlex"
	fileName      = "binlex.toml"
)

// Config is the full set of tunables recognized from the TOML file and CLI
// flags described in spec.md §6.
type Config struct {
	General      General      `toml:"general"`
	Heuristics   Heuristics   `toml:"heuristics"`
	Hashing      Sections     `toml:"hashing"`
	Mmap         Mmap         `toml:"mmap"`
	Disassembler Disassembler `toml:"disassembler"`
}

// General holds run-wide, mostly CLI-only settings.
type General struct {
	Input   string   `toml:"-"`
	Output  string   `toml:"-"`
	Threads int      `toml:"threads"`
	Minimal bool     `toml:"minimal"`
	Debug   bool     `toml:"debug"`
	Tags    []string `toml:"-"`
}

// Heuristics toggles the feature-vector, normalized-pattern, and entropy
// computations, applied per the "file | blocks | functions | chromosomes"
// sectioning of spec.md §6. A single Heuristics value is reused across all
// four sections; callers that need a per-section override construct a
// separate Config copy (Config is cheap to copy by value).
type Heuristics struct {
	Features   Toggle `toml:"features"`
	Normalized Toggle `toml:"normalized"`
	Entropy    Toggle `toml:"entropy"`
}

// Toggle is a bare enabled bit, matching ConfigHeuristicFeatures et al. in
// the original Rust config.
type Toggle struct {
	Enabled bool `toml:"enabled"`
}

// Sections is the hashing configuration, again shared across the
// `formats.file`/`blocks`/`functions`/`chromosomes` sections of spec.md §6.
type Sections struct {
	SHA256  SHA256  `toml:"sha256"`
	TLSH    TLSH    `toml:"tlsh"`
	MinHash MinHash `toml:"minhash"`
}

type SHA256 struct {
	Enabled bool `toml:"enabled"`
}

type TLSH struct {
	Enabled         bool `toml:"enabled"`
	MinimumByteSize int  `toml:"minimum_byte_size"`
}

type MinHash struct {
	Enabled         bool   `toml:"enabled"`
	NumberOfHashes  int    `toml:"number_of_hashes"`
	ShingleSize     int    `toml:"shingle_size"`
	MaximumByteSize int    `toml:"maximum_byte_size"`
	Seed            uint64 `toml:"seed"`
}

// Mmap configures the optional on-disk image cache (spec.md §4.1, §6).
type Mmap struct {
	Directory string    `toml:"directory"`
	Cache     MmapCache `toml:"cache"`
}

type MmapCache struct {
	Enabled bool `toml:"enabled"`
}

// Disassembler configures the recursive walker's linear sweep pass.
type Disassembler struct {
	Sweep Sweep `toml:"sweep"`
}

type Sweep struct {
	Enabled bool `toml:"enabled"`
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		General: General{
			Threads: 1,
			Minimal: false,
			Debug:   false,
		},
		Heuristics: Heuristics{
			Features:   Toggle{Enabled: true},
			Normalized: Toggle{Enabled: false},
			Entropy:    Toggle{Enabled: true},
		},
		Hashing: Sections{
			SHA256: SHA256{Enabled: true},
			TLSH:   TLSH{Enabled: true, MinimumByteSize: 50},
			MinHash: MinHash{
				Enabled:         true,
				NumberOfHashes:  64,
				ShingleSize:     4,
				MaximumByteSize: 50,
				Seed:            0,
			},
		},
		Mmap: Mmap{
			Directory: defaultMmapDirectory(),
			Cache:     MmapCache{Enabled: false},
		},
		Disassembler: Disassembler{
			Sweep: Sweep{Enabled: true},
		},
	}
}

func defaultMmapDirectory() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), directoryName)
	}
	return filepath.Join(dir, directoryName)
}

// DefaultDirectory returns the platform config directory binlex.toml is
// written to on first run, e.g. $XDG_CONFIG_HOME/binlex or
// %AppData%\binlex on Windows.
func DefaultDirectory() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve config dir: %w", err)
	}
	return filepath.Join(dir, directoryName), nil
}

// DefaultPath returns DefaultDirectory joined with binlex.toml.
func DefaultPath() (string, error) {
	dir, err := DefaultDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// Load parses a TOML file into a Config seeded with Default() values, so
// a partial file only overrides the keys it mentions.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories as needed. Used on first run when no config file exists yet.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}
