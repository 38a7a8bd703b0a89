package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Resolved is a fully merged and validated configuration with its string
// fields parsed into the types callers use.
type Resolved struct {
	Config

	ConfigPath        string
	StateDir          string
	BandwidthLimit    int64 // bytes per second, 0 = unlimited
	MaxAttachmentSize int64 // bytes, 0 = unlimited
	ConnectTimeout    time.Duration
	DataTimeout       time.Duration
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal and carry "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.StateDir != "" {
		cfg.Storage.StateDir = env.StateDir
	}

	if env.ClientKey != "" {
		cfg.OAuth.ClientKey = env.ClientKey
	}

	if env.ClientSecret != "" {
		cfg.OAuth.ClientSecret = env.ClientSecret
	}

	if cli.StateDir != nil {
		cfg.Storage.StateDir = *cli.StateDir
	}

	if cli.Backend != nil {
		cfg.Storage.Backend = *cli.Backend
	}

	// Overrides bypass the file-level checks, so validate again.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolve(cfg, cfgPath)
}

// resolve parses the validated string fields. Validate has already
// rejected malformed values, so parse errors here are unexpected.
func resolve(cfg *Config, cfgPath string) (*Resolved, error) {
	r := &Resolved{Config: *cfg, ConfigPath: cfgPath}

	r.StateDir = expandTilde(cfg.Storage.StateDir)
	if r.StateDir == "" {
		r.StateDir = DefaultDataDir()
	}

	if !filepath.IsAbs(r.StateDir) {
		return nil, fmt.Errorf("state_dir: must be absolute after expansion, got %q", r.StateDir)
	}

	var err error

	if r.BandwidthLimit, err = ParseBandwidth(cfg.Transfers.BandwidthLimit); err != nil {
		return nil, err
	}

	if r.MaxAttachmentSize, err = ParseSize(cfg.Transfers.MaxAttachmentSize); err != nil {
		return nil, err
	}

	if r.ConnectTimeout, err = time.ParseDuration(cfg.Network.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("connect_timeout: %w", err)
	}

	if r.DataTimeout, err = time.ParseDuration(cfg.Network.DataTimeout); err != nil {
		return nil, fmt.Errorf("data_timeout: %w", err)
	}

	return r, nil
}

// PrefsPath returns the preference store file for the configured backend.
func (r *Resolved) PrefsPath() string {
	if r.Storage.Backend == BackendFile {
		return filepath.Join(r.StateDir, "prefs.json")
	}

	return filepath.Join(r.StateDir, "prefs.db")
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
