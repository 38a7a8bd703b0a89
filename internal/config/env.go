package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "ZOTERO_GO_CONFIG"
	EnvStateDir     = "ZOTERO_GO_STATE_DIR"
	EnvClientKey    = "ZOTERO_GO_CLIENT_KEY"
	EnvClientSecret = "ZOTERO_GO_CLIENT_SECRET"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // ZOTERO_GO_CONFIG: override config file path
	StateDir     string // ZOTERO_GO_STATE_DIR: preference store directory
	ClientKey    string // ZOTERO_GO_CLIENT_KEY: OAuth consumer key
	ClientSecret string // ZOTERO_GO_CLIENT_SECRET: OAuth consumer secret
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		StateDir:     os.Getenv(EnvStateDir),
		ClientKey:    os.Getenv(EnvClientKey),
		ClientSecret: os.Getenv(EnvClientSecret),
	}
}
