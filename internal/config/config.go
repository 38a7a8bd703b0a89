// Package config implements TOML configuration loading, validation, and
// override resolution for zotero-go.
package config

// Config is the top-level configuration, one sub-struct per TOML table.
type Config struct {
	API       APIConfig       `toml:"api"`
	OAuth     OAuthConfig     `toml:"oauth"`
	Storage   StorageConfig   `toml:"storage"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// APIConfig locates the web API and its streaming endpoint.
type APIConfig struct {
	BaseURL   string `toml:"base_url"`
	StreamURL string `toml:"stream_url"`
}

// OAuthConfig holds the consumer credentials and endpoints for the
// three-legged authorization flow.
type OAuthConfig struct {
	ClientKey    string `toml:"client_key"`
	ClientSecret string `toml:"client_secret"`
	RequestURL   string `toml:"request_url"`
	AuthorizeURL string `toml:"authorize_url"`
	AccessURL    string `toml:"access_url"`
	CallbackAddr string `toml:"callback_addr"`
	AppName      string `toml:"app_name"`
}

// StorageConfig selects the preference store backend.
type StorageConfig struct {
	Backend  string `toml:"backend"`
	StateDir string `toml:"state_dir"`
}

// TransfersConfig controls uploads and target discovery.
type TransfersConfig struct {
	BandwidthLimit       string `toml:"bandwidth_limit"`
	MaxAttachmentSize    string `toml:"max_attachment_size"`
	DiscoveryConcurrency int    `toml:"discovery_concurrency"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout    string  `toml:"connect_timeout"`
	DataTimeout       string  `toml:"data_timeout"`
	UserAgent         string  `toml:"user_agent"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// CLIOverrides holds values from command-line flags. Pointer fields
// distinguish "not specified" (nil) from an explicit value.
type CLIOverrides struct {
	ConfigPath string
	StateDir   *string
	Backend    *string
}
