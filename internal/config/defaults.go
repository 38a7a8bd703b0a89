package config

import "fmt"

// Default values. DefaultConfig and the validators both read these so the
// two cannot drift apart.
const (
	defaultBaseURL              = "https://api.zotero.org/"
	defaultStreamURL            = "wss://stream.zotero.org"
	defaultRequestURL           = "https://www.zotero.org/oauth/request"
	defaultAuthorizeURL         = "https://www.zotero.org/oauth/authorize"
	defaultAccessURL            = "https://www.zotero.org/oauth/access"
	defaultCallbackAddr         = "127.0.0.1:0"
	defaultAppName              = "zotero-go"
	defaultBackend              = BackendSQLite
	defaultBandwidthLimit       = "0"
	defaultMaxAttachmentSize    = "0"
	defaultDiscoveryConcurrency = 4
	defaultLogLevel             = "warn"
	defaultLogFormat            = "auto"
	defaultConnectTimeout       = "10s"
	defaultDataTimeout          = "60s"
	defaultRequestsPerSecond    = 0
)

// Version is stamped at build time; it feeds the default user agent.
var Version = "dev"

// DefaultConfig returns a Config populated with every default value. TOML
// decoding overwrites only the keys present in the file.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   defaultBaseURL,
			StreamURL: defaultStreamURL,
		},
		OAuth: OAuthConfig{
			RequestURL:   defaultRequestURL,
			AuthorizeURL: defaultAuthorizeURL,
			AccessURL:    defaultAccessURL,
			CallbackAddr: defaultCallbackAddr,
			AppName:      defaultAppName,
		},
		Storage: StorageConfig{
			Backend: defaultBackend,
		},
		Transfers: TransfersConfig{
			BandwidthLimit:       defaultBandwidthLimit,
			MaxAttachmentSize:    defaultMaxAttachmentSize,
			DiscoveryConcurrency: defaultDiscoveryConcurrency,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout:    defaultConnectTimeout,
			DataTimeout:       defaultDataTimeout,
			UserAgent:         DefaultUserAgent(),
			RequestsPerSecond: defaultRequestsPerSecond,
		},
	}
}

// DefaultUserAgent returns the User-Agent sent when none is configured.
func DefaultUserAgent() string {
	return fmt.Sprintf("zotero-go/%s", Version)
}
