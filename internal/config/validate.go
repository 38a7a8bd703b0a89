package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minDiscoveryConcurrency = 1
	maxDiscoveryConcurrency = 16
	minConnectTimeout       = 1 * time.Second
	minDataTimeout          = 5 * time.Second
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every problem in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateOAuth(&cfg.OAuth)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	errs = append(errs, validateURL("api.base_url", a.BaseURL, "http", "https")...)
	errs = append(errs, validateURL("api.stream_url", a.StreamURL, "ws", "wss")...)

	return errs
}

func validateOAuth(o *OAuthConfig) []error {
	var errs []error

	errs = append(errs, validateURL("oauth.request_url", o.RequestURL, "http", "https")...)
	errs = append(errs, validateURL("oauth.authorize_url", o.AuthorizeURL, "http", "https")...)
	errs = append(errs, validateURL("oauth.access_url", o.AccessURL, "http", "https")...)

	if _, _, err := net.SplitHostPort(o.CallbackAddr); err != nil {
		errs = append(errs, fmt.Errorf("oauth.callback_addr: invalid host:port %q: %w", o.CallbackAddr, err))
	}

	if o.AppName == "" {
		errs = append(errs, errors.New("oauth.app_name: must not be empty"))
	}

	return errs
}

func validateURL(field, raw string, schemes ...string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, raw, err)}
	}

	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}

	return []error{fmt.Errorf("%s: must be an absolute %v URL, got %q", field, schemes, raw)}
}

var validBackends = map[string]bool{
	BackendSQLite: true,
	BackendFile:   true,
}

func validateStorage(s *StorageConfig) []error {
	if !validBackends[s.Backend] {
		return []error{fmt.Errorf("storage.backend: must be one of sqlite, file; got %q", s.Backend)}
	}

	return nil
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if _, err := ParseBandwidth(t.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("transfers.%w", err))
	}

	if _, err := ParseSize(t.MaxAttachmentSize); err != nil {
		errs = append(errs, fmt.Errorf("transfers.max_attachment_size: %w", err))
	}

	if t.DiscoveryConcurrency < minDiscoveryConcurrency || t.DiscoveryConcurrency > maxDiscoveryConcurrency {
		errs = append(errs, fmt.Errorf("transfers.discovery_concurrency: must be %d-%d, got %d",
			minDiscoveryConcurrency, maxDiscoveryConcurrency, t.DiscoveryConcurrency))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	if n.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("network.requests_per_second: must be >= 0, got %g", n.RequestsPerSecond))
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
