package auth

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Secrets are the key material a request is signed with. Token and
// TokenSecret are empty for the request-token call.
type Secrets struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
}

// Signer produces the OAuth 1.0a Authorization header for a request.
// params holds the extra oauth_* protocol parameters (oauth_callback,
// oauth_verifier) to include in the header.
type Signer interface {
	Sign(method, rawURL string, params map[string]string, s Secrets) (string, error)
}

// PlaintextSigner signs with the PLAINTEXT method. It is only safe over
// TLS, which the authorization endpoints require.
type PlaintextSigner struct {
	nonceFunc func() string
	nowFunc   func() time.Time
}

// NewPlaintextSigner returns a signer using random nonces and the wall clock.
func NewPlaintextSigner() *PlaintextSigner {
	return &PlaintextSigner{
		nonceFunc: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		nowFunc:   time.Now,
	}
}

// Sign implements Signer.
func (p *PlaintextSigner) Sign(_, _ string, params map[string]string, s Secrets) (string, error) {
	if s.ConsumerKey == "" {
		return "", fmt.Errorf("auth: signing without consumer key")
	}

	fields := map[string]string{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_nonce":            p.nonceFunc(),
		"oauth_signature_method": "PLAINTEXT",
		"oauth_timestamp":        strconv.FormatInt(p.nowFunc().Unix(), 10),
		"oauth_version":          "1.0",
		"oauth_signature":        percentEncode(s.ConsumerSecret) + "&" + percentEncode(s.TokenSecret),
	}

	if s.Token != "" {
		fields["oauth_token"] = s.Token
	}

	for k, v := range params {
		fields[k] = v
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, percentEncode(k)+`="`+percentEncode(fields[k])+`"`)
	}

	return "OAuth " + strings.Join(parts, ", "), nil
}

// percentEncode applies RFC 3986 encoding as OAuth 1.0a requires.
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
