// Package httpclient builds the *http.Client each vuser.User issues
// requests through, grounded on fortio's fhttp http_client.go factory
// pattern (HTTP/2 via golang.org/x/net/http2, configurable timeouts) but
// retargeted at net/http's standard client instead of fortio's optimized
// raw-socket Fetcher, since session cookies and redirects need the standard
// library's cookiejar/redirect machinery.
package httpclient // import "github.com/fortio-goat/goatling/vuser/httpclient"

import (
	"crypto/tls"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/publicsuffix"
)

// Config controls client construction.
type Config struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	DisableKeepAlives  bool
	DisableHTTP2       bool
	// Shared records whether the caller wants one client reused by many
	// users. New does not read it: every call, with Shared true or false,
	// builds a separate client with its own cookie jar, and the attack
	// package calls New once per user.
	Shared bool
}

// DefaultTimeout is used when Config.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// New builds an *http.Client per cfg. Every client gets its own cookie jar
// (even shared ones — jar.Cookies is keyed per scheme+host+path, not per
// goroutine, and Goose-style scenarios rely on set-cookie being visible to
// the next request from the same simulated user).
func New(cfg Config) (*http.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		DisableKeepAlives: cfg.DisableKeepAlives,
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec // opt-in flag for self-signed test targets
	}
	if !cfg.DisableHTTP2 {
		_ = http2.ConfigureTransport(transport)
	}
	return &http.Client{
		Timeout:   timeout,
		Jar:       jar,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, nil
}
