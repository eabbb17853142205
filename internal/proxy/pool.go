// Package proxy supplies rotating egress credentials from a proxy-issuing
// service. Credentials are single-use from our side, but the issuer may hand
// out the same address twice; callers must not assume uniqueness.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnavailable is returned when the issuing service cannot produce a
// credential (timeout, non-2xx, empty body). Callers retry acquisition.
var ErrUnavailable = errors.New("proxy credential unavailable")

// Credential is one egress identity: proxy address plus auth pair.
type Credential struct {
	Address  string `json:"address"` // host:port
	Username string `json:"username"`
	Password string `json:"password"`
}

// IsZero reports whether the credential is empty (direct connection).
func (c Credential) IsZero() bool {
	return c.Address == ""
}

// URL renders the credential as an http proxy URL.
func (c Credential) URL() (*url.URL, error) {
	if c.IsZero() {
		return nil, fmt.Errorf("empty credential")
	}
	u := &url.URL{Scheme: "http", Host: c.Address}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u, nil
}

// Pool issues egress credentials. Implementations must be safe for
// concurrent use.
type Pool interface {
	Acquire(ctx context.Context) (Credential, error)
}

// HTTPPool acquires credentials from an HTTP issuing endpoint that responds
// with {"address": "...", "username": "...", "password": "..."}.
type HTTPPool struct {
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

// NewHTTPPool creates a pool backed by the given issuing endpoint.
func NewHTTPPool(endpoint string, log zerolog.Logger) *HTTPPool {
	return &HTTPPool{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.With().Str("client", "proxy-pool").Logger(),
	}
}

// Acquire performs one request against the issuing service. Every failure
// mode maps to ErrUnavailable so callers have a single retry signal.
func (p *HTTPPool) Acquire(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to build credential request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Msg("Credential request failed")
		return Credential{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.log.Warn().Int("status", resp.StatusCode).Msg("Credential service returned non-2xx")
		return Credential{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(body) == 0 {
		return Credential{}, fmt.Errorf("%w: empty body", ErrUnavailable)
	}

	var cred Credential
	if err := json.Unmarshal(body, &cred); err != nil {
		return Credential{}, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if cred.Address == "" {
		return Credential{}, fmt.Errorf("%w: response missing address", ErrUnavailable)
	}

	p.log.Debug().Str("address", cred.Address).Msg("Acquired proxy credential")
	return cred, nil
}

// Static is a pool that always returns the same credential. Useful for
// development against a fixed proxy, and for the direct-connection case
// (zero credential) when no issuer is configured.
type Static struct {
	Credential Credential
}

// Acquire implements Pool.
func (s Static) Acquire(ctx context.Context) (Credential, error) {
	return s.Credential, nil
}
