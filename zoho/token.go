// Package zoho provides the Zoho CRM access layer: a credential-caching
// token exchanger and an authenticated REST client for the CRM modules
// FormBridge writes to.
package zoho

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/formbridge/formbridge/metrics"
)

// authScheme is Zoho's non-standard Authorization scheme. Every
// authenticated CRM call and every validation probe carries it.
const authScheme = "Zoho-oauthtoken"

// tokenLifetime is the pessimistic credential lifetime. Zoho access tokens
// nominally live 60 minutes; the cache keeps a 5-minute safety margin and
// never trusts an expires_in value from the exchange response.
const tokenLifetime = 55 * time.Minute

// Credential is a cached CRM access token together with its computed
// expiry. The zero value means "no credential held".
type Credential struct {
	Token      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// valid reports whether the credential exists and has not passed its
// computed expiry at time now.
func (c Credential) valid(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// TokenConfig carries the OAuth refresh-token exchange inputs.
type TokenConfig struct {
	// TokenURL is the OAuth token endpoint.
	TokenURL string

	ClientID     string
	ClientSecret string
	RefreshToken string

	// ProbeURL is a low-cost authenticated CRM endpoint used to validate
	// a cached token before reuse. Empty disables probing; a cached,
	// unexpired token is then returned without an upstream round trip.
	ProbeURL string
}

// TokenCache owns the single cached CRM credential for the process. It
// refreshes the credential lazily via the OAuth refresh-token grant and
// optionally validates a cached credential against ProbeURL before reuse.
type TokenCache struct {
	cfg TokenConfig

	exchangeTimeout time.Duration
	probeTimeout    time.Duration

	httpClient *http.Client
	logger     *slog.Logger

	// mu guards cred and coalesces concurrent refreshes: callers that
	// arrive while an exchange is in flight block and then observe the
	// freshly cached credential.
	mu   sync.Mutex
	cred Credential
}

// TokenOption configures a TokenCache.
type TokenOption func(*TokenCache)

// WithTokenHTTPClient sets a custom HTTP client for exchanges and probes.
func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(tc *TokenCache) {
		tc.httpClient = c
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger *slog.Logger) TokenOption {
	return func(tc *TokenCache) {
		tc.logger = logger
	}
}

// WithExchangeTimeout sets the per-exchange timeout.
func WithExchangeTimeout(d time.Duration) TokenOption {
	return func(tc *TokenCache) {
		tc.exchangeTimeout = d
	}
}

// WithProbeTimeout sets the per-probe timeout.
func WithProbeTimeout(d time.Duration) TokenOption {
	return func(tc *TokenCache) {
		tc.probeTimeout = d
	}
}

// NewTokenCache creates an empty cache. The first Acquire performs an
// exchange.
func NewTokenCache(cfg TokenConfig, opts ...TokenOption) *TokenCache {
	tc := &TokenCache{
		cfg:             cfg,
		exchangeTimeout: 10 * time.Second,
		probeTimeout:    5 * time.Second,
		httpClient:      &http.Client{},
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(tc)
	}

	return tc
}

// Acquire returns a valid credential, exchanging the refresh token when no
// usable cached credential exists. When a probe URL is configured, a cached
// credential is validated upstream before reuse; a rejected credential is
// discarded and replaced in the same call.
//
// On exchange failure the cache is cleared and an *AuthError is returned.
// There is no fallback to a stale credential.
func (tc *TokenCache) Acquire(ctx context.Context) (Credential, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.cred.valid(time.Now()) {
		if tc.cfg.ProbeURL == "" {
			metrics.TokenCacheHitsTotal.Inc()
			return tc.cred, nil
		}

		err := tc.probe(ctx, tc.cred.Token)
		if err == nil {
			metrics.TokenProbesTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
			metrics.TokenCacheHitsTotal.Inc()
			return tc.cred, nil
		}

		metrics.TokenProbesTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		tc.logger.Warn("Cached token failed validation probe, refreshing",
			"probe_url", tc.cfg.ProbeURL,
			"error", err)
		tc.cred = Credential{}
	}

	cred, err := tc.exchange(ctx)
	if err != nil {
		tc.cred = Credential{}
		metrics.TokenExchangesTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return Credential{}, err
	}

	tc.cred = cred
	metrics.TokenExchangesTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	tc.logger.Info("Access token refreshed",
		"acquired_at", cred.AcquiredAt.Format(time.RFC3339),
		"expires_at", cred.ExpiresAt.Format(time.RFC3339))

	return cred, nil
}

// Invalidate clears the cached credential. The next Acquire always
// performs a fresh exchange.
func (tc *TokenCache) Invalidate() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.cred = Credential{}
}

// probe issues an authenticated GET against the probe URL. Any non-200
// response or transport error means the token must be refreshed.
func (tc *TokenCache) probe(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, tc.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tc.cfg.ProbeURL, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	req.Header.Set("Authorization", authScheme+" "+token)

	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	return nil
}

// exchange performs the refresh-token grant and computes the pessimistic
// expiry. A missing or empty access_token field in the response is a hard
// failure regardless of status.
func (tc *TokenCache) exchange(ctx context.Context) (Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, tc.exchangeTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tc.cfg.RefreshToken)
	form.Set("client_id", tc.cfg.ClientID)
	form.Set("client_secret", tc.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, &AuthError{err: fmt.Errorf("create token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return Credential{}, &AuthError{err: fmt.Errorf("token exchange failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Credential{}, &AuthError{err: fmt.Errorf("read token response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return Credential{}, &AuthError{
			Status: resp.StatusCode,
			Body:   string(body),
			err:    errors.New("token endpoint rejected exchange"),
		}
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Credential{}, &AuthError{
			Status: resp.StatusCode,
			Body:   string(body),
			err:    fmt.Errorf("parse token response: %w", err),
		}
	}
	if parsed.AccessToken == "" {
		// Zoho reports bad refresh tokens with a 200 and an error body.
		return Credential{}, &AuthError{
			Status: resp.StatusCode,
			Body:   string(body),
			err:    errors.New("token response missing access_token"),
		}
	}

	now := time.Now()
	return Credential{
		Token:      parsed.AccessToken,
		AcquiredAt: now,
		ExpiresAt:  now.Add(tokenLifetime),
	}, nil
}
