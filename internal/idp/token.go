package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const defaultSafetyMargin = 30 * time.Second

// fallback lifetime when the grant response carries no usable expiry
const fallbackTokenTTL = 60 * time.Second

// TokenProvider supplies a privileged bearer token for admin API calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// AdminCredentials configure the grant used to obtain the admin token.
// When Username is set the resource-owner password grant is used,
// otherwise client_credentials.
type AdminCredentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

func (c AdminCredentials) grantForm() url.Values {
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	if c.Username != "" {
		form.Set("grant_type", "password")
		form.Set("username", c.Username)
		form.Set("password", c.Password)
	} else {
		form.Set("grant_type", "client_credentials")
	}
	return form
}

// TokenSource acquires and caches the admin-scope bearer token. Reads of a
// valid cached token take a shared lock only; an expired-token window
// collapses concurrent refreshes into a single grant call.
type TokenSource struct {
	httpClient *http.Client
	tokenURL   string
	creds      AdminCredentials
	margin     time.Duration
	now        func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// TokenSourceOption configures TokenSource behavior.
type TokenSourceOption func(*TokenSource)

// WithSafetyMargin treats tokens expiring within the margin as expired.
func WithSafetyMargin(d time.Duration) TokenSourceOption {
	return func(s *TokenSource) {
		if d > 0 {
			s.margin = d
		}
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenSourceOption {
	return func(s *TokenSource) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTokenHTTPClient overrides the HTTP client used for grant calls.
func WithTokenHTTPClient(client *http.Client) TokenSourceOption {
	return func(s *TokenSource) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// NewTokenSource constructs a TokenSource against the given OIDC token
// endpoint (e.g. {base}/realms/{realm}/protocol/openid-connect/token).
func NewTokenSource(tokenURL string, creds AdminCredentials, opts ...TokenSourceOption) *TokenSource {
	s := &TokenSource{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokenURL:   tokenURL,
		creds:      creds,
		margin:     defaultSafetyMargin,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ TokenProvider = (*TokenSource)(nil)

// Token returns the cached admin token, refreshing it when it is missing or
// inside the safety margin. A failed grant never yields a stale token.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := s.cached(); ok {
		return token, nil
	}

	v, err, _ := s.group.Do("admin", func() (any, error) {
		// another caller may have refreshed while we waited for the flight
		if token, ok := s.cached(); ok {
			return token, nil
		}
		pair, err := s.grant(ctx)
		if err != nil {
			return nil, err
		}
		expiresAt := s.computeExpiry(pair)
		s.mu.Lock()
		s.token = pair.AccessToken
		s.expiresAt = expiresAt
		s.mu.Unlock()
		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *TokenSource) cached() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", false
	}
	if !s.now().Before(s.expiresAt.Add(-s.margin)) {
		return "", false
	}
	return s.token, true
}

func (s *TokenSource) grant(ctx context.Context) (TokenPair, error) {
	form := s.creds.grantForm()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrTokenAcquisition, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrTokenAcquisition, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: read response: %v", ErrTokenAcquisition, err)
	}
	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, fmt.Errorf("%w: status=%d body=%s", ErrTokenAcquisition, resp.StatusCode, truncate(body))
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return TokenPair{}, fmt.Errorf("%w: decode response: %v", ErrTokenAcquisition, err)
	}
	if pair.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("%w: empty access token in response", ErrTokenAcquisition)
	}
	return pair, nil
}

func (s *TokenSource) computeExpiry(pair TokenPair) time.Time {
	now := s.now()
	if pair.ExpiresIn > 0 {
		return now.Add(time.Duration(pair.ExpiresIn) * time.Second)
	}
	// Some token endpoints omit expires_in; fall back to the token's own
	// exp claim. The signature is not verified here, the token is only
	// inspected for its lifetime.
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(pair.AccessToken, &claims); err == nil {
		if claims.ExpiresAt != nil && claims.ExpiresAt.After(now) {
			return claims.ExpiresAt.Time
		}
	}
	return now.Add(fallbackTokenTTL)
}
