package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"yers.dev/account/internal/obs"
)

const maxBodyBytes = 1 << 20

// Client is a thin typed transport over the identity provider's
// administrative HTTP surface and its OIDC token endpoint. Every method
// performs exactly one outbound call (plus the admin-token acquisition for
// administrative calls) and never retries internally.
type Client struct {
	httpClient   *http.Client
	adminBase    string // {base}/admin/realms/{realm}
	tokenBase    string // {base}/realms/{realm}/protocol/openid-connect
	clientID     string // end-user client
	clientSecret string
	tokens       TokenProvider
}

// ClientOption configures Client behavior.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client, including its timeout.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithUserClient sets the OAuth2 client used for end-user token flows.
func WithUserClient(clientID, clientSecret string) ClientOption {
	return func(c *Client) {
		c.clientID = clientID
		c.clientSecret = clientSecret
	}
}

// NewClient constructs a Client for one realm. adminBase and tokenBase are
// the realm-scoped admin API and OIDC protocol bases.
func NewClient(adminBase, tokenBase string, tokens TokenProvider, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		adminBase:  strings.TrimRight(adminBase, "/"),
		tokenBase:  strings.TrimRight(tokenBase, "/"),
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateUser registers a user object with the IdP and returns the subject
// identifier parsed from the Location header. Only the created status is a
// success; anything else surfaces as a CallError.
func (c *Client) CreateUser(ctx context.Context, payload UserPayload) (string, error) {
	const op = "create_user"
	resp, body, err := c.doJSON(ctx, op, http.MethodPost, c.adminBase+"/users", payload)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", &CallError{Op: op, Status: resp.StatusCode, Body: truncate(body)}
	}
	location := resp.Header.Get("Location")
	subject := location[strings.LastIndex(location, "/")+1:]
	if subject == "" {
		return "", &CallError{Op: op, Status: resp.StatusCode, Body: "missing subject in Location header"}
	}
	return subject, nil
}

// UpdateUser replaces the mutable user fields at the IdP. Full-replace
// semantics make the call safe to retry.
func (c *Client) UpdateUser(ctx context.Context, subject string, payload UserPayload) error {
	const op = "update_user"
	resp, body, err := c.doJSON(ctx, op, http.MethodPut, c.adminBase+"/users/"+url.PathEscape(subject), payload)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &CallError{Op: op, Status: resp.StatusCode, Body: truncate(body)}
	}
	return nil
}

// DeleteUser removes the user object from the IdP. Failures surface as a
// dedicated DeletionError so the caller can keep the local row.
func (c *Client) DeleteUser(ctx context.Context, subject string) error {
	const op = "delete_user"
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.adminBase+"/users/"+url.PathEscape(subject), nil)
	if err != nil {
		return &DeletionError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		obs.ObserveIdPRequest(op, 0, time.Since(start))
		return &DeletionError{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	obs.ObserveIdPRequest(op, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeletionError{Status: resp.StatusCode, Body: truncate(body)}
	}
	return nil
}

// PasswordLogin exchanges end-user credentials for a token pair.
func (c *Client) PasswordLogin(ctx context.Context, email, password string) (TokenPair, error) {
	form := c.userForm()
	form.Set("grant_type", "password")
	form.Set("username", email)
	form.Set("password", password)
	return c.postToken(ctx, "password_login", form)
}

// RefreshLogin rotates a token pair using a refresh token.
func (c *Client) RefreshLogin(ctx context.Context, refreshToken string) (TokenPair, error) {
	form := c.userForm()
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.postToken(ctx, "refresh_login", form)
}

// Logout revokes a refresh token at the IdP.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	const op = "logout"
	form := c.userForm()
	form.Set("refresh_token", refreshToken)

	resp, body, err := c.postForm(ctx, op, c.tokenBase+"/logout", form)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &CallError{Op: op, Status: resp.StatusCode, Body: truncate(body)}
	}
	return nil
}

// --- transport helpers ---

func (c *Client) userForm() url.Values {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	return form
}

func (c *Client) doJSON(ctx context.Context, op, method, target string, payload any) (*http.Response, []byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, &CallError{Op: op, Err: fmt.Errorf("encode payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(raw))
	if err != nil {
		return nil, nil, &CallError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		obs.ObserveIdPRequest(op, 0, time.Since(start))
		return nil, nil, &CallError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	obs.ObserveIdPRequest(op, resp.StatusCode, time.Since(start))
	if readErr != nil {
		return nil, nil, &CallError{Op: op, Status: resp.StatusCode, Err: readErr}
	}
	return resp, body, nil
}

func (c *Client) postForm(ctx context.Context, op, target string, form url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, &CallError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		obs.ObserveIdPRequest(op, 0, time.Since(start))
		return nil, nil, &CallError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	obs.ObserveIdPRequest(op, resp.StatusCode, time.Since(start))
	if readErr != nil {
		return nil, nil, &CallError{Op: op, Status: resp.StatusCode, Err: readErr}
	}
	return resp, body, nil
}

func (c *Client) postToken(ctx context.Context, op string, form url.Values) (TokenPair, error) {
	resp, body, err := c.postForm(ctx, op, c.tokenBase+"/token", form)
	if err != nil {
		return TokenPair{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, &CallError{Op: op, Status: resp.StatusCode, Body: truncate(body)}
	}
	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return TokenPair{}, &CallError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if pair.AccessToken == "" {
		return TokenPair{}, &CallError{Op: op, Status: resp.StatusCode, Body: "empty access token in response"}
	}
	return pair, nil
}

func truncate(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
