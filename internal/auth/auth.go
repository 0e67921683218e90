// Package auth wraps the identity provider. Login, token refresh and
// account linking are the provider's job; this client only builds the
// redirect URLs, acquires bearer credentials and calls the management API.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrLoginRequired signals that no usable credential exists and the caller
// should send the user through the login redirect instead of surfacing an
// error.
var ErrLoginRequired = errors.New("login required")

// TokenSource yields a bearer credential for calls to the agent API.
type TokenSource interface {
	Authenticated() bool
	Token(ctx context.Context) (string, error)
}

type Config struct {
	Domain       string
	ClientID     string
	ClientSecret string
	Audience     string
}

// Configured reports whether the identity provider settings required to
// serve the chat UI are present. Without them the application routes to a
// configuration error instead.
func (c Config) Configured() bool {
	return c.Domain != "" && c.ClientID != ""
}

// Client talks to the identity provider's token and management endpoints.
// Tokens are cached and silently refreshed shortly before expiry.
type Client struct {
	config     Config
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewClient(config Config, logger *zap.Logger) *Client {
	return &Client{
		config:     config,
		baseURL:    "https://" + config.Domain,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

func (c *Client) Authenticated() bool {
	return c.config.Configured() && c.config.ClientSecret != ""
}

// Token returns a cached bearer credential, refreshing it against the
// provider's token endpoint when missing or about to expire.
func (c *Client) Token(ctx context.Context) (string, error) {
	if !c.Authenticated() {
		return "", ErrLoginRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.expiresAt.Add(-30*time.Second)) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"audience":      {c.config.Audience},
	}

	tokenURL := c.baseURL + "/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		c.logger.Error("Token request rejected", zap.Int("status", resp.StatusCode))
		return "", ErrLoginRequired
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	c.accessToken = token.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// AuthorizeURL builds the login redirect URL.
func (c *Client) AuthorizeURL(redirectURI string) string {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {redirectURI},
		"scope":         {"openid profile email offline_access"},
	}
	if c.config.Audience != "" {
		q.Set("audience", c.config.Audience)
	}
	return fmt.Sprintf("https://%s/authorize?%s", c.config.Domain, q.Encode())
}

// LinkURL builds the authorize URL used to link an additional social
// connection to the current account.
func (c *Client) LinkURL(redirectURI, connection, accessToken string) string {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {c.config.ClientID},
		"connection":    {connection},
		"redirect_uri":  {redirectURI},
		"scope":         {"openid profile email offline_access"},
		"access_token":  {accessToken},
	}
	return fmt.Sprintf("https://%s/authorize?%s", c.config.Domain, q.Encode())
}

// Unlink removes a linked social connection via the provider's management
// API.
func (c *Client) Unlink(ctx context.Context, token, userID, connection string) error {
	endpoint := fmt.Sprintf("%s/api/v2/users/%s/identities/%s",
		c.baseURL, url.PathEscape(userID), url.PathEscape(connection))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create unlink request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to unlink account: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unlink request failed with status %d", resp.StatusCode)
	}
	return nil
}

// StaticToken adapts a bearer credential already held by the caller, such
// as the token forwarded by the browser on an API request, to TokenSource.
type StaticToken string

func (t StaticToken) Authenticated() bool { return t != "" }

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", ErrLoginRequired
	}
	return string(t), nil
}
