package whoop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.prod.whoop.com"
	// DefaultScope is requested on every refresh so rotated tokens keep
	// offline access.
	DefaultScope = "offline read:profile read:sleep read:recovery"

	tokenPath = "/oauth/oauth2/token"
	sleepPath = "/developer/v2/activity/sleep/"

	maxResponseBytes = 4 << 20
)

type ClientOptions struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Scope        string
	HTTPClient   *http.Client
	// Timeout bounds every outbound call, including body reads.
	Timeout time.Duration
}

// Client talks to the WHOOP OAuth token endpoint and developer API.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	scope        string
	httpClient   *http.Client
	timeout      time.Duration
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	scope := strings.TrimSpace(opts.Scope)
	if scope == "" {
		scope = DefaultScope
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     strings.TrimSpace(opts.ClientID),
		clientSecret: strings.TrimSpace(opts.ClientSecret),
		scope:        scope,
		httpClient:   httpClient,
		timeout:      timeout,
	}
}

// StatusError is returned for any non-2xx provider response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("whoop %s: status=%d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("whoop %s: status=%d body=%s", e.Endpoint, e.StatusCode, e.Body)
}

// TokenResponse is the OAuth token endpoint reply.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

func (c *Client) HasClientCredentials() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// RefreshToken exchanges a refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {c.scope},
	}
	body, err := c.do(ctx, "token", http.MethodPost, c.baseURL+tokenPath, func(req *http.Request) {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResponse{}, err
	}

	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return TokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("token response has no access_token")
	}
	return tok, nil
}

// GetSleep fetches one sleep resource with a bearer token and returns the
// raw JSON body.
func (c *Client) GetSleep(ctx context.Context, accessToken, sleepID string) ([]byte, error) {
	endpoint := c.baseURL + sleepPath + url.PathEscape(sleepID)
	return c.do(ctx, "sleep", http.MethodGet, endpoint, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}, nil)
}

func (c *Client) do(ctx context.Context, name, method, endpoint string, decorate func(*http.Request), body io.Reader) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if decorate != nil {
		decorate(req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ProviderRequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("whoop %s: %w", name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("whoop %s: read body: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Endpoint: name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}
