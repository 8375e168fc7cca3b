package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmlago/sessionguard-go/identity"
)

const (
	// defaultTimeout bounds every request when the caller supplies no client.
	defaultTimeout = 10 * time.Second

	// maxResponseSize bounds response body reads.
	maxResponseSize = 1 << 20

	userAgent = "sessionguard-go/1"
)

// Config contains construction options for the Client.
type Config struct {
	// BaseURL is the endpoint group's base URL. Required.
	BaseURL string

	// HTTPClient is used for all requests. Optional; a client with a 10s
	// timeout is used when nil.
	HTTPClient *http.Client

	// Logger receives request/response logs. Optional; defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Client talks to the authentication endpoint group. It is stateless and
// safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// Grant is a successful login or refresh response: a bearer token, the
// canonical profile that goes with it, and the backend-declared lifetime.
type Grant struct {
	Token     string
	User      identity.User
	ExpiresIn time.Duration
}

// grantBody is the wire shape shared by login and refresh.
type grantBody struct {
	AccessToken string        `json:"access_token"`
	User        identity.User `json:"user"`
	ExpiresIn   int64         `json:"expires_in"`
}

// New creates a Client for the endpoint group at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("authapi: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    httpClient,
		log:     logger,
	}, nil
}

// Login submits the credential pair form-encoded and returns the granted
// token and profile. Non-2xx responses classify per the package error
// taxonomy.
func (c *Client) Login(ctx context.Context, identifier, secret string) (*Grant, error) {
	form := url.Values{
		"identifier": {identifier},
		"secret":     {secret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("authapi: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	status, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, classifyLogin(status, body)
	}
	return decodeGrant(body)
}

// Refresh exchanges a still-valid token for a new one with extended expiry.
func (c *Client) Refresh(ctx context.Context, token string) (*Grant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refresh", nil)
	if err != nil {
		return nil, fmt.Errorf("authapi: build refresh request: %w", err)
	}
	c.setBearer(req, token)

	status, body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{Status: status, Message: backendMessage(body)}
	}
	return decodeGrant(body)
}

// Verify asks the backend whether the token is still live. A non-200
// response means "dead" and is not an error; errors are reserved for
// transport failures.
func (c *Client) Verify(ctx context.Context, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/verify-token", nil)
	if err != nil {
		return false, fmt.Errorf("authapi: build verify request: %w", err)
	}
	c.setBearer(req, token)

	status, _, err := c.do(ctx, req)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

// Logout notifies the backend that the token's session ended. Best effort:
// callers are expected to discard the result during teardown.
func (c *Client) Logout(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return fmt.Errorf("authapi: build logout request: %w", err)
	}
	c.setBearer(req, token)

	status, body, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &APIError{Status: status, Message: backendMessage(body)}
	}
	return nil
}

func (c *Client) setBearer(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)
}

func (c *Client) do(ctx context.Context, req *http.Request) (int, []byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "auth request failed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.String("err", err.Error()),
		)
		return 0, nil, fmt.Errorf("authapi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("authapi: read response: %w", err)
	}

	c.log.DebugContext(ctx, "auth request",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("dur", time.Since(start)),
	)
	return resp.StatusCode, body, nil
}

func decodeGrant(body []byte) (*Grant, error) {
	var gb grantBody
	if err := json.Unmarshal(body, &gb); err != nil {
		return nil, fmt.Errorf("authapi: decode grant: %w", err)
	}
	if gb.AccessToken == "" {
		return nil, fmt.Errorf("authapi: grant missing access_token")
	}
	return &Grant{
		Token:     gb.AccessToken,
		User:      gb.User,
		ExpiresIn: time.Duration(gb.ExpiresIn) * time.Second,
	}, nil
}
