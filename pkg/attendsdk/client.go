package attendsdk

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TokenSource supplies the bearer token sent with every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client is a client for the attendance REST API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      TokenSource

	// Retry controls the backoff applied to network errors on requests that
	// are safe to repeat. Validation and revocation are never retried.
	Retry RetryPolicy

	Logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithToken sets the bearer token source.
func WithToken(ts TokenSource) Option {
	return func(c *Client) { c.Token = ts }
}

// WithRetry overrides the retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(c *Client) { c.Retry = p }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.Logger = l }
}

// NewClient creates a new attendance API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		Retry:  DefaultRetryPolicy,
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
