package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jrsteele09/choirapp/internal/errors"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StatusError is returned for responses with a 4xx or 5xx status. It matches
// errors.ErrUnauthorized for 401 and errors.ErrRequest otherwise.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned %s", e.Status)
	}
	return fmt.Sprintf("backend returned %s: %s", e.Status, e.Body)
}

func (e *StatusError) Is(target error) bool {
	if e.StatusCode == http.StatusUnauthorized {
		return target == errors.ErrUnauthorized
	}
	return target == errors.ErrRequest
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Source  TokenSource

	// OnUnauthorized is called after a 401 response.
	OnUnauthorized func()

	// Base is the underlying transport; nil uses http.DefaultTransport.
	Base http.RoundTripper
}

// Client issues JSON requests relative to a base URL.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     zerolog.Logger
}

type ClientOption func(*Client)

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(cfg Config, options ...ClientOption) (*Client, error) {
	baseURL, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "invalid API base URL %q", cfg.BaseURL)
	}

	c := &Client{
		baseURL: baseURL,
		logger:  log.Logger.With().Str("component", "apiclient").Logger(),
	}
	for _, opt := range options {
		opt(c)
	}

	transport := &BearerTransport{Base: cfg.Base, Source: cfg.Source}
	if cfg.OnUnauthorized != nil {
		transport.OnUnauthorized = func(req *http.Request) {
			c.logger.Warn().Str("path", req.URL.Path).Msg("access token rejected")
			cfg.OnUnauthorized()
		}
	}
	c.httpClient = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	return c, nil
}

// URL resolves endpoint against the base URL.
func (c *Client) URL(endpoint string) string {
	u := *c.baseURL
	u.Path = path.Join(u.Path, endpoint)
	return u.String()
}

// Do sends a request with an optional JSON body and decodes a JSON response into out
// when out is not nil.
func (c *Client) Do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return pkgerrors.Wrap(err, "Client.Do json.Marshal")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(endpoint), body)
	if err != nil {
		return pkgerrors.Wrap(err, "Client.Do NewRequest")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Join(errors.ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Join(errors.ErrRequest, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

func (c *Client) GetJSON(ctx context.Context, endpoint string, out any) error {
	return c.Do(ctx, http.MethodGet, endpoint, nil, out)
}
