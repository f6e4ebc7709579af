package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"deal-scraper/internal/types"
)

// maxErrorBody caps how much of a non-200 response body is kept.
const maxErrorBody = 1 << 20

// StatusError is a non-200 response from the target. Body holds the start of
// the response so callers can recognise challenge pages served with an
// error status.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// HTTPClient fetches pages without a browser. It keeps a cookie jar for the
// run and presents browser-like headers, but cannot execute page scripts.
type HTTPClient struct {
	client    *http.Client
	config    *types.Config
	logger    types.Logger
	userAgent string
}

// NewHTTPClient creates a new HTTP client with the given configuration
func NewHTTPClient(config *types.Config, logger types.Logger) (*HTTPClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if p := config.Proxy; p != nil {
		proxyURL, err := url.Parse(p.Server)
		if err != nil {
			return nil, fmt.Errorf("parse proxy server: %w", err)
		}
		if p.Username != "" {
			proxyURL.User = url.UserPassword(p.Username, p.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = RandomUserAgent(newRand())
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
			Jar:       jar,
		},
		config:    config,
		logger:    logger,
		userAgent: userAgent,
	}, nil
}

// Fetch performs a GET request and returns the final URL and body.
func (h *HTTPClient) Fetch(ctx context.Context, url string) (*types.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	for k, v := range browserHeaders(h.config.Locale) {
		req.Header.Set(k, v)
	}

	h.logger.Debugf("Making request to %s", url)
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, StatusError{Code: resp.StatusCode, URL: finalURL, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	h.logger.Debugf("Successfully retrieved %d bytes from %s", len(body), finalURL)
	return &types.Page{URL: finalURL, HTML: string(body)}, nil
}

// Interact is a no-op: there is no page to move a pointer over.
func (h *HTTPClient) Interact(ctx context.Context) error {
	return nil
}

// Close cleans up resources
func (h *HTTPClient) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
