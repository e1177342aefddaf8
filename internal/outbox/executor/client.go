// Package executor replays queued operations against the restaurant API.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/tablepos/terminal/internal/errors"
	"github.com/tablepos/terminal/internal/models"
)

// HTTPClient is the verb-level API abstraction operations are replayed through.
// Implementations return typed errors from the errors package.
type HTTPClient interface {
	Get(ctx context.Context, url string, cfg models.RequestConfig) error
	Post(ctx context.Context, url string, data json.RawMessage, cfg models.RequestConfig) error
	Put(ctx context.Context, url string, data json.RawMessage, cfg models.RequestConfig) error
	Patch(ctx context.Context, url string, data json.RawMessage, cfg models.RequestConfig) error
	Delete(ctx context.Context, url string, data json.RawMessage, cfg models.RequestConfig) error
}

// RESTClient implements HTTPClient with net/http against a base URL.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
}

// NewRESTClient creates a RESTClient. Relative operation URLs are resolved
// against baseURL; absolute ones are used as-is.
func NewRESTClient(baseURL string, timeout time.Duration, headers map[string]string) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		headers: headers,
	}
}

func (c *RESTClient) resolve(url string) string {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	if !strings.HasPrefix(url, "/") {
		url = "/" + url
	}
	return c.baseURL + url
}

// Get issues a GET request.
func (c *RESTClient) Get(ctx context.Context, url string, cfg models.RequestConfig) error {
	return c.do(ctx, http.MethodGet, url, nil, cfg)
}

// Post issues a POST request with a JSON body.
func (c *RESTClient) Post(ctx context.Context, url string, data json.RawMessage, cfg models.RequestConfig) error {
	return c.do(ctx, http.MethodPost, url, data, cfg)
}

// Put issues a PUT request with a JSON body.
func (c *RESTClient) Put(ctx context.Context, url string, data json.RawMessage, cfg models.RequestConfig) error {
	return c.do(ctx, http.MethodPut, url, data, cfg)
}

// Patch issues a PATCH request with a JSON body.
func (c *RESTClient) Patch(ctx context.Context, url string, data json.RawMessage, cfg models.RequestConfig) error {
	return c.do(ctx, http.MethodPatch, url, data, cfg)
}

// Delete issues a DELETE request, with a body when data is set.
func (c *RESTClient) Delete(ctx context.Context, url string, data json.RawMessage, cfg models.RequestConfig) error {
	return c.do(ctx, http.MethodDelete, url, data, cfg)
}

func (c *RESTClient) do(ctx context.Context, method, url string, data json.RawMessage, cfg models.RequestConfig) error {
	var body io.Reader
	if len(data) > 0 {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(url), body)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, fmt.Sprintf("build %s %s", method, url), err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(method, url, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := apperrors.HTTP(resp.StatusCode, fmt.Sprintf("%s %s", method, url))
		if msg := strings.TrimSpace(string(respBody)); msg != "" {
			e.Err = errors.New(msg)
		}
		return e
	}
	return nil
}

func classifyTransportError(method, url string, err error) error {
	msg := fmt.Sprintf("%s %s", method, url)

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.KindTimeout, msg, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Wrap(apperrors.KindTimeout, msg, err)
	}
	return apperrors.Wrap(apperrors.KindNetwork, msg, err)
}
