package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bridgyfollowers/bridgyfollowers/pkg/metrics"
)

// ErrMalformedResponse is wrapped when a response body doesn't match the
// expected schema.
var ErrMalformedResponse = errors.New("malformed API response")

// Interface for auth implementations which can be used with [Client].
type AuthMethod interface {
	DoWithAuth(c *http.Client, req *http.Request, endpoint string) (*http.Response, error)
}

// Client for the atproto "XRPC" endpoints this tool needs on the source
// network. It is safe for concurrent use once configured.
type Client struct {
	// Inner HTTP client. Request timeouts and retries are configured there.
	HTTPClient *http.Client

	// Host URL prefix: scheme, hostname, and port. This field is required.
	Host string

	// Optional auth "middleware".
	Auth AuthMethod

	// Optional HTTP headers included in all requests.
	Headers http.Header

	// Account the client is authenticated as, if any.
	AccountDID DID

	Logger *slog.Logger
}

func NewClient(host string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		HTTPClient: httpClient,
		Host:       strings.TrimSuffix(host, "/"),
		Headers:    http.Header{},
		Logger:     slog.Default().With("subsystem", "bsky"),
	}
}

type APIError struct {
	StatusCode int
	Name       string
	Message    string
}

func (ae *APIError) Error() string {
	if ae.StatusCode > 0 {
		if ae.Name != "" && ae.Message != "" {
			return fmt.Sprintf("API request failed (HTTP %d): %s: %s", ae.StatusCode, ae.Name, ae.Message)
		} else if ae.Name != "" {
			return fmt.Sprintf("API request failed (HTTP %d): %s", ae.StatusCode, ae.Name)
		}
		return fmt.Sprintf("API request failed (HTTP %d)", ae.StatusCode)
	}
	return "API request failed"
}

type errorBody struct {
	Name    string `json:"error"`
	Message string `json:"message,omitempty"`
}

func parseAPIError(resp *http.Response) error {
	var eb errorBody
	if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return &APIError{StatusCode: resp.StatusCode, Name: eb.Name, Message: eb.Message}
}

// JSON "Query" (HTTP GET) call. Non-successful responses are returned as [*APIError].
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.Host + "/xrpc/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, endpoint, out)
}

// JSON-to-JSON "Procedure" (HTTP POST) call, with no query params.
func (c *Client) Post(ctx context.Context, endpoint string, body any, out any) error {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host+"/xrpc/"+endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, endpoint, out)
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	for k := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, c.Headers.Get(k))
		}
	}

	start := time.Now()
	var resp *http.Response
	var err error
	if c.Auth != nil {
		resp, err = c.Auth.DoWithAuth(c.HTTPClient, req, endpoint)
	} else {
		resp, err = c.HTTPClient.Do(req)
	}
	if err != nil {
		xrpcRequests.WithLabelValues(endpoint, metrics.StatusError).Inc()
		return err
	}
	defer resp.Body.Close()
	xrpcRequests.WithLabelValues(endpoint, metrics.StatusLabel(resp.StatusCode)).Inc()
	xrpcRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if !(resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return parseAPIError(resp)
	}

	if out == nil {
		// drain body before returning
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedResponse, endpoint, err)
	}
	return nil
}
