// Package webfinger checks whether an account address exists on a federated
// server, using the WebFinger discovery protocol (RFC 7033).
package webfinger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bridgyfollowers/bridgyfollowers/pkg/metrics"

	"github.com/PuerkitoBio/purell"
	"golang.org/x/time/rate"
)

// ErrBadAddress is returned for account addresses or server names which
// can't be turned into a WebFinger query.
var ErrBadAddress = errors.New("invalid webfinger address")

// StatusError is returned when the server answers with a 5xx status: the
// lookup failed, which is different from the account not existing.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webfinger lookup failed (HTTP %d): %s", e.StatusCode, e.URL)
}

type Checker struct {
	Client *http.Client

	// Optional; throttles outgoing lookups when set.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

func NewChecker(client *http.Client) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return &Checker{
		Client: client,
		Logger: slog.Default().With("subsystem", "webfinger"),
	}
}

// Builds the lookup URL for address ("user@domain") on server. server may
// be a bare domain ("fed.brid.gy") or a URL prefix with scheme.
func LookupURL(server, address string) (string, error) {
	if address == "" || !strings.Contains(address, "@") || strings.HasPrefix(address, "@") {
		return "", fmt.Errorf("%w: account address must look like user@domain: %q", ErrBadAddress, address)
	}
	base, err := NormalizeServer(server)
	if err != nil {
		return "", err
	}
	return base + "/.well-known/webfinger?" + url.Values{"resource": []string{"acct:" + address}}.Encode(), nil
}

// Normalizes a server name to a URL prefix: scheme defaults to https, host
// lower-cased, no trailing slash.
func NormalizeServer(server string) (string, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return "", fmt.Errorf("%w: empty server", ErrBadAddress)
	}
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}
	clean, err := purell.NormalizeURLString(server, purell.FlagsSafe|purell.FlagRemoveTrailingSlash)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadAddress, err)
	}
	u, err := url.Parse(clean)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: server %q", ErrBadAddress, server)
	}
	return strings.TrimSuffix(clean, "/"), nil
}

// Reports whether server knows the account address. 2xx means it exists,
// any 4xx means it doesn't. 5xx responses and network failures are returned
// as errors.
func (c *Checker) AccountExists(ctx context.Context, server, address string) (bool, error) {
	u, err := LookupURL(server, address)
	if err != nil {
		return false, err
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/jrd+json, application/json")

	start := time.Now()
	resp, err := c.Client.Do(req)
	if err != nil {
		lookups.WithLabelValues(metrics.StatusError).Inc()
		return false, fmt.Errorf("webfinger lookup of %s: %w", address, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	lookupDuration.Observe(time.Since(start).Seconds())

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		lookups.WithLabelValues(metrics.StatusFound).Inc()
		c.Logger.Debug("webfinger account found", "address", address, "status", resp.StatusCode)
		return true, nil
	case resp.StatusCode >= 500:
		lookups.WithLabelValues(metrics.StatusError).Inc()
		return false, &StatusError{StatusCode: resp.StatusCode, URL: u}
	default:
		lookups.WithLabelValues(metrics.StatusNotFound).Inc()
		c.Logger.Debug("webfinger account not found", "address", address, "status", resp.StatusCode)
		return false, nil
	}
}
