package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Password-based session with a PDS host. The access token is refreshed
// once when a request fails with "ExpiredToken". Sessions are never written
// to disk.
//
// It is safe to use this auth method concurrently from multiple goroutines.
type PasswordAuth struct {
	Host         string
	AccountDID   DID
	accessToken  string
	refreshToken string

	lk sync.RWMutex
}

type createSessionRequest struct {
	AuthFactorToken *string `json:"authFactorToken,omitempty"`
	Identifier      string  `json:"identifier"`
	Password        string  `json:"password"`
}

type sessionResponse struct {
	AccessJwt  string  `json:"accessJwt"`
	RefreshJwt string  `json:"refreshJwt"`
	Did        string  `json:"did"`
	Handle     string  `json:"handle"`
	Active     *bool   `json:"active,omitempty"`
	Status     *string `json:"status,omitempty"`
}

func (a *PasswordAuth) tokens() (string, string) {
	a.lk.RLock()
	defer a.lk.RUnlock()
	return a.accessToken, a.refreshToken
}

func (a *PasswordAuth) DoWithAuth(c *http.Client, req *http.Request, endpoint string) (*http.Response, error) {
	accessToken, refreshToken := a.tokens()
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}

	// on success, or most errors, just return HTTP response
	if resp.StatusCode != http.StatusBadRequest || !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return resp, nil
	}

	defer resp.Body.Close()
	var eb errorBody
	if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}
	if eb.Name != "ExpiredToken" {
		return nil, &APIError{StatusCode: resp.StatusCode, Name: eb.Name, Message: eb.Message}
	}

	if err := a.refresh(req.Context(), c, refreshToken); err != nil {
		return nil, fmt.Errorf("refreshing session for %s: %w", endpoint, err)
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		retry.Body, err = req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("API request retry GetBody failed: %w", err)
		}
	}
	accessToken, _ = a.tokens()
	retry.Header.Set("Authorization", "Bearer "+accessToken)
	return c.Do(retry)
}

// priorRefreshToken detects a refresh which already happened concurrently.
func (a *PasswordAuth) refresh(ctx context.Context, c *http.Client, priorRefreshToken string) error {
	a.lk.Lock()
	defer a.lk.Unlock()

	if priorRefreshToken != a.refreshToken {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Host+"/xrpc/com.atproto.server.refreshSession", nil)
	if err != nil {
		return err
	}
	// NOTE: refresh token here, not access token
	req.Header.Set("Authorization", "Bearer "+a.refreshToken)

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !(resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return parseAPIError(resp)
	}

	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: refreshSession: %w", ErrMalformedResponse, err)
	}
	a.accessToken = out.AccessJwt
	a.refreshToken = out.RefreshJwt
	return nil
}

// Logs in to the client's host with an account identifier (handle, DID or
// email) and password, then installs the resulting session as the client's
// auth method.
func (c *Client) LoginWithPassword(ctx context.Context, identifier, password string) error {
	reqBody := createSessionRequest{
		Identifier: strings.TrimPrefix(identifier, "@"),
		Password:   password,
	}

	var out sessionResponse
	if err := c.Post(ctx, "com.atproto.server.createSession", &reqBody, &out); err != nil {
		return err
	}

	if out.Active != nil && !*out.Active {
		status := "unknown"
		if out.Status != nil {
			status = *out.Status
		}
		return fmt.Errorf("account is disabled: %s", status)
	}

	did, err := ParseDID(out.Did)
	if err != nil {
		return fmt.Errorf("%w: createSession returned bad DID: %w", ErrMalformedResponse, err)
	}

	c.Auth = &PasswordAuth{
		Host:         c.Host,
		AccountDID:   did,
		accessToken:  out.AccessJwt,
		refreshToken: out.RefreshJwt,
	}
	c.AccountDID = did
	c.Logger.Info("logged in", "did", did, "handle", out.Handle)
	return nil
}
