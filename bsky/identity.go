package bsky

import (
	"context"
	"fmt"
	"net/url"
)

type resolveHandleResponse struct {
	DID string `json:"did"`
}

// Resolves a handle to its DID with com.atproto.identity.resolveHandle on the client's host.
func (c *Client) ResolveHandle(ctx context.Context, handle Handle) (DID, error) {
	var out resolveHandleResponse
	params := url.Values{"handle": []string{handle.Normalize().String()}}
	if err := c.Get(ctx, "com.atproto.identity.resolveHandle", params, &out); err != nil {
		return "", fmt.Errorf("resolving handle %s: %w", handle, err)
	}
	did, err := ParseDID(out.DID)
	if err != nil {
		return "", fmt.Errorf("%w: resolveHandle(%s): %w", ErrMalformedResponse, handle, err)
	}
	return did, nil
}

// Resolves a DID or handle (optionally '@'-prefixed) to a DID. DIDs are
// returned as-is without a network call.
func (c *Client) ResolveActor(ctx context.Context, raw string) (DID, error) {
	did, handle, err := ParseActor(raw)
	if err != nil {
		return "", err
	}
	if did != "" {
		return did, nil
	}
	return c.ResolveHandle(ctx, handle)
}
