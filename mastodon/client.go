// Package mastodon wraps the parts of the Mastodon REST API used to mirror
// follows: the authenticated account, its following list, account lookup,
// and follow.
package mastodon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/purell"
	mastoapi "github.com/mattn/go-mastodon"
)

// Mastodon caps following pages at 80 accounts.
const followingPageSize = 80

type (
	Account      = mastoapi.Account
	Relationship = mastoapi.Relationship
)

type Client struct {
	Server string
	Logger *slog.Logger

	api *mastoapi.Client
}

// Creates a client for server, which may be a bare domain ("mastodon.social")
// or a URL prefix. Requests go through httpClient, so its timeout, retry and
// User-Agent settings apply.
func NewClient(server, accessToken string, httpClient *http.Client) (*Client, error) {
	base, err := NormalizeServer(server)
	if err != nil {
		return nil, err
	}
	api := mastoapi.NewClient(&mastoapi.Config{
		Server:      base,
		AccessToken: accessToken,
	})
	if httpClient != nil {
		api.Client = *httpClient
	}
	return &Client{
		Server: base,
		Logger: slog.Default().With("subsystem", "mastodon", "server", base),
		api:    api,
	}, nil
}

func NormalizeServer(server string) (string, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return "", fmt.Errorf("empty mastodon server")
	}
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}
	clean, err := purell.NormalizeURLString(server, purell.FlagsSafe|purell.FlagRemoveTrailingSlash)
	if err != nil {
		return "", fmt.Errorf("invalid mastodon server %q: %w", server, err)
	}
	return strings.TrimSuffix(clean, "/"), nil
}

func (c *Client) VerifyCredentials(ctx context.Context) (*Account, error) {
	acct, err := c.api.GetAccountCurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("verifying mastodon credentials: %w", err)
	}
	return acct, nil
}

// Lists every account accountID follows, following "next" pagination links
// until the server stops returning them (or returns an empty page).
func (c *Client) Following(ctx context.Context, accountID string) ([]*Account, error) {
	var out []*Account

	var maxID mastoapi.ID
	for page := 0; ; page++ {
		// the library writes the Link header cursors back into pg
		pg := &mastoapi.Pagination{MaxID: maxID, Limit: followingPageSize}
		accounts, err := c.api.GetAccountFollowing(ctx, mastoapi.ID(accountID), pg)
		if err != nil {
			return nil, fmt.Errorf("fetching mastodon following list page %d: %w", page, err)
		}
		out = append(out, accounts...)
		if len(accounts) == 0 || pg.MaxID == "" || pg.MaxID == maxID {
			break
		}
		maxID = pg.MaxID
	}
	c.Logger.Debug("fetched following accounts", "count", len(out))
	return out, nil
}

// Returns the lower-cased "acct" of every account the authenticated user follows.
func (c *Client) FollowingSet(ctx context.Context) (map[string]bool, error) {
	me, err := c.VerifyCredentials(ctx)
	if err != nil {
		return nil, err
	}
	c.Logger.Info("fetching following list", "acct", me.Acct)
	accounts, err := c.Following(ctx, string(me.ID))
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		set[strings.ToLower(a.Acct)] = true
	}
	return set, nil
}

func (c *Client) LookupAccount(ctx context.Context, address string) (*Account, error) {
	acct, err := c.api.AccountLookup(ctx, strings.TrimPrefix(address, "@"))
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", address, err)
	}
	return acct, nil
}

// Follows accountID with the server defaults: boosts shown, notifications
// off. Following an already-followed account is a no-op on the server side.
func (c *Client) Follow(ctx context.Context, accountID string) (*Relationship, error) {
	rel, err := c.api.AccountFollow(ctx, mastoapi.ID(accountID))
	if err != nil {
		return nil, fmt.Errorf("following account %s: %w", accountID, err)
	}
	return rel, nil
}

// Looks up address ("user@domain") and follows it.
func (c *Client) FollowAddress(ctx context.Context, address string) (*Relationship, error) {
	acct, err := c.LookupAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	rel, err := c.Follow(ctx, string(acct.ID))
	if err != nil {
		return nil, err
	}
	c.Logger.Info("followed account", "address", address, "id", acct.ID)
	return rel, nil
}
