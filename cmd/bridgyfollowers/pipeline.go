package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bridgyfollowers/bridgyfollowers/bsky"
	"github.com/bridgyfollowers/bridgyfollowers/followers"
	"github.com/bridgyfollowers/bridgyfollowers/mastodon"
	"github.com/bridgyfollowers/bridgyfollowers/pkg/robusthttp"
	"github.com/bridgyfollowers/bridgyfollowers/webfinger"

	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"
)

func httpClient(cctx *cli.Context) *http.Client {
	return robusthttp.NewClient(
		robusthttp.WithMaxRetries(cctx.Int("http-retries")),
		robusthttp.WithTimeout(cctx.Duration("timeout")),
		robusthttp.WithUserAgent(userAgent()),
		robusthttp.WithLogger(slog.Default()),
	)
}

// nil when rate limiting is disabled
func limiter(cctx *cli.Context) *rate.Limiter {
	if r := cctx.Float64("rate-limit"); r > 0 {
		return rate.NewLimiter(rate.Limit(r), 1)
	}
	return nil
}

// Logs in to both networks, gathers the inputs and runs the classifier.
// Returns the results along with the Mastodon client for callers which act
// on them.
func classifyFollowers(cctx *cli.Context) ([]followers.Result, *mastodon.Client, error) {
	ctx := cctx.Context
	s, err := loadSettings(cctx)
	if err != nil {
		return nil, nil, err
	}
	client := httpClient(cctx)

	bc := bsky.NewClient(s.BlueskyHost, client)
	if err := bc.LoginWithPassword(ctx, s.BlueskyUsername, s.BlueskyPassword); err != nil {
		return nil, nil, fmt.Errorf("bluesky login: %w", err)
	}
	bridgeDID, err := bc.ResolveActor(ctx, s.BridgeHandle)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving bridge account %s: %w", s.BridgeHandle, err)
	}

	mc, err := mastodon.NewClient(s.MastodonServer, s.MastodonToken, client)
	if err != nil {
		return nil, nil, err
	}
	followSet, err := mc.FollowingSet(ctx)
	if err != nil {
		return nil, nil, err
	}

	checker := webfinger.NewChecker(client)
	checker.Limiter = limiter(cctx)

	classifier, err := followers.NewClassifier(bc, bc, checker, followers.Config{
		BridgeDID:       bridgeDID,
		BridgeDomain:    s.BridgeDomain,
		DiscoveryServer: s.BridgeHost,
		IgnoreList:      s.IgnoredAccounts,
		FollowSet:       followSet,
		Concurrency:     cctx.Int("concurrency"),
		Logger:          slog.Default(),
	})
	if err != nil {
		return nil, nil, err
	}
	results, err := classifier.Classify(ctx)
	if err != nil {
		return nil, nil, err
	}
	return results, mc, nil
}

type follower interface {
	FollowAddress(ctx context.Context, address string) (*mastodon.Relationship, error)
}

type syncSummary struct {
	Followed int
	Failed   int
}

// Follows each ReadyToFollow result. Individual failures are logged and
// counted; only context cancellation stops the loop.
func followReady(ctx context.Context, mc follower, lim *rate.Limiter, results []followers.Result) (syncSummary, error) {
	var sum syncSummary
	for _, r := range followers.Filter(results, followers.ReadyToFollow) {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return sum, err
			}
		}
		if _, err := mc.FollowAddress(ctx, r.Address); err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			slog.Warn("failed to follow account", "address", r.Address, "err", err)
			sum.Failed++
			continue
		}
		sum.Followed++
	}
	return sum, nil
}
