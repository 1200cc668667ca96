// Package followers decides, for every Bluesky account that follows the
// Bridgy Fed bot and is followed by the current user, whether that account
// should be followed from the user's fediverse account.
//
// Classification runs in three passes over the known followers of the
// bridge. The first is purely local (ignore list, existing follows), the
// second makes one batched relationship lookup for the survivors, and the
// third confirms each remaining account exists on the bridge with a
// WebFinger query. Each follower gets exactly one terminal [Status].
package followers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/bridgyfollowers/bridgyfollowers/bsky"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 8

// Lists the accounts which follow subject and are followed by the caller.
type Enumerator interface {
	KnownFollowers(ctx context.Context, subject bsky.DID) ([]bsky.ProfileView, error)
}

// Looks up relationships between actor and others. Identities without data
// are absent from the returned map.
type RelationshipResolver interface {
	Relationships(ctx context.Context, actor bsky.DID, others []bsky.DID) (map[bsky.DID]bsky.Relationship, error)
}

// Checks whether address exists on server.
type DiscoveryChecker interface {
	AccountExists(ctx context.Context, server, address string) (bool, error)
}

type Config struct {
	// Identity of the bridge account on Bluesky (eg, ap.brid.gy's DID)
	BridgeDID bsky.DID

	// Domain the bridge exposes Bluesky accounts under, eg "bsky.brid.gy"
	BridgeDomain string

	// Server answering WebFinger queries for bridged accounts, eg "fed.brid.gy"
	DiscoveryServer string

	// Handles to skip, exact match against the handle as returned by Bluesky
	IgnoreList []string

	// Lower-cased addresses the user already follows on the destination side
	FollowSet map[string]bool

	// Maximum in-flight discovery checks. Defaults to [DefaultConcurrency].
	Concurrency int

	Logger *slog.Logger
}

type Classifier struct {
	enumerator Enumerator
	resolver   RelationshipResolver
	discovery  DiscoveryChecker

	bridgeDID       bsky.DID
	bridgeDomain    string
	discoveryServer string
	ignore          map[string]bool
	followSet       map[string]bool
	concurrency     int
	logger          *slog.Logger
}

func NewClassifier(enumerator Enumerator, resolver RelationshipResolver, discovery DiscoveryChecker, cfg Config) (*Classifier, error) {
	if enumerator == nil || resolver == nil || discovery == nil {
		return nil, configErr("enumerator, relationship resolver and discovery checker are all required")
	}
	if _, err := bsky.ParseDID(cfg.BridgeDID.String()); err != nil {
		return nil, fmt.Errorf("%w: bridge identity: %w", ErrConfiguration, err)
	}
	if cfg.BridgeDomain == "" || hasSpace(cfg.BridgeDomain) || strings.Contains(cfg.BridgeDomain, "@") {
		return nil, configErr("invalid bridge domain %q", cfg.BridgeDomain)
	}
	if cfg.DiscoveryServer == "" || hasSpace(cfg.DiscoveryServer) {
		return nil, configErr("invalid discovery server %q", cfg.DiscoveryServer)
	}

	ignore := make(map[string]bool, len(cfg.IgnoreList))
	for i, h := range cfg.IgnoreList {
		if h == "" || hasSpace(h) {
			return nil, configErr("ignore list entry %d is not a handle: %q", i, h)
		}
		ignore[h] = true
	}

	followSet := make(map[string]bool, len(cfg.FollowSet))
	for addr := range cfg.FollowSet {
		if addr == "" || hasSpace(addr) {
			return nil, configErr("follow set entry is not an address: %q", addr)
		}
		if addr != strings.ToLower(addr) {
			return nil, configErr("follow set entry is not lower-cased: %q", addr)
		}
		followSet[addr] = true
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Classifier{
		enumerator:      enumerator,
		resolver:        resolver,
		discovery:       discovery,
		bridgeDID:       cfg.BridgeDID,
		bridgeDomain:    strings.ToLower(cfg.BridgeDomain),
		discoveryServer: cfg.DiscoveryServer,
		ignore:          ignore,
		followSet:       followSet,
		concurrency:     concurrency,
		logger:          logger.With("subsystem", "followers"),
	}, nil
}

func hasSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}

// Classify enumerates the known followers of the bridge and assigns each one
// exactly one status. Results are in enumeration order.
//
// Any failure of a remote call aborts the run; no partial results are
// returned. Returned errors match one of [ErrTransport], [ErrProtocol] or
// [ErrConfiguration].
func (c *Classifier) Classify(ctx context.Context) ([]Result, error) {
	ctx, span := otel.Tracer("followers").Start(ctx, "Classify")
	defer span.End()

	start := time.Now()
	profiles, err := c.enumerator.KnownFollowers(ctx, c.bridgeDID)
	if err != nil {
		return nil, classifyErr("enumerating known followers", err)
	}
	passDuration.WithLabelValues("enumerate").Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("candidates", len(profiles)))
	c.logger.Info("found known followers of bridge", "bridge", c.bridgeDID, "count", len(profiles))

	results := make([]Result, len(profiles))
	for i, p := range profiles {
		if p.DID == "" || p.Handle == "" {
			return nil, fmt.Errorf("%w: follower %d has no identity or handle", ErrProtocol, i)
		}
		results[i] = Result{
			Candidate: Candidate{DID: p.DID, Handle: p.Handle, Profile: p},
			Address:   p.Handle.BridgedAddress(c.bridgeDomain),
		}
	}

	survivors := c.localPass(ctx, results)

	survivors, err = c.relationshipPass(ctx, results, survivors)
	if err != nil {
		return nil, err
	}

	if err := c.discoveryPass(ctx, results, survivors); err != nil {
		return nil, err
	}

	if err := checkComplete(results); err != nil {
		return nil, err
	}
	for i := range results {
		classified.WithLabelValues(results[i].Status.String()).Inc()
	}
	return results, nil
}

// Every follower must leave the pipeline with exactly one terminal status.
func checkComplete(results []Result) error {
	for i := range results {
		if !results[i].Status.valid() {
			return fmt.Errorf("%w: follower %s left without a status", ErrProtocol, results[i].Candidate.DID)
		}
	}
	return nil
}

// Pass 1: ignore list and existing follows. Returns the indices of followers
// left unclassified.
func (c *Classifier) localPass(ctx context.Context, results []Result) []int {
	_, span := otel.Tracer("followers").Start(ctx, "localPass")
	defer span.End()

	var survivors []int
	for i := range results {
		r := &results[i]
		switch {
		case c.ignore[r.Candidate.Handle.String()]:
			r.Status = StatusIgnored
			c.logger.Info("ignoring account", "handle", r.Candidate.Handle, "did", r.Candidate.DID)
		case c.followSet[r.Address]:
			r.Status = StatusAlreadyFollowed
			c.logger.Info("already following account", "handle", r.Candidate.Handle, "address", r.Address)
		default:
			survivors = append(survivors, i)
		}
	}
	span.SetAttributes(attribute.Int("survivors", len(survivors)))
	return survivors
}

// Pass 2: one batched relationship lookup for every survivor of pass 1. Only
// ever assigns negative verdicts; a follow from the bridge is not proof of
// bridging, so followedBy is logged but not acted on.
func (c *Classifier) relationshipPass(ctx context.Context, results []Result, survivors []int) ([]int, error) {
	if len(survivors) == 0 {
		return nil, nil
	}
	ctx, span := otel.Tracer("followers").Start(ctx, "relationshipPass")
	defer span.End()

	start := time.Now()
	others := make([]bsky.DID, len(survivors))
	for j, i := range survivors {
		others[j] = results[i].Candidate.DID
	}
	rels, err := c.resolver.Relationships(ctx, c.bridgeDID, others)
	if err != nil {
		return nil, classifyErr("fetching bridge relationships", err)
	}
	passDuration.WithLabelValues("relationships").Observe(time.Since(start).Seconds())

	var next []int
	for _, i := range survivors {
		r := &results[i]
		rel, ok := rels[r.Candidate.DID]
		switch {
		case !ok:
			r.Status = NotBridgedBecause(NoRelationshipData)
			c.logger.Info("no relationship data with bridge", "handle", r.Candidate.Handle, "did", r.Candidate.DID)
		case rel.BlockedBy():
			r.Status = NotBridgedBecause(BlocksBridge)
			c.logger.Info("account blocks bridge", "handle", r.Candidate.Handle, "did", r.Candidate.DID)
		default:
			c.logger.Debug("relationship with bridge", "handle", r.Candidate.Handle, "followed_by_bridge", rel.FollowedBy != "")
			next = append(next, i)
		}
	}
	span.SetAttributes(attribute.Int("survivors", len(next)))
	return next, nil
}

// Pass 3: a WebFinger check per survivor, with bounded concurrency. Each
// worker writes only its own slot of results.
func (c *Classifier) discoveryPass(ctx context.Context, results []Result, survivors []int) error {
	if len(survivors) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("followers").Start(ctx, "discoveryPass", trace.WithAttributes(
		attribute.Int("checks", len(survivors)),
		attribute.Int("concurrency", c.concurrency),
	))
	defer span.End()

	start := time.Now()
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.concurrency)
	for _, i := range survivors {
		r := &results[i]
		eg.Go(func() error {
			exists, err := c.discovery.AccountExists(ctx, c.discoveryServer, r.Address)
			if err != nil {
				return classifyErr(fmt.Sprintf("checking %s on bridge", r.Address), err)
			}
			if exists {
				r.Status = StatusReadyToFollow
				c.logger.Info("account ready to follow", "handle", r.Candidate.Handle, "address", r.Address)
			} else {
				r.Status = NotBridgedBecause(NoAccountOnBridge)
				c.logger.Info("account not found on bridge", "handle", r.Candidate.Handle, "address", r.Address)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	passDuration.WithLabelValues("discovery").Observe(time.Since(start).Seconds())
	return nil
}
