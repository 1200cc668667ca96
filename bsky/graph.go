package bsky

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-querystring/query"
)

const (
	// Page size requested from app.bsky.graph.getKnownFollowers.
	KnownFollowersPageSize = 100

	// Server-side ceiling on "others" per app.bsky.graph.getRelationships call.
	MaxRelationshipOthers = 30

	notFoundActorType = "app.bsky.graph.defs#notFoundActor"
)

// Subset of app.bsky.actor.defs#profileView.
type ProfileView struct {
	DID         DID     `json:"did"`
	Handle      Handle  `json:"handle"`
	DisplayName *string `json:"displayName,omitempty"`
	Description *string `json:"description,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
	IndexedAt   *string `json:"indexedAt,omitempty"`
	CreatedAt   *string `json:"createdAt,omitempty"`
}

type knownFollowersParams struct {
	Actor  DID    `url:"actor"`
	Limit  int    `url:"limit"`
	Cursor string `url:"cursor,omitempty"`
}

type knownFollowersResponse struct {
	Cursor    *string       `json:"cursor,omitempty"`
	Followers []ProfileView `json:"followers"`
}

// Enumerates every account which follows subject and is followed by the
// authenticated account, draining all pages. Results are deduplicated by DID
// and returned in first-seen order; a repeated DID overwrites the earlier
// profile data in place.
//
// Any page failure aborts the enumeration and no partial result is returned.
func (c *Client) KnownFollowers(ctx context.Context, subject DID) ([]ProfileView, error) {
	var out []ProfileView
	index := make(map[DID]int)
	seenCursors := make(map[string]bool)

	cursor := ""
	for page := 0; ; page++ {
		params, err := query.Values(knownFollowersParams{
			Actor:  subject,
			Limit:  KnownFollowersPageSize,
			Cursor: cursor,
		})
		if err != nil {
			return nil, err
		}

		var resp knownFollowersResponse
		if err := c.Get(ctx, "app.bsky.graph.getKnownFollowers", params, &resp); err != nil {
			return nil, fmt.Errorf("fetching known followers page %d: %w", page, err)
		}

		for _, profile := range resp.Followers {
			if profile.DID == "" {
				return nil, fmt.Errorf("%w: known follower without DID on page %d", ErrMalformedResponse, page)
			}
			if i, ok := index[profile.DID]; ok {
				out[i] = profile
				continue
			}
			index[profile.DID] = len(out)
			out = append(out, profile)
		}

		if resp.Cursor == nil || *resp.Cursor == "" {
			break
		}
		if seenCursors[*resp.Cursor] {
			return nil, fmt.Errorf("%w: known followers cursor repeated: %s", ErrMalformedResponse, *resp.Cursor)
		}
		seenCursors[*resp.Cursor] = true
		cursor = *resp.Cursor
	}

	c.Logger.Debug("enumerated known followers", "subject", subject, "count", len(out))
	return out, nil
}

// Relationship between an actor and one other account, as returned by
// app.bsky.graph.getRelationships.
type Relationship struct {
	DID DID

	// AT-URI of the actor's follow record for DID, if any
	Following string

	// AT-URI of DID's follow record for the actor, if any
	FollowedBy string

	// Every other field of the record, undecoded. Newer lexicon revisions add
	// fields here (eg, block state) before clients know about them.
	Extra map[string]json.RawMessage
}

// Reports whether the record carries a block indicator from DID towards the actor.
func (r *Relationship) BlockedBy() bool {
	if _, ok := r.Extra["blockedBy"]; ok {
		return true
	}
	_, ok := r.Extra["blockedByList"]
	return ok
}

type relationshipsParams struct {
	Actor  DID   `url:"actor"`
	Others []DID `url:"others"`
}

type relationshipsResponse struct {
	Actor         string            `json:"actor"`
	Relationships []json.RawMessage `json:"relationships"`
}

// Looks up the relationship between actor and each of others, issuing one
// request per [MaxRelationshipOthers] identities and merging the results.
//
// Identities the server didn't return (or reported as not found) are absent
// from the returned map.
func (c *Client) Relationships(ctx context.Context, actor DID, others []DID) (map[DID]Relationship, error) {
	out := make(map[DID]Relationship, len(others))

	for start := 0; start < len(others); start += MaxRelationshipOthers {
		end := min(start+MaxRelationshipOthers, len(others))
		chunk := others[start:end]

		params, err := query.Values(relationshipsParams{Actor: actor, Others: chunk})
		if err != nil {
			return nil, err
		}

		var resp relationshipsResponse
		if err := c.Get(ctx, "app.bsky.graph.getRelationships", params, &resp); err != nil {
			return nil, fmt.Errorf("fetching relationships %d-%d of %d: %w", start, end, len(others), err)
		}

		for _, raw := range resp.Relationships {
			rel, found, err := parseRelationship(raw)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			out[rel.DID] = rel
		}
	}
	return out, nil
}

func parseRelationship(raw json.RawMessage) (Relationship, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Relationship{}, false, fmt.Errorf("%w: relationship entry: %w", ErrMalformedResponse, err)
	}

	var typ string
	if v, ok := fields["$type"]; ok {
		if err := json.Unmarshal(v, &typ); err != nil {
			return Relationship{}, false, fmt.Errorf("%w: relationship $type: %w", ErrMalformedResponse, err)
		}
	}
	if typ == notFoundActorType {
		return Relationship{}, false, nil
	}

	var rel Relationship
	var didStr string
	if err := json.Unmarshal(fields["did"], &didStr); err != nil {
		return Relationship{}, false, fmt.Errorf("%w: relationship did: %w", ErrMalformedResponse, err)
	}
	did, err := ParseDID(didStr)
	if err != nil {
		return Relationship{}, false, err
	}
	rel.DID = did

	for key, dst := range map[string]*string{"following": &rel.Following, "followedBy": &rel.FollowedBy} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return Relationship{}, false, fmt.Errorf("%w: relationship %s: %w", ErrMalformedResponse, key, err)
		}
	}

	rel.Extra = make(map[string]json.RawMessage)
	for k, v := range fields {
		switch k {
		case "$type", "did", "following", "followedBy":
			continue
		}
		rel.Extra[k] = v
	}
	return rel, true, nil
}
