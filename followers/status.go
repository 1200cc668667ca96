package followers

import (
	"fmt"

	"github.com/bridgyfollowers/bridgyfollowers/bsky"
)

// Kind is the top-level outcome of classifying one follower.
type Kind int

const (
	// zero value: not yet classified. Never present in a completed result.
	unclassified Kind = iota
	Ignored
	AlreadyFollowedOnDestination
	ReadyToFollow
	NotBridged
)

func (k Kind) String() string {
	switch k {
	case Ignored:
		return "ignored"
	case AlreadyFollowedOnDestination:
		return "already_followed"
	case ReadyToFollow:
		return "ready_to_follow"
	case NotBridged:
		return "not_bridged"
	default:
		return "unclassified"
	}
}

// Reason explains a [NotBridged] status.
type Reason int

const (
	noReason Reason = iota
	BlocksBridge
	NoRelationshipData
	NoAccountOnBridge
)

func (r Reason) String() string {
	switch r {
	case BlocksBridge:
		return "blocks_bridge"
	case NoRelationshipData:
		return "no_relationship_data"
	case NoAccountOnBridge:
		return "no_account_on_bridge"
	default:
		return ""
	}
}

// Status is the terminal verdict for one follower. Reason is only set when
// Kind is [NotBridged]; use the package-level values and [NotBridgedBecause]
// rather than building one by hand.
type Status struct {
	Kind   Kind
	Reason Reason
}

var (
	StatusIgnored         = Status{Kind: Ignored}
	StatusAlreadyFollowed = Status{Kind: AlreadyFollowedOnDestination}
	StatusReadyToFollow   = Status{Kind: ReadyToFollow}
)

func NotBridgedBecause(r Reason) Status {
	return Status{Kind: NotBridged, Reason: r}
}

func (s Status) String() string {
	if s.Kind == NotBridged {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Reason)
	}
	return s.Kind.String()
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Status) valid() bool {
	switch s.Kind {
	case Ignored, AlreadyFollowedOnDestination, ReadyToFollow:
		return s.Reason == noReason
	case NotBridged:
		return s.Reason >= BlocksBridge && s.Reason <= NoAccountOnBridge
	default:
		return false
	}
}

// Candidate is one known follower of the bridge under classification.
type Candidate struct {
	DID     bsky.DID
	Handle  bsky.Handle
	Profile bsky.ProfileView
}

// Result pairs a candidate with its status. Address is the candidate's
// lower-cased account address on the destination side of the bridge.
type Result struct {
	Candidate Candidate
	Address   string
	Status    Status
}

// Filter returns the results with the given kind, in order.
func Filter(results []Result, kind Kind) []Result {
	var out []Result
	for _, r := range results {
		if r.Status.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Counts results per status string, for summaries.
func Tally(results []Result) map[string]int {
	out := make(map[string]int)
	for _, r := range results {
		out[r.Status.String()]++
	}
	return out
}
