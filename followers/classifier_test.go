package followers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bridgyfollowers/bridgyfollowers/bsky"
	"github.com/bridgyfollowers/bridgyfollowers/webfinger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	bridgeDID    = bsky.DID("did:plc:bridge")
	bridgeDomain = "bridge.example"
	bridgeServer = "fed.bridge.example"
)

type fakeEnumerator struct {
	profiles []bsky.ProfileView
	err      error
	calls    int
}

func (f *fakeEnumerator) KnownFollowers(ctx context.Context, subject bsky.DID) ([]bsky.ProfileView, error) {
	f.calls++
	if subject != bridgeDID {
		return nil, fmt.Errorf("unexpected subject %s", subject)
	}
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.profiles), nil
}

type fakeResolver struct {
	records map[bsky.DID]bsky.Relationship
	err     error
	calls   [][]bsky.DID
}

func (f *fakeResolver) Relationships(ctx context.Context, actor bsky.DID, others []bsky.DID) (map[bsky.DID]bsky.Relationship, error) {
	f.calls = append(f.calls, slices.Clone(others))
	if f.err != nil {
		return nil, f.err
	}
	out := map[bsky.DID]bsky.Relationship{}
	for _, did := range others {
		if rel, ok := f.records[did]; ok {
			out[did] = rel
		}
	}
	return out, nil
}

type fakeDiscovery struct {
	lk       sync.Mutex
	existing map[string]bool
	errs     map[string]error
	checked  []string
}

func (f *fakeDiscovery) AccountExists(ctx context.Context, server, address string) (bool, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if server != bridgeServer {
		return false, fmt.Errorf("unexpected server %s", server)
	}
	f.checked = append(f.checked, address)
	if err := f.errs[address]; err != nil {
		return false, err
	}
	return f.existing[address], nil
}

// Counts overlapping AccountExists calls and remembers the highest overlap.
type slowDiscovery struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (f *slowDiscovery) AccountExists(ctx context.Context, server, address string) (bool, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	return true, nil
}

func profile(n int, handle string) bsky.ProfileView {
	return bsky.ProfileView{DID: bsky.DID(fmt.Sprintf("did:plc:user%d", n)), Handle: bsky.Handle(handle)}
}

func plainRel(did bsky.DID) bsky.Relationship {
	return bsky.Relationship{DID: did, FollowedBy: "at://did:plc:bridge/app.bsky.graph.follow/1"}
}

type fixture struct {
	enum *fakeEnumerator
	res  *fakeResolver
	disc *fakeDiscovery
	cfg  Config
}

func newFixture(profiles ...bsky.ProfileView) *fixture {
	return &fixture{
		enum: &fakeEnumerator{profiles: profiles},
		res:  &fakeResolver{records: map[bsky.DID]bsky.Relationship{}},
		disc: &fakeDiscovery{existing: map[string]bool{}, errs: map[string]error{}},
		cfg: Config{
			BridgeDID:       bridgeDID,
			BridgeDomain:    bridgeDomain,
			DiscoveryServer: bridgeServer,
			FollowSet:       map[string]bool{},
			Concurrency:     4,
		},
	}
}

func (f *fixture) classify(t *testing.T) ([]Result, error) {
	t.Helper()
	c, err := NewClassifier(f.enum, f.res, f.disc, f.cfg)
	require.NoError(t, err)
	return c.Classify(context.Background())
}

func statuses(results []Result) map[string]Status {
	out := map[string]Status{}
	for _, r := range results {
		out[r.Candidate.Handle.String()] = r.Status
	}
	return out
}

func TestIgnoredAndAlreadyFollowed(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	f := newFixture(profile(1, "spammer.example"), profile(2, "bob.example"), profile(3, "carol.example"))
	f.cfg.IgnoreList = []string{"spammer.example"}
	f.cfg.FollowSet["bob.example@bridge.example"] = true

	results, err := f.classify(t)
	require.NoError(err)
	assert.Equal(map[string]Status{
		"spammer.example": StatusIgnored,
		"bob.example":     StatusAlreadyFollowed,
		"carol.example":   NotBridgedBecause(NoRelationshipData),
	}, statuses(results))

	// only carol reaches the relationship lookup, and nobody reaches discovery
	assert.Equal([][]bsky.DID{{"did:plc:user3"}}, f.res.calls)
	assert.Empty(f.disc.checked)

	var buf bytes.Buffer
	require.NoError(WriteImportCSV(&buf, results))
	assert.Equal("Account address,Show boosts,Notify on new posts,Languages\n", buf.String())
}

func TestReadyToFollow(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dave := profile(1, "dave.example")
	f := newFixture(dave)
	f.res.records[dave.DID] = plainRel(dave.DID)
	f.disc.existing["dave.example@bridge.example"] = true

	results, err := f.classify(t)
	require.NoError(err)
	require.Len(results, 1)
	assert.Equal(StatusReadyToFollow, results[0].Status)
	assert.Equal("dave.example@bridge.example", results[0].Address)

	var buf bytes.Buffer
	require.NoError(WriteImportCSV(&buf, results))
	assert.Equal("Account address,Show boosts,Notify on new posts,Languages\n@dave.example@bridge.example,true,false,\n", buf.String())
}

func TestBlockDetected(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	eve := profile(1, "eve.example")
	mallory := profile(2, "mallory.example")
	f := newFixture(eve, mallory)
	f.res.records[eve.DID] = bsky.Relationship{
		DID:        eve.DID,
		FollowedBy: "at://did:plc:bridge/app.bsky.graph.follow/2",
		Extra:      map[string]json.RawMessage{"blockedBy": json.RawMessage(`"at://did:plc:user1/app.bsky.graph.block/1"`)},
	}
	f.res.records[mallory.DID] = bsky.Relationship{
		DID:   mallory.DID,
		Extra: map[string]json.RawMessage{"blockedByList": json.RawMessage(`null`)},
	}
	f.disc.existing["eve.example@bridge.example"] = true
	f.disc.existing["mallory.example@bridge.example"] = true

	results, err := f.classify(t)
	require.NoError(err)
	assert.Equal(map[string]Status{
		"eve.example":     NotBridgedBecause(BlocksBridge),
		"mallory.example": NotBridgedBecause(BlocksBridge),
	}, statuses(results))
	assert.Empty(f.disc.checked)
}

func TestCaseInsensitiveFollowSet(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	f := newFixture(profile(1, "Alice.bsky.social"))
	f.cfg.FollowSet["alice.bsky.social@bridge.example"] = true

	results, err := f.classify(t)
	require.NoError(err)
	assert.Equal(StatusAlreadyFollowed, results[0].Status)
	assert.Empty(f.res.calls)
}

func TestIgnoreListIsCaseSensitive(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	f := newFixture(profile(1, "Spammer.example"))
	f.cfg.IgnoreList = []string{"spammer.example"}

	results, err := f.classify(t)
	require.NoError(err)
	assert.Equal(NotBridgedBecause(NoRelationshipData), results[0].Status)
}

func TestNoAccountOnBridge(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	frank := profile(1, "frank.example")
	f := newFixture(frank)
	f.res.records[frank.DID] = bsky.Relationship{DID: frank.DID}

	results, err := f.classify(t)
	require.NoError(err)
	assert.Equal(NotBridgedBecause(NoAccountOnBridge), results[0].Status)
	assert.Equal([]string{"frank.example@bridge.example"}, f.disc.checked)
}

// A large mixed cohort: every candidate classified once, in enumeration
// order, and resolved candidates never reach later passes.
func TestCompletenessAndMonotonicity(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var profiles []bsky.ProfileView
	for n := range 100 {
		profiles = append(profiles, profile(n, fmt.Sprintf("user%d.example", n)))
	}
	f := newFixture(profiles...)
	for n, p := range profiles {
		switch n % 5 {
		case 0:
			f.cfg.IgnoreList = append(f.cfg.IgnoreList, p.Handle.String())
		case 1:
			f.cfg.FollowSet[p.Handle.BridgedAddress(bridgeDomain)] = true
		case 2:
			// no relationship record
		case 3:
			f.res.records[p.DID] = plainRel(p.DID)
			f.disc.existing[p.Handle.BridgedAddress(bridgeDomain)] = true
		case 4:
			f.res.records[p.DID] = bsky.Relationship{DID: p.DID}
		}
	}

	results, err := f.classify(t)
	require.NoError(err)
	require.Len(results, len(profiles))

	for n, r := range results {
		assert.Equal(profiles[n].DID, r.Candidate.DID)
		assert.True(r.Status.valid())
	}

	require.Len(f.res.calls, 1)
	assert.Len(f.res.calls[0], 60)
	for _, did := range f.res.calls[0] {
		var n int
		_, err := fmt.Sscanf(did.String(), "did:plc:user%d", &n)
		require.NoError(err)
		assert.Contains([]int{2, 3, 4}, n%5)
	}
	assert.Len(f.disc.checked, 40)

	assert.Equal(map[string]int{
		"ignored":                           20,
		"already_followed":                  20,
		"not_bridged(no_relationship_data)": 20,
		"ready_to_follow":                   20,
		"not_bridged(no_account_on_bridge)": 20,
	}, Tally(results))
	assert.Len(Filter(results, ReadyToFollow), 20)
}

func TestIdempotent(t *testing.T) {
	require := require.New(t)

	a, b := profile(1, "a.example"), profile(2, "b.example")
	f := newFixture(a, b)
	f.res.records[a.DID] = plainRel(a.DID)
	f.res.records[b.DID] = plainRel(b.DID)
	f.disc.existing["b.example@bridge.example"] = true

	c, err := NewClassifier(f.enum, f.res, f.disc, f.cfg)
	require.NoError(err)
	first, err := c.Classify(context.Background())
	require.NoError(err)
	second, err := c.Classify(context.Background())
	require.NoError(err)
	require.Equal(first, second)
}

func TestEmptyEnumeration(t *testing.T) {
	assert := assert.New(t)

	f := newFixture()
	results, err := f.classify(t)
	assert.NoError(err)
	assert.Empty(results)
	assert.Empty(f.res.calls)
	assert.Empty(f.disc.checked)
}

func TestErrorKinds(t *testing.T) {
	assert := assert.New(t)

	someone := profile(1, "someone.example")
	transportErr := errors.New("connection reset")

	fixtures := []struct {
		name  string
		setup func(f *fixture)
		kind  error
	}{
		{"enumeration transport", func(f *fixture) { f.enum.err = &bsky.APIError{StatusCode: 502} }, ErrTransport},
		{"enumeration malformed", func(f *fixture) { f.enum.err = fmt.Errorf("page 2: %w", bsky.ErrMalformedResponse) }, ErrProtocol},
		{"resolver transport", func(f *fixture) { f.res.err = transportErr }, ErrTransport},
		{"resolver bad did", func(f *fixture) { f.res.err = bsky.ErrInvalidSyntax }, ErrProtocol},
		{"discovery 5xx", func(f *fixture) {
			f.res.records[someone.DID] = plainRel(someone.DID)
			f.disc.errs["someone.example@bridge.example"] = &webfinger.StatusError{StatusCode: 503}
		}, ErrTransport},
		{"discovery bad address", func(f *fixture) {
			f.res.records[someone.DID] = plainRel(someone.DID)
			f.disc.errs["someone.example@bridge.example"] = webfinger.ErrBadAddress
		}, ErrProtocol},
	}

	for _, fix := range fixtures {
		f := newFixture(someone)
		fix.setup(f)
		results, err := f.classify(t)
		assert.Nil(results, fix.name)
		assert.ErrorIs(err, fix.kind, fix.name)
		for _, other := range []error{ErrTransport, ErrProtocol, ErrConfiguration} {
			if other != fix.kind {
				assert.NotErrorIs(err, other, fix.name)
			}
		}
	}
}

func TestDiscoveryErrorAbortsRun(t *testing.T) {
	assert := assert.New(t)

	var profiles []bsky.ProfileView
	f := newFixture()
	for n := range 20 {
		p := profile(n, fmt.Sprintf("user%d.example", n))
		profiles = append(profiles, p)
		f.res.records[p.DID] = plainRel(p.DID)
		f.disc.existing[p.Handle.BridgedAddress(bridgeDomain)] = true
	}
	f.enum.profiles = profiles
	f.disc.errs["user7.example@bridge.example"] = errors.New("timeout")

	results, err := f.classify(t)
	assert.Nil(results)
	assert.ErrorIs(err, ErrTransport)
	assert.ErrorContains(err, "user7.example@bridge.example")
}

func TestConfigValidation(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		name  string
		setup func(cfg *Config)
	}{
		{"bad bridge did", func(cfg *Config) { cfg.BridgeDID = "bridge" }},
		{"empty domain", func(cfg *Config) { cfg.BridgeDomain = "" }},
		{"address as domain", func(cfg *Config) { cfg.BridgeDomain = "a@bridge.example" }},
		{"empty server", func(cfg *Config) { cfg.DiscoveryServer = "" }},
		{"empty ignore entry", func(cfg *Config) { cfg.IgnoreList = []string{"ok.example", ""} }},
		{"ignore entry with space", func(cfg *Config) { cfg.IgnoreList = []string{"two words"} }},
		{"upper-case follow entry", func(cfg *Config) { cfg.FollowSet = map[string]bool{"Bob@bridge.example": true} }},
		{"blank follow entry", func(cfg *Config) { cfg.FollowSet = map[string]bool{" ": true} }},
	}

	for _, fix := range fixtures {
		f := newFixture()
		fix.setup(&f.cfg)
		_, err := NewClassifier(f.enum, f.res, f.disc, f.cfg)
		assert.ErrorIs(err, ErrConfiguration, fix.name)
		assert.Zero(f.enum.calls, fix.name)
	}
}

func TestMissingCollaborators(t *testing.T) {
	assert := assert.New(t)

	f := newFixture()
	_, err := NewClassifier(nil, f.res, f.disc, f.cfg)
	assert.ErrorIs(err, ErrConfiguration)
	_, err = NewClassifier(f.enum, nil, f.disc, f.cfg)
	assert.ErrorIs(err, ErrConfiguration)
	_, err = NewClassifier(f.enum, f.res, nil, f.cfg)
	assert.ErrorIs(err, ErrConfiguration)
}

func TestDiscoveryConcurrencyLimit(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var profiles []bsky.ProfileView
	for i := 0; i < 50; i++ {
		profiles = append(profiles, profile(i, fmt.Sprintf("user%d.example", i)))
	}
	f := newFixture(profiles...)
	for _, p := range profiles {
		f.res.records[p.DID] = plainRel(p.DID)
	}
	f.cfg.Concurrency = 4

	disc := &slowDiscovery{}
	c, err := NewClassifier(f.enum, f.res, disc, f.cfg)
	require.NoError(err)
	results, err := c.Classify(context.Background())
	require.NoError(err)
	require.Len(results, 50)

	assert.EqualValues(50, disc.calls.Load())
	assert.Greater(disc.peak.Load(), int32(0))
	assert.LessOrEqual(disc.peak.Load(), int32(4))
	assert.Zero(disc.inFlight.Load())
}

func TestIncompleteResultsAreProtocolErrors(t *testing.T) {
	results := []Result{
		{Candidate: Candidate{DID: "did:plc:done"}, Status: StatusReadyToFollow},
		{Candidate: Candidate{DID: "did:plc:lost"}},
	}
	err := checkComplete(results)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.ErrorContains(t, err, "did:plc:lost")
	assert.NoError(t, checkComplete(results[:1]))
}

func TestMissingHandleIsProtocolError(t *testing.T) {
	f := newFixture(bsky.ProfileView{DID: "did:plc:nohandle"})
	_, err := f.classify(t)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Empty(t, f.res.calls)
}
