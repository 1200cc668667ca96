package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bridgyfollowers/bridgyfollowers/pkg/robusthttp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// fakeServer serves a two-page following list and a single lookup-able account.
type fakeServer struct {
	lk       sync.Mutex
	pages    []string
	followed []string
}

func (fs *fakeServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				writeError(w, http.StatusUnauthorized, "The access token is invalid")
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("/api/v1/accounts/verify_credentials", auth(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "42", "username": "me", "acct": "me"})
	}))
	mux.HandleFunc("/api/v1/accounts/42/following", auth(func(w http.ResponseWriter, r *http.Request) {
		fs.lk.Lock()
		fs.pages = append(fs.pages, r.URL.Query().Get("max_id"))
		fs.lk.Unlock()
		assert.Equal(t, "80", r.URL.Query().Get("limit"))
		switch r.URL.Query().Get("max_id") {
		case "":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/accounts/42/following?limit=80&max_id=7>; rel="next"`, srv.URL))
			writeJSON(w, []map[string]any{
				{"id": "1", "acct": "Alice.BSKY.social@bsky.brid.gy"},
				{"id": "2", "acct": "friend"},
			})
		case "7":
			writeJSON(w, []map[string]any{{"id": "3", "acct": "bob.example@bsky.brid.gy"}})
		default:
			t.Errorf("unexpected page %s", r.URL.RawQuery)
			writeJSON(w, []map[string]any{})
		}
	}))
	mux.HandleFunc("/api/v1/accounts/lookup", auth(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("acct") != "carol.example@bsky.brid.gy" {
			writeError(w, http.StatusNotFound, "Record not found")
			return
		}
		writeJSON(w, map[string]any{"id": "99", "acct": "carol.example@bsky.brid.gy"})
	}))
	mux.HandleFunc("/api/v1/accounts/99/follow", auth(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		fs.lk.Lock()
		fs.followed = append(fs.followed, "99")
		fs.lk.Unlock()
		writeJSON(w, map[string]any{"id": "99", "following": true, "showing_reblogs": true})
	}))
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFollowingSet(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	fs := &fakeServer{}
	srv := fs.start(t)

	c, err := NewClient(srv.URL+"/", "tok", robusthttp.TestingHTTPClient())
	require.NoError(err)
	assert.Equal(srv.URL, c.Server)

	set, err := c.FollowingSet(context.Background())
	require.NoError(err)
	assert.Equal(map[string]bool{
		"alice.bsky.social@bsky.brid.gy": true,
		"friend":                         true,
		"bob.example@bsky.brid.gy":       true,
	}, set)

	// one request per page, and no extra request after the last one
	assert.Equal([]string{"", "7"}, fs.pages)
}

func TestBadToken(t *testing.T) {
	fs := &fakeServer{}
	srv := fs.start(t)

	c, err := NewClient(srv.URL, "wrong", robusthttp.TestingHTTPClient())
	require.NoError(t, err)
	_, err = c.FollowingSet(context.Background())
	assert.ErrorContains(t, err, "The access token is invalid")
	assert.Empty(t, fs.pages)
}

func TestFollowAddress(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	fs := &fakeServer{}
	srv := fs.start(t)

	c, err := NewClient(srv.URL, "tok", robusthttp.TestingHTTPClient())
	require.NoError(err)

	rel, err := c.FollowAddress(ctx, "@carol.example@bsky.brid.gy")
	require.NoError(err)
	assert.True(rel.Following)
	assert.Equal([]string{"99"}, fs.followed)

	_, err = c.FollowAddress(ctx, "missing@bsky.brid.gy")
	assert.ErrorContains(err, "Record not found")
	assert.Len(fs.followed, 1)
}

func TestNormalizeServer(t *testing.T) {
	assert := assert.New(t)

	s, err := NormalizeServer("Mastodon.Social")
	assert.NoError(err)
	assert.Equal("https://mastodon.social", s)

	s, err = NormalizeServer("http://localhost:3000/")
	assert.NoError(err)
	assert.Equal("http://localhost:3000", s)

	_, err = NormalizeServer("  ")
	assert.Error(err)
}
