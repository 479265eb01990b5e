package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuzemoon/internal/config"
	"tuzemoon/internal/domain"
	"tuzemoon/internal/observability"
	"tuzemoon/internal/verification"
)

type testServer struct {
	*httptest.Server
	stores *allStores
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Expiry.Interval = time.Hour
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	logger := observability.NopLogger()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	stores, cleanup, err := createStores(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	srv, err := NewServer(cfg, stores, logger)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	now := time.Now().UTC()
	for i, title := range []string{"doge", "pepe", "wojak"} {
		require.NoError(t, stores.memes.Insert(ctx, &domain.Meme{
			ID:         int64(i + 1),
			Title:      title,
			Blockchain: "solana",
			CreatedBy:  "creator",
			CreatedAt:  now.Add(-time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, stores.users.Insert(ctx, &domain.User{ID: "user-1"}))

	return &testServer{Server: ts, stores: stores}
}

func (s *testServer) do(t *testing.T, method, path, user string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, nil)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (s *testServer) listMemes(t *testing.T, query string) []memeView {
	t.Helper()
	resp, err := http.Get(s.URL + "/api/memes" + query)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []memeView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, nil)

	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, body := s.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "memory", body["storage"])
	assert.Equal(t, false, body["verification"])
	assert.NotNil(t, body["expiry"])
}

func TestServer_ListMemes(t *testing.T) {
	s := newTestServer(t, nil)

	memes := s.listMemes(t, "")
	require.Len(t, memes, 3)
	assert.Equal(t, "doge", memes[0].Title, "newest first")

	status, body := s.do(t, http.MethodGet, "/api/memes?sort=random", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body["error"])

	status, _ = s.do(t, http.MethodGet, "/api/memes?date=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_LikeFlow(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	// warm the list cache so the like has to invalidate it
	require.Len(t, s.listMemes(t, "?sort=most_liked"), 3)

	status, _ := s.do(t, http.MethodPost, "/api/memes/2/like", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodPost, "/api/memes/2/like", "ghost")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := s.do(t, http.MethodPost, "/api/memes/2/like", "user-1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["liked"])

	liked, err := s.stores.likes.Exists(ctx, "user-1", 2)
	require.NoError(t, err)
	assert.True(t, liked)

	assert.Eventually(t, func() bool {
		memes := s.listMemes(t, "?sort=most_liked")
		return len(memes) == 3 && memes[0].ID == 2 && memes[0].Likes == 1
	}, 2*time.Second, 20*time.Millisecond)

	status, body = s.do(t, http.MethodPost, "/api/memes/2/like", "user-1")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["already_applied"])

	status, body = s.do(t, http.MethodDelete, "/api/memes/2/like", "user-1")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["liked"])

	status, _ = s.do(t, http.MethodPost, "/api/memes/abc/like", "user-1")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/api/memes/999/like", "user-1")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_WatchlistToggle(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, http.MethodPost, "/api/memes/3/watchlist", "user-1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["watchlisted"])

	status, body = s.do(t, http.MethodPost, "/api/memes/3/watchlist", "user-1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["watchlisted"])
}

func TestServer_FeaturedList(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.stores.memes.SetFeatured(context.Background(), 3, time.Now().Add(time.Hour)))

	resp, err := http.Get(s.URL + "/api/memes/featured")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out []memeView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, int64(3), out[0].ID)
	assert.True(t, out[0].Featured)
}

func TestServer_VerificationEndpoint(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Solana.Recipient = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	})

	resp, err := http.Post(s.URL+verification.Path, "application/json", strings.NewReader(`{"memeId":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	status, body := s.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["verification"])
}
