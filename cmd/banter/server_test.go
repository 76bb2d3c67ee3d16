package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bluesky-social/banter/engage/cachestore"
	"github.com/bluesky-social/banter/engage/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*Server, cachestore.CacheStore) {
	cache := cachestore.NewMemCacheStore(100, 0)
	srv, err := NewServer(slog.Default(), cache, ServerConfig{Bind: ":0", Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	return srv, cache
}

func TestHealthCheck(t *testing.T) {
	assert := assert.New(t)
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_health", nil))
	assert.Equal(http.StatusOK, rec.Code)

	var status GenericStatus
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal("ok", status.Status)
	assert.Equal("banter", status.Daemon)
}

func TestStatus(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	srv, cache := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal("", resp.LastCheckedID)
	assert.Nil(resp.LastPostTime)

	posted := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(cache.Set(ctx, scheduler.EngagementCacheName, scheduler.LastCheckedKey, "at://did:plc:abc/app.bsky.feed.post/3kabc"))
	require.NoError(cachestore.SetTime(ctx, cache, scheduler.PostingCacheName, scheduler.LastPostKey, posted))

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(http.StatusOK, rec.Code)
	resp = StatusResponse{}
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal("at://did:plc:abc/app.bsky.feed.post/3kabc", resp.LastCheckedID)
	if assert.NotNil(resp.LastPostTime) {
		assert.True(posted.Equal(*resp.LastPostTime))
	}
	assert.Nil(resp.ShutdownAt)
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
