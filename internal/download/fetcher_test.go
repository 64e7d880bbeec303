package download_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/posterforge/posterforge/internal/config"
	"github.com/posterforge/posterforge/internal/download"
	"github.com/posterforge/posterforge/internal/limiter"
)

func newTestFetcher(t *testing.T, cfg config.DownloadConfig) *download.Fetcher {
	t.Helper()
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	if cfg.ImageTimeout == 0 {
		cfg.ImageTimeout = 5 * time.Second
	}
	if cfg.MediaTimeout == 0 {
		cfg.MediaTimeout = 5 * time.Second
	}
	return download.NewFetcher(cfg, limiter.New(cfg.MaxInflight), zap.NewNop())
}

func TestFetchRetriesThrottlingThenSucceeds(t *testing.T) {
	const throttledAttempts = 2

	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) <= throttledAttempts {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("poster-bytes"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, config.DownloadConfig{MaxRetries: 3})
	data := f.Fetch(context.Background(), srv.URL, "plex-main", download.KindImage)

	require.NotNil(t, data)
	assert.Equal(t, "poster-bytes", string(data))
	assert.EqualValues(t, throttledAttempts+1, atomic.LoadInt64(&calls))
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t, config.DownloadConfig{MaxRetries: 3})
	data := f.Fetch(context.Background(), srv.URL, "plex-main", download.KindImage)

	assert.Nil(t, data)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestFetchExhaustsRetriesOnServerErrors(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher(t, config.DownloadConfig{MaxRetries: 2})
	data := f.Fetch(context.Background(), srv.URL, "plex-main", download.KindImage)

	assert.Nil(t, data)
	// max_retries=2 means one initial attempt plus two retries.
	assert.EqualValues(t, 3, atomic.LoadInt64(&calls))
}

func TestFetchRewritesRelativePathsThroughProxy(t *testing.T) {
	var gotServer, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotServer = r.URL.Query().Get("server")
		gotPath = r.URL.Query().Get("path")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, config.DownloadConfig{ProxyBaseURL: srv.URL + "/proxy"})
	data := f.Fetch(context.Background(), "/library/metadata/42/thumb", "jellyfin-den", download.KindImage)

	require.NotNil(t, data)
	assert.Equal(t, "jellyfin-den", gotServer)
	assert.Equal(t, "/library/metadata/42/thumb", gotPath)
}

func TestFetchReturnsNilWhenContextCancelledBetweenRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFetcher(t, config.DownloadConfig{
		MaxRetries:     5,
		RetryBaseDelay: 200 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	data := f.Fetch(ctx, srv.URL, "plex-main", download.KindImage)

	assert.Nil(t, data)
	assert.Less(t, time.Since(start), time.Second, "cancellation should cut the backoff short")
}
