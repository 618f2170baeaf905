package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metalink-dev/metalink/internal/cache"
	"github.com/metalink-dev/metalink/internal/metalink"
)

const pageHTML = `<html><head>
	<title>Fallback Title</title>
	<meta property="og:title" content="Service Test Page">
	<meta property="og:description" content="A page served for orchestration tests.">
</head><body><h1>Hello</h1></body></html>`

func newPageServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var gets atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, pageHTML)
	}))
	t.Cleanup(srv.Close)
	return srv, &gets
}

func newTestService(t *testing.T, store metalink.CacheStore) *Service {
	t.Helper()
	svc := New(Config{Store: store})
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestExtractCacheRoundTrip(t *testing.T) {
	t.Parallel()

	srv, gets := newPageServer(t)
	store := cache.NewMemoryStore(cache.MemoryStoreConfig{MaxEntries: 16, DefaultTTL: time.Hour})
	svc := newTestService(t, store)

	first := svc.Extract(context.Background(), srv.URL, metalink.Options{})
	require.Empty(t, first.Errors)
	require.False(t, first.CacheHit)
	require.Equal(t, "Service Test Page", first.Metadata.Title)
	require.Equal(t, metalink.SourceOpenGraph, first.Provenance[metalink.FieldTitle].Source)

	second := svc.Extract(context.Background(), srv.URL, metalink.Options{})
	require.True(t, second.CacheHit)
	require.Equal(t, first.Metadata.Title, second.Metadata.Title)
	require.Equal(t, int64(1), gets.Load(), "cache hit must not refetch")
}

func TestExtractOptionsChangeCacheKey(t *testing.T) {
	t.Parallel()

	srv, gets := newPageServer(t)
	store := cache.NewMemoryStore(cache.MemoryStoreConfig{MaxEntries: 16, DefaultTTL: time.Hour})
	svc := newTestService(t, store)

	svc.Extract(context.Background(), srv.URL, metalink.Options{})
	out := svc.Extract(context.Background(), srv.URL, metalink.Options{KeepRaw: true})
	require.False(t, out.CacheHit, "different option fingerprint must miss")
	require.Equal(t, int64(2), gets.Load())
}

func TestExtractInvalidURL(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	out := svc.Extract(context.Background(), "mailto:x@example.com", metalink.Options{})
	require.Len(t, out.Errors, 1)
	require.Equal(t, metalink.ErrInvalidURL, out.Errors[0].Kind)
	require.NotNil(t, out.Metadata.Images, "fatal paths still return a renderable record")
	require.Equal(t, "mailto:x@example.com", out.Metadata.OriginalURL)
}

func TestExtractBatchPreservesInputOrder(t *testing.T) {
	t.Parallel()

	srv, _ := newPageServer(t)
	svc := newTestService(t, nil)

	results := svc.ExtractBatch(context.Background(),
		[]string{srv.URL, "mailto:x@example.com"}, metalink.Options{}, 4)

	require.Len(t, results, 2)
	require.Empty(t, results[0].Errors)
	require.Equal(t, "Service Test Page", results[0].Metadata.Title)
	require.Len(t, results[1].Errors, 1)
	require.Equal(t, metalink.ErrInvalidURL, results[1].Errors[0].Kind)
}

func TestExtractBatchRejectsBadConcurrency(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	require.Panics(t, func() {
		svc.ExtractBatch(context.Background(), []string{"https://example.com"}, metalink.Options{}, 0)
	})
}

func TestBypassCacheSkipsStore(t *testing.T) {
	t.Parallel()

	srv, _ := newPageServer(t)
	store := cache.NewMemoryStore(cache.MemoryStoreConfig{MaxEntries: 16, DefaultTTL: time.Hour})
	svc := newTestService(t, store)

	out := svc.Extract(context.Background(), srv.URL, metalink.Options{BypassCache: true})
	require.Empty(t, out.Errors)
	require.Equal(t, 0, store.Len(), "bypass must not write back")

	found := false
	for _, w := range out.Warnings {
		if w.Kind == metalink.WarnCacheBypassed {
			found = true
		}
	}
	require.True(t, found, "bypass must be recorded as a warning")
}

type failingStore struct {
	reads  atomic.Int64
	writes atomic.Int64
}

func (f *failingStore) Read(context.Context, string) (*metalink.CacheEntry, error) {
	f.reads.Add(1)
	return nil, errors.New("backend unavailable")
}

func (f *failingStore) Write(context.Context, string, metalink.CacheEntry) error {
	f.writes.Add(1)
	return errors.New("backend unavailable")
}

func (f *failingStore) Delete(context.Context, string) error { return nil }
func (f *failingStore) Clear(context.Context) error          { return nil }
func (f *failingStore) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}
func (f *failingStore) Close() error { return nil }

func TestCacheFailuresDegradeToWarnings(t *testing.T) {
	t.Parallel()

	srv, _ := newPageServer(t)
	store := &failingStore{}
	svc := newTestService(t, store)

	out := svc.Extract(context.Background(), srv.URL, metalink.Options{})
	require.Empty(t, out.Errors, "cache failures must never fail the request")
	require.Equal(t, "Service Test Page", out.Metadata.Title)
	require.Equal(t, int64(1), store.reads.Load())
	require.Equal(t, int64(1), store.writes.Load())

	var kinds []metalink.WarningKind
	for _, w := range out.Warnings {
		kinds = append(kinds, w.Kind)
	}
	require.Contains(t, kinds, metalink.WarnCacheReadFailed)
	require.Contains(t, kinds, metalink.WarnCacheWriteFailed)
}

func TestTruncatedBodyWarns(t *testing.T) {
	t.Parallel()

	srv, _ := newPageServer(t)
	svc := newTestService(t, nil)

	out := svc.Extract(context.Background(), srv.URL, metalink.Options{MaxBodyBytes: 64})
	found := false
	for _, w := range out.Warnings {
		if w.Kind == metalink.WarnTruncatedHTML {
			found = true
		}
	}
	require.True(t, found)
}

func TestFatalFetchStillYieldsRecord(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	store := cache.NewMemoryStore(cache.MemoryStoreConfig{MaxEntries: 16, DefaultTTL: time.Hour})
	svc := newTestService(t, store)

	out := svc.Extract(context.Background(), srv.URL, metalink.Options{})
	require.Len(t, out.Errors, 1)
	require.Equal(t, metalink.ErrHTTPStatus, out.Errors[0].Kind)
	require.NotNil(t, out.Metadata.Keywords)
	require.Equal(t, 0, store.Len(), "failed extractions are not cached")
}

func TestClosedServiceRefusesWork(t *testing.T) {
	t.Parallel()

	svc := New(Config{})
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close(), "close must be idempotent")

	out := svc.Extract(context.Background(), "https://example.com", metalink.Options{})
	require.Len(t, out.Errors, 1)
	require.ErrorIs(t, out.Errors[0].Unwrap(), ErrServiceClosed)
}
