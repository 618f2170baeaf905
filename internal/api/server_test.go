package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metalink-dev/metalink/internal/config"
	"github.com/metalink-dev/metalink/internal/metalink"
)

type fakeExtractor struct {
	lastURL         string
	lastOpts        metalink.Options
	lastConcurrency int
}

func (f *fakeExtractor) Extract(_ context.Context, url string, opts metalink.Options) metalink.PipelineOutput {
	f.lastURL = url
	f.lastOpts = opts
	meta := metalink.NewLinkMetadata(url)
	meta.Title = "Stub Title"
	return metalink.PipelineOutput{
		Metadata:   meta,
		Provenance: map[metalink.Field]metalink.Provenance{},
		Warnings:   []metalink.Warning{},
		Errors:     []metalink.Error{},
	}
}

func (f *fakeExtractor) ExtractBatch(ctx context.Context, urls []string, opts metalink.Options, concurrency int) []metalink.PipelineOutput {
	f.lastConcurrency = concurrency
	out := make([]metalink.PipelineOutput, len(urls))
	for i, u := range urls {
		out[i] = f.Extract(ctx, u, opts)
	}
	return out
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
		Extract: config.ExtractConfig{
			MaxRedirects:   5,
			MaxBodyBytes:   2 << 20,
			TimeoutSeconds: 10,
			StopAfterHead:  true,
			MaxImages:      8,
			MaxIcons:       8,
			MaxVideos:      4,
			MaxAudios:      4,
			MaxKeywords:    16,
		},
		Batch: config.BatchConfig{MaxConcurrency: 16, DefaultConcurrency: 4, MaxURLs: 50},
		Cache: config.CacheConfig{Backend: config.CacheBackendMemory, DefaultTTLSeconds: 3600},
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *fakeExtractor) {
	t.Helper()
	svc := &fakeExtractor{}
	srv := httptest.NewServer(NewServer(svc, cfg, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, svc
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestExtractEndpoint(t *testing.T) {
	t.Parallel()

	srv, svc := newTestServer(t, testConfig())
	resp := postJSON(t, srv.URL+"/v1/extract",
		`{"url":"https://example.com/article","options":{"keep_raw":true,"timeout_ms":2500}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var out metalink.PipelineOutput
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "Stub Title", out.Metadata.Title)

	require.Equal(t, "https://example.com/article", svc.lastURL)
	require.True(t, svc.lastOpts.KeepRaw)
	require.Equal(t, 2500*time.Millisecond, svc.lastOpts.Timeout)
	require.Equal(t, 5, svc.lastOpts.MaxRedirects, "config defaults fill unset options")
}

func TestExtractRejectsBadRequests(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())

	resp := postJSON(t, srv.URL+"/v1/extract", `{`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/v1/extract", `{"options":{}}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBatchEndpoint(t *testing.T) {
	t.Parallel()

	srv, svc := newTestServer(t, testConfig())
	resp := postJSON(t, srv.URL+"/v1/extract/batch",
		`{"urls":["https://a.example.com","https://b.example.com"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []metalink.PipelineOutput `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 2)
	require.Equal(t, 4, svc.lastConcurrency, "default concurrency comes from config")
}

func TestBatchRejectsLimitViolations(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Batch.MaxURLs = 1
	srv, _ := newTestServer(t, cfg)

	resp := postJSON(t, srv.URL+"/v1/extract/batch", `{"urls":[]}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/v1/extract/batch", `{"urls":["https://a.test","https://b.test"]}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/v1/extract/batch", `{"urls":["https://a.test"],"concurrency":99}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekrit"
	srv, _ := newTestServer(t, cfg)

	resp := postJSON(t, srv.URL+"/v1/extract", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/extract",
		bytes.NewBufferString(`{"url":"https://example.com"}`))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekrit")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = authed.Body.Close() }()
	require.Equal(t, http.StatusOK, authed.StatusCode)
}
