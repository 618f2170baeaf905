// Package fetch resolves redirects, detects charsets, and retrieves decoded
// HTML bodies under a byte budget.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/metalink-dev/metalink/internal/metalink"
)

// ErrFetcherClosed is returned by every operation after Close.
var ErrFetcherClosed = errors.New("fetcher is closed")

// FetcherConfig controls the HTTP transport.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
	// Transport overrides the default transport, primarily for tests.
	Transport http.RoundTripper
}

// HTTPFetcher implements metalink.Fetcher over net/http. Automatic redirect
// following is disabled so the resolution layer can record and bound each
// hop itself.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
	closed    atomic.Bool
}

// NewHTTPFetcher constructs an HTTPFetcher.
func NewHTTPFetcher(cfg FetcherConfig, logger *zap.Logger) *HTTPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = metalink.DefaultUserAgent
	}
	return &HTTPFetcher{
		client:    client,
		userAgent: ua,
		logger:    logger,
	}
}

// Get issues a single GET request, reading at most maxBytes+1 bytes. A read
// of exactly maxBytes+1 marks the response truncated and discards the extra
// byte; this is how "exactly filled the budget" and "cut short" stay
// distinguishable.
func (f *HTTPFetcher) Get(ctx context.Context, url string, headers http.Header, maxBytes int64) metalink.FetchResponse {
	return f.do(ctx, http.MethodGet, url, headers, maxBytes)
}

// Head issues a single HEAD request.
func (f *HTTPFetcher) Head(ctx context.Context, url string, headers http.Header) metalink.FetchResponse {
	return f.do(ctx, http.MethodHead, url, headers, 0)
}

func (f *HTTPFetcher) do(ctx context.Context, method, url string, headers http.Header, maxBytes int64) metalink.FetchResponse {
	start := time.Now()
	if f.closed.Load() {
		return metalink.FetchResponse{URL: url, Err: ErrFetcherClosed}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return metalink.FetchResponse{URL: url, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	// Caller headers replace defaults rather than stacking extra values.
	for k, values := range headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return metalink.FetchResponse{URL: url, Elapsed: time.Since(start), Err: fmt.Errorf("%s %s: %w", method, url, err)}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	out := metalink.FetchResponse{
		URL:        url,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
	}
	if method != http.MethodHead {
		body, truncated, err := readBudgeted(resp.Body, maxBytes)
		if err != nil {
			out.Elapsed = time.Since(start)
			out.Err = fmt.Errorf("read body of %s: %w", url, err)
			return out
		}
		out.Body = body
		out.Truncated = truncated
	}
	out.Elapsed = time.Since(start)
	return out
}

// Close is idempotent and releases idle connections.
func (f *HTTPFetcher) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	f.client.CloseIdleConnections()
	return nil
}

// readBudgeted reads at most maxBytes+1 bytes. maxBytes <= 0 means no budget.
func readBudgeted(r io.Reader, maxBytes int64) ([]byte, bool, error) {
	if maxBytes <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, false, err
		}
		return body, false, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) == maxBytes+1 {
		return body[:maxBytes], true, nil
	}
	return body, false, nil
}
