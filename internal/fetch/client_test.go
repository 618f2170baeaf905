package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metalink-dev/metalink/internal/metalink"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	f := NewHTTPFetcher(FetcherConfig{Timeout: 5 * time.Second}, nil)
	t.Cleanup(func() {
		require.NoError(t, f.Close())
	})
	return NewClient(f, nil)
}

func boolPtr(v bool) *bool { return &v }

func getOnlyOptions() metalink.Options {
	return metalink.Options{StopAfterHead: boolPtr(false)}
}

func TestFetchSimplePage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><head><title>hello</title></head></html>")
	}))
	defer srv.Close()

	res := newTestClient(t).Fetch(context.Background(), srv.URL, metalink.Options{})
	require.Nil(t, res.Err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, res.Text, "<title>hello</title>")
	require.Equal(t, "utf-8", res.Charset)
	require.Equal(t, metalink.CharsetFromHeader, res.CharsetSource)
	require.False(t, res.Truncated)
	require.Empty(t, res.Redirects)
}

func TestFetchInvalidURL(t *testing.T) {
	t.Parallel()

	res := newTestClient(t).Fetch(context.Background(), "mailto:x@example.com", metalink.Options{})
	require.NotNil(t, res.Err)
	require.Equal(t, metalink.ErrInvalidURL, res.Err.Kind)
	require.False(t, res.Err.Kind.Retryable())
}

func TestFetchRecordsRedirectHops(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>done</html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := newTestClient(t).Fetch(context.Background(), srv.URL+"/start", getOnlyOptions())
	require.Nil(t, res.Err)
	require.Len(t, res.Redirects, 2)
	require.Equal(t, http.StatusFound, res.Redirects[0].StatusCode)
	require.Equal(t, "/middle", res.Redirects[0].RawLocation)
	require.True(t, strings.HasSuffix(res.FinalURL, "/end"))
}

func TestFetchSelfLoopIsRedirectLoopError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := newTestClient(t).Fetch(context.Background(), srv.URL+"/loop", getOnlyOptions())
	require.NotNil(t, res.Err)
	require.ErrorIs(t, res.Err, ErrRedirectLoop)
	// The detecting hop is recorded, nothing beyond it.
	require.Len(t, res.Redirects, 1)
	require.Equal(t, res.Redirects[0].From, res.Redirects[0].To)
}

func TestFetchTooManyRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/hop/", func(w http.ResponseWriter, r *http.Request) {
		var n int
		fmt.Sscanf(r.URL.Path, "/hop/%d", &n)
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n+1), http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := getOnlyOptions()
	opts.MaxRedirects = 3
	res := newTestClient(t).Fetch(context.Background(), srv.URL+"/hop/0", opts)
	require.NotNil(t, res.Err)
	require.ErrorIs(t, res.Err, ErrTooManyRedirects)
	require.NotErrorIs(t, res.Err, ErrRedirectLoop)
}

func TestFetch304IsNotARedirect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "/elsewhere")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	res := newTestClient(t).Fetch(context.Background(), srv.URL, getOnlyOptions())
	require.Empty(t, res.Redirects)
	require.NotNil(t, res.Err)
	require.Equal(t, metalink.ErrHTTPStatus, res.Err.Kind)
}

func TestFetchHeadRejectedFallsBackToGet(t *testing.T) {
	t.Parallel()

	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gets.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>via get</html>")
	}))
	defer srv.Close()

	res := newTestClient(t).Fetch(context.Background(), srv.URL, metalink.Options{})
	require.Nil(t, res.Err)
	require.Contains(t, res.Text, "via get")
	require.Equal(t, int32(1), gets.Load())
}

func TestFetchNonHTMLHeadSkipsGet(t *testing.T) {
	t.Parallel()

	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		if r.Method == http.MethodGet {
			gets.Add(1)
			fmt.Fprint(w, "%PDF-1.7 pretend this is large")
		}
	}))
	defer srv.Close()

	res := newTestClient(t).Fetch(context.Background(), srv.URL, metalink.Options{})
	require.NotNil(t, res.Err)
	require.Equal(t, metalink.ErrNonHTMLContent, res.Err.Kind)
	require.Empty(t, res.Body)
	require.Equal(t, int32(0), gets.Load(), "GET phase must be skipped for non-HTML")
}

func TestFetchTruncationAccounting(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/long":
			fmt.Fprint(w, "0123456789abcdef") // 16 bytes
		case "/exact":
			fmt.Fprint(w, "01234") // exactly 5 bytes
		}
	}))
	defer srv.Close()

	opts := getOnlyOptions()
	opts.MaxBodyBytes = 5

	long := newTestClient(t).Fetch(context.Background(), srv.URL+"/long", opts)
	require.Nil(t, long.Err)
	require.True(t, long.Truncated)
	require.Equal(t, []byte("01234"), long.Body)

	exact := newTestClient(t).Fetch(context.Background(), srv.URL+"/exact", opts)
	require.Nil(t, exact.Err)
	require.False(t, exact.Truncated)
	require.Equal(t, []byte("01234"), exact.Body)
}

func TestFetchHTTPStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	res := newTestClient(t).Fetch(context.Background(), srv.URL, getOnlyOptions())
	require.NotNil(t, res.Err)
	require.Equal(t, metalink.ErrHTTPStatus, res.Err.Kind)
	require.True(t, res.Err.Kind.Retryable())
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		fmt.Fprint(w, "<html>late</html>")
	}))
	defer srv.Close()

	opts := getOnlyOptions()
	opts.Timeout = 50 * time.Millisecond
	res := newTestClient(t).Fetch(context.Background(), srv.URL, opts)
	require.NotNil(t, res.Err)
	require.Equal(t, metalink.ErrTimeout, res.Err.Kind)
}

func TestFetcherClosedReturnsError(t *testing.T) {
	t.Parallel()

	f := NewHTTPFetcher(FetcherConfig{}, nil)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close(), "close must be idempotent")

	resp := f.Get(context.Background(), "http://example.com/", nil, 0)
	require.ErrorIs(t, resp.Err, ErrFetcherClosed)
}

func TestFetchLatin1PageDecodes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=latin1")
		_, _ = w.Write([]byte{'c', 'a', 'f', 0xE9})
	}))
	defer srv.Close()

	res := newTestClient(t).Fetch(context.Background(), srv.URL, getOnlyOptions())
	require.Nil(t, res.Err)
	require.Equal(t, "café", res.Text)
	require.Equal(t, "latin1", res.Charset)
	require.Equal(t, metalink.CharsetFromHeader, res.CharsetSource)
}

func TestFetchHonorsUserAgentOption(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	agents := map[string][]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents[r.Method] = append(agents[r.Method], r.Header.Get("User-Agent"))
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	res := newTestClient(t).Fetch(context.Background(), srv.URL,
		metalink.Options{UserAgent: "custom-agent/9.9"})
	require.Nil(t, res.Err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"custom-agent/9.9"}, agents[http.MethodHead])
	require.Equal(t, []string{"custom-agent/9.9"}, agents[http.MethodGet])
}

func TestFetchDefaultUserAgent(t *testing.T) {
	t.Parallel()

	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	res := newTestClient(t).Fetch(context.Background(), srv.URL, getOnlyOptions())
	require.Nil(t, res.Err)
	require.Equal(t, metalink.DefaultUserAgent, agent.Load())
}
