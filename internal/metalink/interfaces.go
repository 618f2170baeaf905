package metalink

import (
	"context"
	"net/http"
	"time"
)

// FetchResponse is returned by the low-level transport. Failures are carried
// on Err; Fetcher methods never panic and never return a second error value.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Truncated  bool
	Elapsed    time.Duration
	Err        error
}

// Fetcher is the raw HTTP transport consumed by the fetch layer. It performs
// single requests only: redirects are never followed automatically so each
// hop can be recorded and bounded by the caller.
type Fetcher interface {
	// Get retrieves a body, reading at most maxBytes+1 bytes so the caller
	// can distinguish an exactly-full body from a truncated one. maxBytes <= 0
	// means unbounded.
	Get(ctx context.Context, url string, headers http.Header, maxBytes int64) FetchResponse
	Head(ctx context.Context, url string, headers http.Header) FetchResponse
	Close() error
}

// CacheStore persists cache entries. No method panics; every failure is an
// error value so callers can degrade to a cache miss. A nil entry with a nil
// error from Read is a miss.
type CacheStore interface {
	Read(ctx context.Context, key string) (*CacheEntry, error)
	Write(ctx context.Context, key string, entry CacheEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	PurgeExpired(ctx context.Context) (int, error)
	Close() error
}

// Clock returns the current time (useful for testing TTL logic).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests for cache key derivation.
type Hasher interface {
	Hash(data []byte) (string, error)
}
