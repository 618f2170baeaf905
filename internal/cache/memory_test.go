package cache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metalink-dev/metalink/internal/metalink"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func entryAt(clk metalink.Clock, ttl time.Duration) metalink.CacheEntry {
	return metalink.CacheEntry{
		Kind:        metalink.EntryKindExtractionResult,
		CreatedAtMs: clk.Now().UnixMilli(),
		TTLMs:       ttl.Milliseconds(),
		Payload:     json.RawMessage(`{"ok":true}`),
	}
}

func TestMemoryStoreTTLSentinelUsesDefault(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	store := NewMemoryStore(MemoryStoreConfig{
		MaxEntries: 10,
		DefaultTTL: 2 * time.Second,
		Clock:      clk,
	})
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "k", entryAt(clk, 0)))

	got, err := store.Read(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got, "entry must be a hit immediately after write")
	require.Equal(t, int64(2000), got.TTLMs, "sentinel TTL must be normalized to the store default")

	clk.Advance(2001 * time.Millisecond)
	got, err = store.Read(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, got, "entry must expire after the default TTL")
}

func TestMemoryStoreLRUEviction(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	store := NewMemoryStore(MemoryStoreConfig{MaxEntries: 2, DefaultTTL: time.Hour, Clock: clk})
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "a", entryAt(clk, time.Hour)))
	require.NoError(t, store.Write(ctx, "b", entryAt(clk, time.Hour)))
	require.NoError(t, store.Write(ctx, "c", entryAt(clk, time.Hour)))

	a, err := store.Read(ctx, "a")
	require.NoError(t, err)
	require.Nil(t, a, "least-recently-used entry must be evicted")
	for _, key := range []string{"b", "c"} {
		got, err := store.Read(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got, "key %s should survive", key)
	}
}

func TestMemoryStoreReadBumpsRecency(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	store := NewMemoryStore(MemoryStoreConfig{MaxEntries: 2, DefaultTTL: time.Hour, Clock: clk})
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "a", entryAt(clk, time.Hour)))
	require.NoError(t, store.Write(ctx, "b", entryAt(clk, time.Hour)))

	// Touch "a" so "b" becomes the eviction candidate.
	got, err := store.Read(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, store.Write(ctx, "c", entryAt(clk, time.Hour)))

	b, err := store.Read(ctx, "b")
	require.NoError(t, err)
	require.Nil(t, b)
	a, err := store.Read(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, a)
}

func TestMemoryStoreZeroCapacityRetainsNothing(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	store := NewMemoryStore(MemoryStoreConfig{MaxEntries: 0, DefaultTTL: time.Hour, Clock: clk})
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "a", entryAt(clk, time.Hour)))
	require.Equal(t, 0, store.Len())
}

func TestMemoryStorePurgeExpired(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	store := NewMemoryStore(MemoryStoreConfig{MaxEntries: 10, DefaultTTL: time.Hour, Clock: clk})
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "short", entryAt(clk, time.Second)))
	require.NoError(t, store.Write(ctx, "long", entryAt(clk, time.Hour)))

	clk.Advance(2 * time.Second)
	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, purged)
	require.Equal(t, 1, store.Len())
}

func TestMemoryStoreReadReturnsCopy(t *testing.T) {
	t.Parallel()

	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	store := NewMemoryStore(MemoryStoreConfig{MaxEntries: 10, DefaultTTL: time.Hour, Clock: clk})
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "k", entryAt(clk, time.Hour)))

	first, err := store.Read(ctx, "k")
	require.NoError(t, err)
	first.Payload[0] = 'X'

	second, err := store.Read(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, json.RawMessage(`{"ok":true}`), second.Payload)
}

func TestMemoryStoreClosed(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(MemoryStoreConfig{MaxEntries: 10})
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close must be idempotent")

	ctx := context.Background()
	_, err := store.Read(ctx, "k")
	require.ErrorIs(t, err, ErrStoreClosed)
	require.ErrorIs(t, store.Write(ctx, "k", metalink.CacheEntry{}), ErrStoreClosed)
	_, err = store.PurgeExpired(ctx)
	require.ErrorIs(t, err, ErrStoreClosed)
}
