// Package cache provides TTL-bounded persistence for extraction results with
// interchangeable backends.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metalink-dev/metalink/internal/metalink"
)

// ErrStoreClosed is returned by every store operation after Close.
var ErrStoreClosed = errors.New("cache store is closed")

// ErrCorruptEntry wraps decode failures so callers can recognize corruption.
var ErrCorruptEntry = errors.New("corrupt cache entry")

// EncodeEntry serializes an entry to its JSON wire form.
func EncodeEntry(entry metalink.CacheEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return data, nil
}

// DecodeEntry parses and validates the entry JSON. Unknown kinds and wrong
// field types are decode errors, not best-effort defaults.
func DecodeEntry(data []byte) (*metalink.CacheEntry, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrCorruptEntry, err)
	}

	var kind metalink.CacheEntryKind
	if err := json.Unmarshal(raw["kind"], &kind); err != nil {
		return nil, fmt.Errorf("%w: bad kind field: %v", ErrCorruptEntry, err)
	}
	switch kind {
	case metalink.EntryKindLinkMetadata, metalink.EntryKindExtractionResult:
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrCorruptEntry, kind)
	}

	var createdAtMs, ttlMs int64
	if err := json.Unmarshal(raw["createdAtMs"], &createdAtMs); err != nil {
		return nil, fmt.Errorf("%w: bad createdAtMs field: %v", ErrCorruptEntry, err)
	}
	if err := json.Unmarshal(raw["ttlMs"], &ttlMs); err != nil {
		return nil, fmt.Errorf("%w: bad ttlMs field: %v", ErrCorruptEntry, err)
	}

	payload, ok := raw["payload"]
	if !ok || len(bytes.TrimSpace(payload)) == 0 || bytes.TrimSpace(payload)[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not an object", ErrCorruptEntry)
	}

	return &metalink.CacheEntry{
		Kind:        kind,
		CreatedAtMs: createdAtMs,
		TTLMs:       ttlMs,
		Payload:     payload,
	}, nil
}

// effectiveTTL resolves the TTL sentinel: a non-positive TTLMs means the
// store default applies. Expiry is always enforced, never "infinite".
func effectiveTTL(entry metalink.CacheEntry, defaultTTL time.Duration) time.Duration {
	if entry.TTLMs > 0 {
		return time.Duration(entry.TTLMs) * time.Millisecond
	}
	return defaultTTL
}

// isExpired reports whether the entry has outlived its effective TTL at now.
func isExpired(entry metalink.CacheEntry, defaultTTL time.Duration, now time.Time) bool {
	created := time.UnixMilli(entry.CreatedAtMs)
	return now.After(created.Add(effectiveTTL(entry, defaultTTL)))
}

// normalizeTTL applies the store default to the sentinel at write time, so a
// read-back immediately reports the TTL actually in force.
func normalizeTTL(entry metalink.CacheEntry, defaultTTL time.Duration) metalink.CacheEntry {
	if entry.TTLMs <= 0 {
		entry.TTLMs = defaultTTL.Milliseconds()
	}
	return entry
}

// copyEntry returns a detached copy so stores never hand out their own
// backing storage.
func copyEntry(entry metalink.CacheEntry) *metalink.CacheEntry {
	out := entry
	if entry.Payload != nil {
		out.Payload = append(json.RawMessage(nil), entry.Payload...)
	}
	return &out
}
