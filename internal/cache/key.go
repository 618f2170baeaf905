package cache

import (
	"fmt"
	"net/url"

	"github.com/metalink-dev/metalink/internal/metalink"
	"github.com/metalink-dev/metalink/internal/urlx"
)

// DefaultKeyPrefix namespaces metalink keys inside a shared backend.
const DefaultKeyPrefix = "metalink:"

// KeyBuilder derives fixed-length, opaque cache keys. Hashing sidesteps
// backend key-length and character restrictions.
type KeyBuilder struct {
	prefix string
	hasher metalink.Hasher
}

// NewKeyBuilder constructs a KeyBuilder. An empty prefix selects the
// default.
func NewKeyBuilder(prefix string, hasher metalink.Hasher) *KeyBuilder {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &KeyBuilder{prefix: prefix, hasher: hasher}
}

// Prefix returns the configured key prefix.
func (b *KeyBuilder) Prefix() string {
	return b.prefix
}

// ForURL builds the key for a URL plus the option fingerprint that shapes
// its extraction output. Two URLs differing only in case or default port
// produce the same key.
func (b *KeyBuilder) ForURL(u *url.URL, fingerprint string) (string, error) {
	return b.ForString(urlx.NormalizeForCacheKey(u) + "|" + fingerprint)
}

// ForString hashes an arbitrary canonical string into a prefixed key.
func (b *KeyBuilder) ForString(s string) (string, error) {
	digest, err := b.hasher.Hash([]byte(s))
	if err != nil {
		return "", fmt.Errorf("hash cache key: %w", err)
	}
	return b.prefix + digest, nil
}
