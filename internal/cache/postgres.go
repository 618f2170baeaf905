package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/metalink-dev/metalink/internal/clock/system"
	"github.com/metalink-dev/metalink/internal/metalink"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultPostgresTTL bounds entries whose TTL sentinel defers to the store.
const DefaultPostgresTTL = 24 * time.Hour

// PgxPool is the subset of pgxpool.Pool the store needs; pgxmock satisfies
// it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStoreConfig controls the durable key-value backend.
type PostgresStoreConfig struct {
	DSN             string
	Table           string
	KeyPrefix       string
	DefaultTTL      time.Duration
	MaxConns        int32
	MaxConnLifetime time.Duration
	Clock           metalink.Clock
	Logger          *zap.Logger
}

// PostgresStore persists cache entries as JSON under prefixed keys in a
// Postgres table. Clear and PurgeExpired only touch keys carrying the
// configured prefix, so one store can share a table with unrelated data.
type PostgresStore struct {
	pool       PgxPool
	table      string
	prefix     string
	defaultTTL time.Duration
	clock      metalink.Clock
	logger     *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewPostgresStore connects a pool and constructs a store.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("cache.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgresStoreWithPool(pool, cfg)
}

// NewPostgresStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewPostgresStoreWithPool(pool PgxPool, cfg PostgresStoreConfig) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table := cfg.Table
	if table == "" {
		table = "metalink_cache"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultPostgresTTL
	}
	clk := cfg.Clock
	if clk == nil {
		clk = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		pool:       pool,
		table:      table,
		prefix:     prefix,
		defaultTTL: ttl,
		clock:      clk,
		logger:     logger,
	}, nil
}

// EnsureSchema creates the backing table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	entry JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure cache schema: %w", err)
	}
	return nil
}

// Read fetches and validates an entry. A corrupt row is deleted and the
// decode failure surfaced so the same row cannot fail repeatedly; an expired
// row is deleted and reported as a miss.
func (s *PostgresStore) Read(ctx context.Context, key string) (*metalink.CacheEntry, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT entry FROM %s WHERE key = $1`, s.table)
	var data []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	entry, err := DecodeEntry(data)
	if err != nil {
		if delErr := s.deleteRow(ctx, key); delErr != nil {
			s.logger.Warn("delete corrupt cache entry failed",
				zap.String("key", key), zap.Error(delErr))
		}
		return nil, fmt.Errorf("cache entry %s: %w", key, err)
	}
	if isExpired(*entry, s.defaultTTL, s.clock.Now()) {
		if delErr := s.deleteRow(ctx, key); delErr != nil {
			s.logger.Warn("delete expired cache entry failed",
				zap.String("key", key), zap.Error(delErr))
		}
		return nil, nil
	}
	return entry, nil
}

// Write upserts an entry, normalizing the TTL sentinel first.
func (s *PostgresStore) Write(ctx context.Context, key string, entry metalink.CacheEntry) error {
	if err := s.guard(); err != nil {
		return err
	}
	data, err := EncodeEntry(normalizeTTL(entry, s.defaultTTL))
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, entry, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET entry = EXCLUDED.entry, updated_at = now()`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, data); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.deleteRow(ctx, key)
}

// Clear removes every entry carrying the configured key prefix.
func (s *PostgresStore) Clear(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE key LIKE $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, likePattern(s.prefix)); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// PurgeExpired bulk-deletes expired prefixed entries and reports the count.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`
DELETE FROM %s
WHERE key LIKE $1
  AND (entry->>'createdAtMs')::bigint
      + CASE WHEN (entry->>'ttlMs')::bigint > 0
             THEN (entry->>'ttlMs')::bigint
             ELSE $2::bigint END
      < $3::bigint`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		likePattern(s.prefix), s.defaultTTL.Milliseconds(), s.clock.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge expired cache entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close releases the pool. Idempotent; later operations return
// ErrStoreClosed.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}

func (s *PostgresStore) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *PostgresStore) deleteRow(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func likePattern(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}
