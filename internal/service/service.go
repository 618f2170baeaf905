// Package service sequences one extraction request: cache probe, fetch,
// parse, pipeline, cache write-back. It also runs batches over a bounded
// worker pool.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/metalink-dev/metalink/internal/cache"
	"github.com/metalink-dev/metalink/internal/clock/system"
	"github.com/metalink-dev/metalink/internal/extract"
	"github.com/metalink-dev/metalink/internal/fetch"
	"github.com/metalink-dev/metalink/internal/hash/sha256"
	"github.com/metalink-dev/metalink/internal/metalink"
	"github.com/metalink-dev/metalink/internal/metrics"
	"github.com/metalink-dev/metalink/internal/urlx"
)

// ErrServiceClosed is returned (wrapped on the result record) once Close ran.
var ErrServiceClosed = errors.New("service closed")

// Config wires a Service. Injected resources are caller-owned and never
// closed here unless the matching Own flag is set; resources the service
// creates itself are always owned.
type Config struct {
	// Fetcher is the raw transport. When nil an HTTP fetcher is created and
	// owned by the service.
	Fetcher    metalink.Fetcher
	OwnFetcher bool

	// Store enables caching; nil disables it entirely.
	Store    metalink.CacheStore
	OwnStore bool

	Logger *zap.Logger
	Clock  metalink.Clock
	Hasher metalink.Hasher
}

// Service is the per-request orchestrator. Safe for concurrent use.
type Service struct {
	client      *fetch.Client
	fetcher     metalink.Fetcher
	ownsFetcher bool
	store       metalink.CacheStore
	ownsStore   bool
	keys        *cache.KeyBuilder
	pipeline    *extract.Pipeline
	clock       metalink.Clock
	logger      *zap.Logger

	closed atomic.Bool
}

// New constructs a Service.
func New(cfg Config) *Service {
	metrics.Init()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = system.New()
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = sha256.New()
	}
	fetcher := cfg.Fetcher
	owns := cfg.OwnFetcher
	if fetcher == nil {
		fetcher = fetch.NewHTTPFetcher(fetch.FetcherConfig{}, logger)
		owns = true
	}
	return &Service{
		client:      fetch.NewClient(fetcher, logger),
		fetcher:     fetcher,
		ownsFetcher: owns,
		store:       cfg.Store,
		ownsStore:   cfg.OwnStore,
		keys:        cache.NewKeyBuilder(cache.DefaultKeyPrefix, hasher),
		pipeline:    extract.New(extract.Config{Fetcher: fetcher, Logger: logger}),
		clock:       clk,
		logger:      logger,
	}
}

// Extract runs the full single-request chain. It never panics and never
// returns an absent record: fatal failures ride on the output's Errors.
func (s *Service) Extract(ctx context.Context, rawURL string, opts metalink.Options) metalink.PipelineOutput {
	if s.closed.Load() {
		return fatalOutput(rawURL, metalink.NewError(metalink.ErrUnknown, "service closed", ErrServiceClosed))
	}
	opts = opts.Normalized()

	u, err := urlx.ParseLoose(rawURL)
	if err != nil {
		metrics.ObserveExtraction("error")
		return fatalOutput(rawURL, metalink.NewError(metalink.ErrInvalidURL, err.Error(), err))
	}

	var warnings []metalink.Warning
	key := ""
	if s.store != nil {
		if opts.BypassCache {
			metrics.ObserveCacheEvent("bypass")
			warnings = append(warnings, metalink.Warning{
				Kind:    metalink.WarnCacheBypassed,
				Message: "cache bypassed by request option",
			})
		} else {
			key, warnings = s.buildKey(u, opts, warnings)
			if key != "" {
				out, hit, warn := s.probeCache(ctx, key)
				if hit {
					metrics.ObserveExtraction("cache_hit")
					return out
				}
				if warn != nil {
					warnings = append(warnings, *warn)
				}
			}
		}
	}

	fres := s.client.Fetch(ctx, rawURL, opts)
	metrics.ObserveFetch(fres.Elapsed)
	warnings = append(warnings, fetchWarnings(fres)...)

	var doc *goquery.Document
	fatal := fres.Err
	if fatal == nil {
		doc, err = goquery.NewDocumentFromReader(strings.NewReader(fres.Text))
		if err != nil {
			fatal = metalink.NewError(metalink.ErrParse, fmt.Sprintf("parse html: %v", err), err)
		}
	}

	out := s.pipeline.Run(ctx, extract.Input{
		Document:    doc,
		OriginalURL: rawURL,
		FinalURL:    fres.FinalURL,
		Options:     opts,
	})
	out.Warnings = append(warnings, out.Warnings...)
	if fatal != nil {
		out.Errors = append(out.Errors, *fatal)
		metrics.ObserveExtraction("error")
	} else {
		metrics.ObserveExtraction("ok")
	}

	if fatal == nil && key != "" {
		if werr := s.writeCache(ctx, key, out, opts); werr != nil {
			metrics.ObserveCacheEvent("write_failed")
			s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(werr))
			out.Warnings = append(out.Warnings, metalink.Warning{
				Kind:    metalink.WarnCacheWriteFailed,
				Message: werr.Error(),
			})
		}
	}
	return out
}

// ExtractBatch runs urls through a bounded worker pool. Results match input
// order regardless of completion order. Concurrency below 1 is a programmer
// error and panics.
func (s *Service) ExtractBatch(ctx context.Context, urls []string, opts metalink.Options, concurrency int) []metalink.PipelineOutput {
	if concurrency < 1 {
		panic(fmt.Sprintf("service: batch concurrency must be >= 1, got %d", concurrency))
	}
	results := make([]metalink.PipelineOutput, len(urls))
	if len(urls) == 0 {
		return results
	}
	workers := concurrency
	if workers > len(urls) {
		workers = len(urls)
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.IncBatchWorkers()
			defer metrics.DecBatchWorkers()
			for {
				i := int(next.Add(1)) - 1
				if i >= len(urls) {
					return
				}
				results[i] = s.Extract(ctx, urls[i], opts)
			}
		}()
	}
	wg.Wait()
	return results
}

// Close releases owned resources. Idempotent and best-effort: one close
// failure does not prevent closing the rest.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if s.ownsFetcher {
		if err := s.fetcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fetcher: %w", err))
		}
	}
	if s.ownsStore && s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// buildKey derives the request's cache key. Key-building failures degrade to
// a read-failed warning and an empty key, which disables the write-back too.
func (s *Service) buildKey(u *url.URL, opts metalink.Options, warnings []metalink.Warning) (string, []metalink.Warning) {
	key, err := s.keys.ForURL(u, opts.Fingerprint())
	if err != nil {
		metrics.ObserveCacheEvent("read_failed")
		warnings = append(warnings, metalink.Warning{
			Kind:    metalink.WarnCacheReadFailed,
			Message: fmt.Sprintf("build cache key: %v", err),
		})
		return "", warnings
	}
	return key, warnings
}

// probeCache reads and decodes a cached output. Read and decode failures
// degrade to a miss carrying a warning; the request proceeds to fetch.
func (s *Service) probeCache(ctx context.Context, key string) (metalink.PipelineOutput, bool, *metalink.Warning) {
	entry, err := s.store.Read(ctx, key)
	if err != nil {
		metrics.ObserveCacheEvent("read_failed")
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return metalink.PipelineOutput{}, false, &metalink.Warning{
			Kind:    metalink.WarnCacheReadFailed,
			Message: err.Error(),
		}
	}
	if entry == nil {
		metrics.ObserveCacheEvent("miss")
		return metalink.PipelineOutput{}, false, nil
	}
	var out metalink.PipelineOutput
	if err := json.Unmarshal(entry.Payload, &out); err != nil {
		metrics.ObserveCacheEvent("read_failed")
		s.logger.Warn("cache payload decode failed", zap.String("key", key), zap.Error(err))
		return metalink.PipelineOutput{}, false, &metalink.Warning{
			Kind:    metalink.WarnCacheReadFailed,
			Message: fmt.Sprintf("decode cached payload: %v", err),
		}
	}
	metrics.ObserveCacheEvent("hit")
	out.CacheHit = true
	return out, true, nil
}

func (s *Service) writeCache(ctx context.Context, key string, out metalink.PipelineOutput, opts metalink.Options) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	entry := metalink.CacheEntry{
		Kind:        metalink.EntryKindExtractionResult,
		CreatedAtMs: s.clock.Now().UnixMilli(),
		TTLMs:       opts.CacheTTL.Milliseconds(),
		Payload:     payload,
	}
	return s.store.Write(ctx, key, entry)
}

// fetchWarnings derives the non-fatal diagnostics a fetch result carries.
func fetchWarnings(fres *metalink.HTMLFetchResult) []metalink.Warning {
	var warnings []metalink.Warning
	if fres.Truncated {
		warnings = append(warnings, metalink.Warning{
			Kind:    metalink.WarnTruncatedHTML,
			Message: "body exceeded the byte budget and was truncated",
		})
	}
	if fres.CharsetSource == metalink.CharsetFromFallback && len(fres.Body) > 0 {
		warnings = append(warnings, metalink.Warning{
			Kind:    metalink.WarnCharsetFallback,
			Message: "no charset detected, decoded as utf-8 with replacement",
		})
	}
	if fres.Err != nil {
		if errors.Is(fres.Err, fetch.ErrTooManyRedirects) || errors.Is(fres.Err, fetch.ErrRedirectLoop) {
			warnings = append(warnings, metalink.Warning{
				Kind:    metalink.WarnRedirectedTooMuch,
				Message: fres.Err.Message,
			})
		}
		if fres.Err.Kind == metalink.ErrNonHTMLContent {
			warnings = append(warnings, metalink.Warning{
				Kind:    metalink.WarnNonHTMLResponse,
				Message: fres.Err.Message,
			})
		}
	}
	return warnings
}

func fatalOutput(rawURL string, ferr *metalink.Error) metalink.PipelineOutput {
	return metalink.PipelineOutput{
		Metadata:   metalink.NewLinkMetadata(rawURL),
		Provenance: map[metalink.Field]metalink.Provenance{},
		Warnings:   []metalink.Warning{},
		Errors:     []metalink.Error{*ferr},
	}
}
