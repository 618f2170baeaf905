package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/metalink-dev/metalink/internal/config"
	"github.com/metalink-dev/metalink/internal/metalink"
	"github.com/metalink-dev/metalink/internal/metrics"
)

// Extractor is the subset of the extraction service the API consumes.
type Extractor interface {
	Extract(ctx context.Context, url string, opts metalink.Options) metalink.PipelineOutput
	ExtractBatch(ctx context.Context, urls []string, opts metalink.Options, concurrency int) []metalink.PipelineOutput
}

// Server wires HTTP handlers to the extraction service.
type Server struct {
	router chi.Router
	svc    Extractor
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Extractor, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{svc: svc, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/extract", s.extract)
		r.Post("/extract/batch", s.extractBatch)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

// requestOptions is the wire form of extraction options. Durations cross the
// wire as milliseconds.
type requestOptions struct {
	metalink.Options
	TimeoutMs  int64 `json:"timeout_ms,omitempty"`
	CacheTTLMs int64 `json:"cache_ttl_ms,omitempty"`
}

type extractRequest struct {
	URL     string          `json:"url"`
	Options *requestOptions `json:"options"`
}

type batchRequest struct {
	URLs        []string        `json:"urls"`
	Options     *requestOptions `json:"options"`
	Concurrency int             `json:"concurrency"`
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(s.logger, w, http.StatusBadRequest, "url required")
		return
	}
	out := s.svc.Extract(r.Context(), req.URL, s.buildOptions(req.Options))
	writeJSON(s.logger, w, http.StatusOK, out)
}

func (s *Server) extractBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(s.logger, w, http.StatusBadRequest, "urls required")
		return
	}
	if max := s.cfg.Batch.MaxURLs; max > 0 && len(req.URLs) > max {
		writeError(s.logger, w, http.StatusBadRequest,
			fmt.Sprintf("at most %d urls per batch", max))
		return
	}
	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = s.cfg.Batch.DefaultConcurrency
	}
	if concurrency < 1 || concurrency > s.cfg.Batch.MaxConcurrency {
		writeError(s.logger, w, http.StatusBadRequest,
			fmt.Sprintf("concurrency must be between 1 and %d", s.cfg.Batch.MaxConcurrency))
		return
	}
	results := s.svc.ExtractBatch(r.Context(), req.URLs, s.buildOptions(req.Options), concurrency)
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"results": results})
}

// buildOptions layers request options over the configured server defaults.
func (s *Server) buildOptions(ro *requestOptions) metalink.Options {
	var opts metalink.Options
	if ro != nil {
		opts = ro.Options
		if ro.TimeoutMs > 0 {
			opts.Timeout = time.Duration(ro.TimeoutMs) * time.Millisecond
		}
		if ro.CacheTTLMs > 0 {
			opts.CacheTTL = time.Duration(ro.CacheTTLMs) * time.Millisecond
		}
	}
	ext := s.cfg.Extract
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = ext.MaxRedirects
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = ext.MaxBodyBytes
	}
	if opts.Timeout == 0 {
		opts.Timeout = s.cfg.ExtractTimeout()
	}
	if opts.StopAfterHead == nil {
		v := ext.StopAfterHead
		opts.StopAfterHead = &v
	}
	opts.EnableOEmbed = opts.EnableOEmbed || ext.EnableOEmbed
	opts.EnableManifest = opts.EnableManifest || ext.EnableManifest
	if opts.MaxImages == nil {
		opts.MaxImages = intPtr(ext.MaxImages)
	}
	if opts.MaxIcons == nil {
		opts.MaxIcons = intPtr(ext.MaxIcons)
	}
	if opts.MaxVideos == nil {
		opts.MaxVideos = intPtr(ext.MaxVideos)
	}
	if opts.MaxAudios == nil {
		opts.MaxAudios = intPtr(ext.MaxAudios)
	}
	if opts.MaxKeywords == nil {
		opts.MaxKeywords = intPtr(ext.MaxKeywords)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = ext.UserAgent
	}
	if opts.ProxyTemplate == "" {
		opts.ProxyTemplate = ext.ProxyTemplate
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = s.cfg.CacheTTL()
	}
	return opts
}

func intPtr(v int) *int {
	return &v
}
