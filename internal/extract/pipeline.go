package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/metalink-dev/metalink/internal/metalink"
	"github.com/metalink-dev/metalink/internal/urlx"
)

// Scores for values contributed by enrichment rather than a local stage.
const (
	manifestIconScore = 0.5
	backfillScore     = 0.5
)

// Stage is one pluggable extractor. Extract side-effects only through the
// context's Add* methods and must tolerate arbitrary markup; a panic is
// caught by the pipeline and reported as a warning, never propagated.
type Stage interface {
	Name() string
	Extract(c *Context)
}

// Config wires a Pipeline.
type Config struct {
	// Fetcher serves oEmbed and manifest enrichment calls. Enrichment is
	// skipped with a warning when nil and an endpoint was discovered.
	Fetcher metalink.Fetcher
	Logger  *zap.Logger
	// Stages overrides DefaultStages; order is semantically significant
	// because merge ties resolve by insertion order.
	Stages []Stage
}

// Pipeline runs stages over a document and merges their candidates.
type Pipeline struct {
	stages  []Stage
	fetcher metalink.Fetcher
	logger  *zap.Logger
}

// DefaultStages returns the standard extractors in their canonical order.
func DefaultStages() []Stage {
	return []Stage{
		OpenGraphStage{},
		TwitterStage{},
		MetaStage{},
		HTMLTagsStage{},
		LinkStage{},
		JSONLDStage{},
		ImageStage{},
	}
}

// New constructs a Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stages := cfg.Stages
	if stages == nil {
		stages = DefaultStages()
	}
	return &Pipeline{stages: stages, fetcher: cfg.Fetcher, logger: logger}
}

// Input is one extraction run's material.
type Input struct {
	// Document may be nil when the body never parsed; the run still returns
	// an empty-but-valid record.
	Document    *goquery.Document
	OriginalURL string
	FinalURL    string
	Options     metalink.Options
}

// Run executes every stage sequentially, merges candidates, and performs
// enrichment. It always returns a renderable output, even on total failure.
func (p *Pipeline) Run(ctx context.Context, in Input) metalink.PipelineOutput {
	opts := in.Options.Normalized()
	warnings := []metalink.Warning{}

	base := documentBase(in.Document, in.FinalURL)
	c := newContext(in.Document, base, opts)

	if in.Document != nil {
		for _, stage := range p.stages {
			p.runStage(stage, c, &warnings)
		}
	}

	// Manifest icons join the candidate pool before the icon dedup/cap step.
	var manifest *metalink.Manifest
	if opts.EnableManifest && c.manifestURL != nil {
		m, err := p.fetchManifest(ctx, c.manifestURL, opts)
		if err != nil {
			warnings = append(warnings, metalink.Warning{
				Kind:    metalink.WarnManifestFailed,
				Message: fmt.Sprintf("manifest %s: %v", c.manifestURL, err),
			})
		} else {
			manifest = m
			for _, icon := range m.Icons {
				c.AddIcon(icon, metalink.SourceManifest, manifestIconScore, "manifest icon")
			}
		}
	}

	meta, prov := c.merge(in.OriginalURL, in.FinalURL)

	if manifest != nil {
		meta.Manifest = manifest
		name := firstNonEmpty(manifest.Name, manifest.ShortName)
		if meta.SiteName == "" && name != "" {
			meta.SiteName = name
			prov[metalink.FieldSiteName] = backfillProv(metalink.SourceManifest, "manifest name")
		}
		if meta.Title == "" && name != "" {
			meta.Title = name
			prov[metalink.FieldTitle] = backfillProv(metalink.SourceManifest, "manifest name")
		}
	}

	if opts.EnableOEmbed && c.oembedEndpoint != nil {
		oe, err := p.fetchOEmbed(ctx, c.oembedEndpoint, opts)
		if err != nil {
			warnings = append(warnings, metalink.Warning{
				Kind:    metalink.WarnOEmbedFailed,
				Message: fmt.Sprintf("oembed %s: %v", c.oembedEndpoint, err),
			})
		} else {
			meta.OEmbed = oe
			applyOEmbedBackfill(&meta, prov, oe, base, *opts.MaxImages)
		}
	}

	out := metalink.PipelineOutput{
		Metadata:   meta,
		Provenance: prov,
		Warnings:   warnings,
		Errors:     []metalink.Error{},
	}
	if opts.KeepRaw && in.Document != nil {
		out.Raw = collectRaw(in.Document)
	}
	return out
}

func (p *Pipeline) runStage(stage Stage, c *Context, warnings *[]metalink.Warning) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("extractor stage faulted",
				zap.String("stage", stage.Name()), zap.Any("panic", r))
			*warnings = append(*warnings, metalink.Warning{
				Kind:    metalink.WarnPartialParse,
				Stage:   stage.Name(),
				Message: fmt.Sprintf("stage faulted: %v", r),
			})
		}
	}()
	stage.Extract(c)
}

// applyOEmbedBackfill fills still-empty scalar fields and prepends the
// thumbnail to the image list. Local values are never overwritten.
func applyOEmbedBackfill(meta *metalink.LinkMetadata, prov map[metalink.Field]metalink.Provenance, oe *metalink.OEmbed, base *url.URL, maxImages int) {
	if meta.Title == "" && oe.Title != "" {
		meta.Title = collapseSpace(oe.Title)
		prov[metalink.FieldTitle] = backfillProv(metalink.SourceOEmbed, "oembed title")
	}
	if meta.Author == "" && oe.AuthorName != "" {
		meta.Author = collapseSpace(oe.AuthorName)
		prov[metalink.FieldAuthor] = backfillProv(metalink.SourceOEmbed, "oembed author_name")
	}
	if meta.SiteName == "" && oe.ProviderName != "" {
		meta.SiteName = collapseSpace(oe.ProviderName)
		prov[metalink.FieldSiteName] = backfillProv(metalink.SourceOEmbed, "oembed provider_name")
	}
	thumb := urlx.Resolve(base, oe.ThumbnailURL)
	if thumb == nil || maxImages <= 0 {
		return
	}
	merged := []metalink.ImageMeta{{URL: thumb.String(), Width: oe.Width, Height: oe.Height}}
	for _, img := range meta.Images {
		if img.URL == thumb.String() {
			continue
		}
		merged = append(merged, img)
		if len(merged) == maxImages {
			break
		}
	}
	if len(meta.Images) == 0 {
		prov[metalink.FieldImages] = backfillProv(metalink.SourceOEmbed, "oembed thumbnail")
	}
	meta.Images = merged
}

func backfillProv(src metalink.Source, evidence string) metalink.Provenance {
	return metalink.Provenance{Source: src, Score: backfillScore, Evidence: evidence}
}

// documentBase resolves the base URL for relative references: <base href>
// when present and resolvable, otherwise the final fetched URL.
func documentBase(doc *goquery.Document, finalURL string) *url.URL {
	var base *url.URL
	if finalURL != "" {
		if u, err := urlx.ParseLoose(finalURL); err == nil {
			base = u
		}
	}
	if doc == nil {
		return base
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if u := urlx.Resolve(base, href); u != nil {
			base = u
		}
	}
	return base
}

// collectRaw gathers every meta tag's name/property and content verbatim.
func collectRaw(doc *goquery.Document) map[string][]string {
	raw := make(map[string][]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key := s.AttrOr("property", "")
		if key == "" {
			key = s.AttrOr("name", "")
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return
		}
		raw[key] = append(raw[key], s.AttrOr("content", ""))
	})
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = collapseSpace(v); v != "" {
			return v
		}
	}
	return ""
}
