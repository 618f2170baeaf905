// Package extract runs extractor stages over a parsed document, merges their
// scored candidates into one metadata record, and performs oEmbed/manifest
// enrichment.
package extract

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/metalink-dev/metalink/internal/metalink"
	"github.com/metalink-dev/metalink/internal/urlx"
)

// Context accumulates candidates per field during one extraction run. Stages
// write through the Add* methods; the pipeline merges once all stages ran.
// One context belongs to exactly one run and is never shared across
// goroutines.
type Context struct {
	doc  *goquery.Document
	base *url.URL
	opts metalink.Options

	titles       []metalink.Candidate[string]
	descriptions []metalink.Candidate[string]
	siteNames    []metalink.Candidate[string]
	locales      []metalink.Candidate[string]
	kinds        []metalink.Candidate[metalink.ContentKind]
	canonicals   []metalink.Candidate[string]
	authors      []metalink.Candidate[string]
	published    []metalink.Candidate[time.Time]
	modified     []metalink.Candidate[time.Time]
	images       []metalink.Candidate[metalink.ImageMeta]
	icons        []metalink.Candidate[metalink.IconMeta]
	videos       []metalink.Candidate[metalink.MediaMeta]
	audios       []metalink.Candidate[metalink.MediaMeta]
	keywords     []metalink.Candidate[string]
	structured   []metalink.Candidate[[]any]

	oembedEndpoint *url.URL
	manifestURL    *url.URL
}

func newContext(doc *goquery.Document, base *url.URL, opts metalink.Options) *Context {
	return &Context{doc: doc, base: base, opts: opts}
}

// Doc is the parsed document stages query. Never nil while stages run.
func (c *Context) Doc() *goquery.Document {
	return c.doc
}

// Base is the URL relative references resolve against: the document's
// <base href> when present, otherwise the fetch's final URL.
func (c *Context) Base() *url.URL {
	return c.base
}

// Options for the current run, already normalized.
func (c *Context) Options() metalink.Options {
	return c.opts
}

func (c *Context) AddTitle(v string, src metalink.Source, score float64, evidence string) {
	if v = collapseSpace(v); v != "" {
		c.titles = append(c.titles, cand(v, src, score, evidence))
	}
}

func (c *Context) AddDescription(v string, src metalink.Source, score float64, evidence string) {
	if v = collapseSpace(v); v != "" {
		c.descriptions = append(c.descriptions, cand(v, src, score, evidence))
	}
}

func (c *Context) AddSiteName(v string, src metalink.Source, score float64, evidence string) {
	if v = collapseSpace(v); v != "" {
		c.siteNames = append(c.siteNames, cand(v, src, score, evidence))
	}
}

func (c *Context) AddLocale(v string, src metalink.Source, score float64, evidence string) {
	if v = collapseSpace(v); v != "" {
		c.locales = append(c.locales, cand(v, src, score, evidence))
	}
}

func (c *Context) AddKind(v metalink.ContentKind, src metalink.Source, score float64, evidence string) {
	if v != "" {
		c.kinds = append(c.kinds, cand(v, src, score, evidence))
	}
}

func (c *Context) AddAuthor(v string, src metalink.Source, score float64, evidence string) {
	if v = collapseSpace(v); v != "" {
		c.authors = append(c.authors, cand(v, src, score, evidence))
	}
}

func (c *Context) AddKeyword(v string, src metalink.Source, score float64, evidence string) {
	if v = collapseSpace(v); v != "" {
		c.keywords = append(c.keywords, cand(v, src, score, evidence))
	}
}

// AddCanonicalURL resolves raw against the base URL; unresolvable or
// non-HTTP(S) references are dropped.
func (c *Context) AddCanonicalURL(raw string, src metalink.Source, score float64, evidence string) {
	if u := urlx.Resolve(c.base, raw); u != nil {
		c.canonicals = append(c.canonicals, cand(u.String(), src, score, evidence))
	}
}

// AddPublishedAt parses raw as RFC 3339, falling back to a bare date.
// Unparsable values are dropped, like empty strings elsewhere.
func (c *Context) AddPublishedAt(raw string, src metalink.Source, score float64, evidence string) {
	if t, ok := parseTimestamp(raw); ok {
		c.published = append(c.published, cand(t, src, score, evidence))
	}
}

func (c *Context) AddModifiedAt(raw string, src metalink.Source, score float64, evidence string) {
	if t, ok := parseTimestamp(raw); ok {
		c.modified = append(c.modified, cand(t, src, score, evidence))
	}
}

func (c *Context) AddImage(img metalink.ImageMeta, src metalink.Source, score float64, evidence string) {
	u := urlx.Resolve(c.base, img.URL)
	if u == nil {
		return
	}
	img.URL = u.String()
	img.Alt = collapseSpace(img.Alt)
	c.images = append(c.images, cand(img, src, score, evidence))
}

func (c *Context) AddIcon(icon metalink.IconMeta, src metalink.Source, score float64, evidence string) {
	u := urlx.Resolve(c.base, icon.URL)
	if u == nil {
		return
	}
	icon.URL = u.String()
	c.icons = append(c.icons, cand(icon, src, score, evidence))
}

func (c *Context) AddVideo(media metalink.MediaMeta, src metalink.Source, score float64, evidence string) {
	u := urlx.Resolve(c.base, media.URL)
	if u == nil {
		return
	}
	media.URL = u.String()
	c.videos = append(c.videos, cand(media, src, score, evidence))
}

func (c *Context) AddAudio(media metalink.MediaMeta, src metalink.Source, score float64, evidence string) {
	u := urlx.Resolve(c.base, media.URL)
	if u == nil {
		return
	}
	media.URL = u.String()
	c.audios = append(c.audios, cand(media, src, score, evidence))
}

func (c *Context) AddStructured(graph []any, src metalink.Source, score float64, evidence string) {
	if len(graph) > 0 {
		c.structured = append(c.structured, cand(graph, src, score, evidence))
	}
}

// SetOEmbedEndpoint records the discovered oEmbed endpoint. The first
// resolvable discovery wins.
func (c *Context) SetOEmbedEndpoint(raw string) {
	if c.oembedEndpoint == nil {
		c.oembedEndpoint = urlx.Resolve(c.base, raw)
	}
}

// SetManifestURL records the discovered web-app manifest URL. The first
// resolvable discovery wins.
func (c *Context) SetManifestURL(raw string) {
	if c.manifestURL == nil {
		c.manifestURL = urlx.Resolve(c.base, raw)
	}
}

func cand[T any](v T, src metalink.Source, score float64, evidence string) metalink.Candidate[T] {
	return metalink.Candidate[T]{Value: v, Source: src, Score: score, Evidence: evidence}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}
