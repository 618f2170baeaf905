// Package metalink defines core types shared across subsystems.
package metalink

import (
	"encoding/json"
	"net/http"
	"time"
)

// Source identifies which extractor proposed a candidate value.
type Source string

// Candidate sources, in rough order of typical confidence.
const (
	SourceOpenGraph Source = "opengraph"
	SourceTwitter   Source = "twitter"
	SourceMeta      Source = "meta"
	SourceHTML      Source = "html"
	SourceLink      Source = "link"
	SourceJSONLD    Source = "jsonld"
	SourceBody      Source = "body"
	SourceOEmbed    Source = "oembed"
	SourceManifest  Source = "manifest"
)

// Field names an output slot of the extraction pipeline. Used as the key of
// the provenance map.
type Field string

// Output fields tracked by provenance.
const (
	FieldTitle          Field = "title"
	FieldDescription    Field = "description"
	FieldSiteName       Field = "site_name"
	FieldLocale         Field = "locale"
	FieldContentKind    Field = "content_kind"
	FieldCanonicalURL   Field = "canonical_url"
	FieldAuthor         Field = "author"
	FieldPublishedAt    Field = "published_at"
	FieldModifiedAt     Field = "modified_at"
	FieldImages         Field = "images"
	FieldIcons          Field = "icons"
	FieldVideos         Field = "videos"
	FieldAudios         Field = "audios"
	FieldKeywords       Field = "keywords"
	FieldStructuredData Field = "structured_data"
)

// Candidate is a scored, sourced value proposed by one extractor for one
// field. Many candidates may exist per field; exactly one wins at merge time.
type Candidate[T any] struct {
	Value    T
	Source   Source
	Score    float64
	Evidence string
}

// Provenance records which source/score/evidence won for a field.
type Provenance struct {
	Source   Source  `json:"source"`
	Score    float64 `json:"score"`
	Evidence string  `json:"evidence,omitempty"`
}

// ContentKind classifies the resolved page.
type ContentKind string

// Content kinds mapped from og:type and JSON-LD @type values.
const (
	KindWebsite ContentKind = "website"
	KindArticle ContentKind = "article"
	KindVideo   ContentKind = "video"
	KindAudio   ContentKind = "audio"
	KindImage   ContentKind = "image"
	KindProfile ContentKind = "profile"
	KindBook    ContentKind = "book"
)

// ImageMeta describes one extracted image reference.
type ImageMeta struct {
	URL      string `json:"url"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Alt      string `json:"alt,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// IconMeta describes one extracted icon reference.
type IconMeta struct {
	URL      string `json:"url"`
	Sizes    string `json:"sizes,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// MediaMeta describes one extracted video or audio reference.
type MediaMeta struct {
	URL      string `json:"url"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// OEmbed holds the subset of an oEmbed provider response used for backfill.
type OEmbed struct {
	Type         string `json:"type,omitempty"`
	Title        string `json:"title,omitempty"`
	AuthorName   string `json:"author_name,omitempty"`
	AuthorURL    string `json:"author_url,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
	ProviderURL  string `json:"provider_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	HTML         string `json:"html,omitempty"`
}

// Manifest holds the subset of a web-app manifest used for backfill.
type Manifest struct {
	Name            string     `json:"name,omitempty"`
	ShortName       string     `json:"short_name,omitempty"`
	StartURL        string     `json:"start_url,omitempty"`
	ThemeColor      string     `json:"theme_color,omitempty"`
	BackgroundColor string     `json:"background_color,omitempty"`
	Icons           []IconMeta `json:"icons,omitempty"`
}

// LinkMetadata is the normalized aggregate record produced per URL.
// List fields are never nil, only empty; scalar strings are "" and timestamp
// pointers nil when no candidate existed.
type LinkMetadata struct {
	OriginalURL  string      `json:"original_url"`
	ResolvedURL  string      `json:"resolved_url,omitempty"`
	CanonicalURL string      `json:"canonical_url,omitempty"`
	Title        string      `json:"title,omitempty"`
	Description  string      `json:"description,omitempty"`
	SiteName     string      `json:"site_name,omitempty"`
	Locale       string      `json:"locale,omitempty"`
	Kind         ContentKind `json:"kind,omitempty"`
	Author       string      `json:"author,omitempty"`
	PublishedAt  *time.Time  `json:"published_at,omitempty"`
	ModifiedAt   *time.Time  `json:"modified_at,omitempty"`
	Images       []ImageMeta `json:"images"`
	Icons        []IconMeta  `json:"icons"`
	Videos       []MediaMeta `json:"videos"`
	Audios       []MediaMeta `json:"audios"`
	Keywords     []string    `json:"keywords"`
	OEmbed       *OEmbed     `json:"oembed,omitempty"`
	Manifest     *Manifest   `json:"manifest,omitempty"`
	Structured   []any       `json:"structured_data,omitempty"`
}

// NewLinkMetadata returns an always-constructible empty record so fatal
// error paths still hand callers something renderable.
func NewLinkMetadata(originalURL string) LinkMetadata {
	return LinkMetadata{
		OriginalURL: originalURL,
		Images:      []ImageMeta{},
		Icons:       []IconMeta{},
		Videos:      []MediaMeta{},
		Audios:      []MediaMeta{},
		Keywords:    []string{},
	}
}

// PipelineOutput is the result of one extraction run. Immutable after
// construction.
type PipelineOutput struct {
	Metadata   LinkMetadata         `json:"metadata"`
	Provenance map[Field]Provenance `json:"provenance"`
	Raw        map[string][]string  `json:"raw,omitempty"`
	Warnings   []Warning            `json:"warnings"`
	Errors     []Error              `json:"errors"`
	CacheHit   bool                 `json:"cache_hit,omitempty"`
}

// RedirectHop is one from -> to step in a resolved redirect chain.
type RedirectHop struct {
	From        string `json:"from"`
	To          string `json:"to"`
	StatusCode  int    `json:"status_code"`
	RawLocation string `json:"raw_location"`
}

// CharsetSource records which detection rule decided the charset.
type CharsetSource string

// Charset detection sources, in priority order.
const (
	CharsetFromBOM      CharsetSource = "bom"
	CharsetFromHeader   CharsetSource = "header"
	CharsetFromMeta     CharsetSource = "meta"
	CharsetFromFallback CharsetSource = "fallback"
)

// HTMLFetchResult captures everything one fetch call produced, including its
// failure. Created once per fetch; immutable.
type HTMLFetchResult struct {
	OriginalURL   string
	FinalURL      string
	Redirects     []RedirectHop
	StatusCode    int
	Headers       http.Header
	Body          []byte
	Text          string
	Charset       string
	CharsetSource CharsetSource
	Truncated     bool
	Elapsed       time.Duration
	Err           *Error
}

// CacheEntryKind discriminates what a cache entry's payload contains.
type CacheEntryKind string

// Recognized cache entry kinds. Anything else is a decode error.
const (
	EntryKindLinkMetadata     CacheEntryKind = "linkMetadata"
	EntryKindExtractionResult CacheEntryKind = "extractionResult"
)

// CacheEntry is the storage-agnostic cache record. TTLMs <= 0 is a sentinel
// meaning "apply the store's default TTL", never "no expiry".
type CacheEntry struct {
	Kind        CacheEntryKind  `json:"kind"`
	CreatedAtMs int64           `json:"createdAtMs"`
	TTLMs       int64           `json:"ttlMs"`
	Payload     json.RawMessage `json:"payload"`
}
