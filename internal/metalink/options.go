package metalink

import (
	"fmt"
	"strings"
	"time"
)

// Default option values applied by Options.Normalized.
const (
	DefaultMaxRedirects = 5
	DefaultMaxBodyBytes = 2 << 20
	DefaultTimeout      = 10 * time.Second
	DefaultMaxImages    = 8
	DefaultMaxIcons     = 8
	DefaultMaxVideos    = 4
	DefaultMaxAudios    = 4
	DefaultMaxKeywords  = 16
	DefaultUserAgent    = "metalink/1.0 (+https://github.com/metalink-dev/metalink)"
)

// Options govern one extraction request. The zero value is usable after
// Normalized fills in defaults.
type Options struct {
	MaxRedirects  int           `json:"max_redirects,omitempty"`
	MaxBodyBytes  int64         `json:"max_body_bytes,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	StopAfterHead *bool         `json:"stop_after_head,omitempty"`

	EnableOEmbed   bool `json:"enable_oembed,omitempty"`
	EnableManifest bool `json:"enable_manifest,omitempty"`

	MaxImages   *int `json:"max_images,omitempty"`
	MaxIcons    *int `json:"max_icons,omitempty"`
	MaxVideos   *int `json:"max_videos,omitempty"`
	MaxAudios   *int `json:"max_audios,omitempty"`
	MaxKeywords *int `json:"max_keywords,omitempty"`

	ProxyTemplate string `json:"proxy_template,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`

	KeepRaw     bool          `json:"keep_raw,omitempty"`
	BypassCache bool          `json:"bypass_cache,omitempty"`
	CacheTTL    time.Duration `json:"cache_ttl,omitempty"`
}

// Normalized returns a copy with every unset knob replaced by its default.
func (o Options) Normalized() Options {
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.StopAfterHead == nil {
		v := true
		o.StopAfterHead = &v
	}
	if o.MaxImages == nil {
		o.MaxImages = intPtr(DefaultMaxImages)
	}
	if o.MaxIcons == nil {
		o.MaxIcons = intPtr(DefaultMaxIcons)
	}
	if o.MaxVideos == nil {
		o.MaxVideos = intPtr(DefaultMaxVideos)
	}
	if o.MaxAudios == nil {
		o.MaxAudios = intPtr(DefaultMaxAudios)
	}
	if o.MaxKeywords == nil {
		o.MaxKeywords = intPtr(DefaultMaxKeywords)
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	return o
}

// Fingerprint canonicalizes every option that changes extraction output into
// a stable string. It feeds the cache key: two requests with equivalent
// options must produce the same fingerprint.
func (o Options) Fingerprint() string {
	n := o.Normalized()
	var b strings.Builder
	fmt.Fprintf(&b, "r=%d;b=%d;h=%t;oe=%t;mf=%t;", n.MaxRedirects, n.MaxBodyBytes, *n.StopAfterHead, n.EnableOEmbed, n.EnableManifest)
	fmt.Fprintf(&b, "im=%d;ic=%d;vd=%d;au=%d;kw=%d;", *n.MaxImages, *n.MaxIcons, *n.MaxVideos, *n.MaxAudios, *n.MaxKeywords)
	fmt.Fprintf(&b, "px=%s;raw=%t;ua=%s", n.ProxyTemplate, n.KeepRaw, n.UserAgent)
	return b.String()
}

func intPtr(v int) *int {
	return &v
}
