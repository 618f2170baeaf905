// Package urlx resolves and normalizes URLs for fetching and cache keying.
package urlx

import (
	"fmt"
	"net/url"
	"strings"
)

// Schemes that can never be fetched. Rejected everywhere, including inside
// extracted candidates.
var nonFetchableSchemes = map[string]struct{}{
	"mailto":     {},
	"tel":        {},
	"sms":        {},
	"javascript": {},
	"data":       {},
	"file":       {},
	"ftp":        {},
	"about":      {},
	"chrome":     {},
	"blob":       {},
}

// ParseLoose parses free-form user input into an absolute HTTP(S) URL.
// Scheme-less input like "example.com/page" is given an http scheme.
func ParseLoose(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty url")
	}
	if strings.HasPrefix(raw, "//") {
		raw = "http:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme == "" {
		u, err = url.Parse("http://" + raw)
		if err != nil {
			return nil, fmt.Errorf("parse url %q: %w", raw, err)
		}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	u.Fragment = ""
	return u, nil
}

// Resolve turns a raw reference into an absolute HTTP(S) URL against base.
// It returns nil for empty input, fragment-only input, and non-fetchable
// schemes. base may be nil, in which case only absolute input resolves.
func Resolve(base *url.URL, raw string) *url.URL {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return nil
	}
	if scheme, ok := leadingScheme(raw); ok {
		if _, blocked := nonFetchableSchemes[scheme]; blocked {
			return nil
		}
		if scheme != "http" && scheme != "https" {
			return nil
		}
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	var u *url.URL
	switch {
	case ref.IsAbs():
		u = ref
	case base != nil:
		u = base.ResolveReference(ref)
	default:
		return nil
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil
	}
	if u.Host == "" {
		return nil
	}
	u.Fragment = ""
	return u
}

// ResolveAll maps raw references through Resolve, silently dropping every
// entry that does not resolve.
func ResolveAll(base *url.URL, raws []string) []*url.URL {
	out := make([]*url.URL, 0, len(raws))
	for _, raw := range raws {
		if u := Resolve(base, raw); u != nil {
			out = append(out, u)
		}
	}
	return out
}

// NormalizeForRequest standardizes a URL for fetching and comparison: the
// scheme and host are lowercased, default ports stripped, an empty path
// coerced to "/", and the fragment dropped. Two URLs differing only in case
// or default port normalize identically; redirect-loop detection and cache
// keys depend on that.
func NormalizeForRequest(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	if c.Scheme == "http" {
		c.Host = strings.TrimSuffix(c.Host, ":80")
	}
	if c.Scheme == "https" {
		c.Host = strings.TrimSuffix(c.Host, ":443")
	}
	if c.Path == "" {
		c.Path = "/"
	}
	c.Fragment = ""
	return c.String()
}

// NormalizeForCacheKey is the canonical string hashed into a cache key.
func NormalizeForCacheKey(u *url.URL) string {
	return NormalizeForRequest(u)
}

// ApplyProxy rewrites target through a proxy template. "{urlEncoded}" is
// replaced with the query-escaped target, "{url}" with the target verbatim;
// a template with neither placeholder is used as a prefix.
func ApplyProxy(target, template string) string {
	if template == "" {
		return target
	}
	switch {
	case strings.Contains(template, "{urlEncoded}"):
		return strings.ReplaceAll(template, "{urlEncoded}", url.QueryEscape(target))
	case strings.Contains(template, "{url}"):
		return strings.ReplaceAll(template, "{url}", target)
	default:
		return template + target
	}
}

// leadingScheme reports the scheme prefix of raw, if any. "//host" and
// relative paths have none.
func leadingScheme(raw string) (string, bool) {
	idx := strings.Index(raw, ":")
	if idx <= 0 {
		return "", false
	}
	scheme := raw[:idx]
	for _, r := range scheme {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9', r == '+', r == '-', r == '.':
		default:
			return "", false
		}
	}
	first := scheme[0]
	if (first < 'a' || first > 'z') && (first < 'A' || first > 'Z') {
		return "", false
	}
	return strings.ToLower(scheme), true
}
