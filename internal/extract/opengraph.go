package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/metalink-dev/metalink/internal/metalink"
)

// OpenGraphStage reads og:* and article:* meta properties. Structured media
// properties (og:image:width etc.) amend the most recently opened media
// candidate, matching how the protocol interleaves them in document order.
type OpenGraphStage struct{}

func (OpenGraphStage) Name() string { return "opengraph" }

func (OpenGraphStage) Extract(c *Context) {
	var img *metalink.ImageMeta
	var vid, aud *metalink.MediaMeta

	flushImage := func() {
		if img != nil {
			c.AddImage(*img, metalink.SourceOpenGraph, 0.9, "og:image")
			img = nil
		}
	}
	flushVideo := func() {
		if vid != nil {
			c.AddVideo(*vid, metalink.SourceOpenGraph, 0.8, "og:video")
			vid = nil
		}
	}
	flushAudio := func() {
		if aud != nil {
			c.AddAudio(*aud, metalink.SourceOpenGraph, 0.8, "og:audio")
			aud = nil
		}
	}

	c.Doc().Find("meta[property][content]").Each(func(_ int, s *goquery.Selection) {
		prop := strings.ToLower(strings.TrimSpace(s.AttrOr("property", "")))
		content := s.AttrOr("content", "")
		switch prop {
		case "og:title":
			c.AddTitle(content, metalink.SourceOpenGraph, 0.9, prop)
		case "og:description":
			c.AddDescription(content, metalink.SourceOpenGraph, 0.9, prop)
		case "og:site_name":
			c.AddSiteName(content, metalink.SourceOpenGraph, 0.9, prop)
		case "og:locale":
			c.AddLocale(content, metalink.SourceOpenGraph, 0.8, prop)
		case "og:type":
			c.AddKind(mapOGType(content), metalink.SourceOpenGraph, 0.8, prop+"="+content)
		case "og:image", "og:image:url", "og:image:secure_url":
			flushImage()
			img = &metalink.ImageMeta{URL: content}
		case "og:image:width":
			if img != nil {
				img.Width = atoi(content)
			}
		case "og:image:height":
			if img != nil {
				img.Height = atoi(content)
			}
		case "og:image:alt":
			if img != nil {
				img.Alt = content
			}
		case "og:image:type":
			if img != nil {
				img.MimeType = content
			}
		case "og:video", "og:video:url", "og:video:secure_url":
			flushVideo()
			vid = &metalink.MediaMeta{URL: content}
		case "og:video:width":
			if vid != nil {
				vid.Width = atoi(content)
			}
		case "og:video:height":
			if vid != nil {
				vid.Height = atoi(content)
			}
		case "og:video:type":
			if vid != nil {
				vid.MimeType = content
			}
		case "og:audio", "og:audio:url", "og:audio:secure_url":
			flushAudio()
			aud = &metalink.MediaMeta{URL: content}
		case "og:audio:type":
			if aud != nil {
				aud.MimeType = content
			}
		case "article:published_time":
			c.AddPublishedAt(content, metalink.SourceOpenGraph, 0.8, prop)
		case "article:modified_time":
			c.AddModifiedAt(content, metalink.SourceOpenGraph, 0.8, prop)
		case "article:author":
			c.AddAuthor(content, metalink.SourceOpenGraph, 0.7, prop)
		case "article:tag":
			c.AddKeyword(content, metalink.SourceOpenGraph, 0.6, prop)
		}
	})
	flushImage()
	flushVideo()
	flushAudio()
}

// mapOGType maps an og:type value to a content kind. Namespaced values like
// "video.movie" map by prefix; anything unrecognized is a plain website.
func mapOGType(v string) metalink.ContentKind {
	v = strings.ToLower(strings.TrimSpace(v))
	if i := strings.Index(v, "."); i >= 0 {
		v = v[:i]
	}
	switch v {
	case "article":
		return metalink.KindArticle
	case "video":
		return metalink.KindVideo
	case "music", "audio":
		return metalink.KindAudio
	case "image":
		return metalink.KindImage
	case "profile":
		return metalink.KindProfile
	case "book":
		return metalink.KindBook
	default:
		return metalink.KindWebsite
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
