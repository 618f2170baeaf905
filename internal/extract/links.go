package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/metalink-dev/metalink/internal/metalink"
)

// LinkStage reads <link> relations: the canonical URL, icon declarations,
// and the discovery links for oEmbed and web-app-manifest enrichment.
type LinkStage struct{}

func (LinkStage) Name() string { return "links" }

func (LinkStage) Extract(c *Context) {
	c.Doc().Find("link[rel][href]").Each(func(_ int, s *goquery.Selection) {
		rel := strings.ToLower(collapseSpace(s.AttrOr("rel", "")))
		href := s.AttrOr("href", "")
		switch rel {
		case "canonical":
			c.AddCanonicalURL(href, metalink.SourceLink, 0.9, "link rel=canonical")
		case "icon", "shortcut icon":
			c.AddIcon(iconFrom(s, href), metalink.SourceLink, 0.6, iconEvidence(rel, s))
		case "apple-touch-icon", "apple-touch-icon-precomposed":
			c.AddIcon(iconFrom(s, href), metalink.SourceLink, 0.7, iconEvidence(rel, s))
		case "alternate":
			if isOEmbedType(s.AttrOr("type", "")) {
				c.SetOEmbedEndpoint(href)
			}
		case "manifest":
			c.SetManifestURL(href)
		}
	})
}

func iconFrom(s *goquery.Selection, href string) metalink.IconMeta {
	return metalink.IconMeta{
		URL:      href,
		Sizes:    strings.TrimSpace(s.AttrOr("sizes", "")),
		MimeType: strings.TrimSpace(s.AttrOr("type", "")),
	}
}

func iconEvidence(rel string, s *goquery.Selection) string {
	if sizes := strings.TrimSpace(s.AttrOr("sizes", "")); sizes != "" {
		return rel + " " + sizes
	}
	return rel
}

func isOEmbedType(mediaType string) bool {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	return mediaType == "application/json+oembed" || mediaType == "text/json+oembed"
}
