package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/metalink-dev/metalink/internal/metalink"
)

// TwitterStage reads twitter:* card tags. Publishers set them via either the
// name or the property attribute, so both are accepted.
type TwitterStage struct{}

func (TwitterStage) Name() string { return "twitter" }

func (TwitterStage) Extract(c *Context) {
	var img *metalink.ImageMeta
	flushImage := func() {
		if img != nil {
			c.AddImage(*img, metalink.SourceTwitter, 0.7, "twitter:image")
			img = nil
		}
	}

	c.Doc().Find("meta[name][content], meta[property][content]").Each(func(_ int, s *goquery.Selection) {
		key := strings.ToLower(strings.TrimSpace(s.AttrOr("name", "")))
		if key == "" {
			key = strings.ToLower(strings.TrimSpace(s.AttrOr("property", "")))
		}
		if !strings.HasPrefix(key, "twitter:") {
			return
		}
		content := s.AttrOr("content", "")
		switch key {
		case "twitter:title":
			c.AddTitle(content, metalink.SourceTwitter, 0.7, key)
		case "twitter:description":
			c.AddDescription(content, metalink.SourceTwitter, 0.7, key)
		case "twitter:image", "twitter:image:src":
			flushImage()
			img = &metalink.ImageMeta{URL: content}
		case "twitter:image:alt":
			if img != nil {
				img.Alt = content
			}
		case "twitter:site":
			c.AddSiteName(strings.TrimPrefix(strings.TrimSpace(content), "@"),
				metalink.SourceTwitter, 0.5, key)
		}
	})
	flushImage()
}
