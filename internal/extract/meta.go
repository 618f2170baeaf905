package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/metalink-dev/metalink/internal/metalink"
)

// MetaStage reads the plain, pre-OpenGraph meta vocabulary plus the document
// language attribute.
type MetaStage struct{}

func (MetaStage) Name() string { return "meta" }

func (MetaStage) Extract(c *Context) {
	c.Doc().Find("meta[name][content]").Each(func(_ int, s *goquery.Selection) {
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", "")))
		content := s.AttrOr("content", "")
		switch name {
		case "description":
			c.AddDescription(content, metalink.SourceMeta, 0.5, "meta description")
		case "author":
			c.AddAuthor(content, metalink.SourceMeta, 0.5, "meta author")
		case "keywords":
			for _, kw := range strings.Split(content, ",") {
				c.AddKeyword(kw, metalink.SourceMeta, 0.5, "meta keywords")
			}
		}
	})

	if lang, ok := c.Doc().Find("html").First().Attr("lang"); ok {
		c.AddLocale(lang, metalink.SourceHTML, 0.4, "html lang")
	}
}
