package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/metalink-dev/metalink/internal/metalink"
	"github.com/metalink-dev/metalink/internal/urlx"
)

// imageScanLimit bounds how many body images join the candidate pool; the
// per-request image cap still applies at merge time.
const imageScanLimit = 8

// ImageStage scans body <img> elements in document order as low-confidence
// image candidates. Inline data URIs and 1x1 tracking pixels are skipped.
type ImageStage struct{}

func (ImageStage) Name() string { return "images" }

func (ImageStage) Extract(c *Context) {
	added := 0
	c.Doc().Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		width := atoi(s.AttrOr("width", ""))
		height := atoi(s.AttrOr("height", ""))
		if width == 1 && height == 1 {
			return true
		}
		if urlx.Resolve(c.Base(), src) == nil {
			return true
		}
		alt := s.AttrOr("alt", "")
		c.AddImage(metalink.ImageMeta{URL: src, Width: width, Height: height, Alt: alt},
			metalink.SourceBody, 0.3, collapseSpace(alt))
		added++
		return added < imageScanLimit
	})
}
