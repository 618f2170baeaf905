package extract

import (
	"github.com/metalink-dev/metalink/internal/metalink"
)

// HTMLTagsStage falls back to plain document structure: the <title> element
// and, weaker still, the first <h1>. The <base href> element is honored by
// the pipeline before any stage runs so URL-valued adds resolve correctly.
type HTMLTagsStage struct{}

func (HTMLTagsStage) Name() string { return "htmlTags" }

func (HTMLTagsStage) Extract(c *Context) {
	if title := c.Doc().Find("title").First().Text(); title != "" {
		c.AddTitle(title, metalink.SourceHTML, 0.4, "title tag")
	}
	if h1 := c.Doc().Find("h1").First().Text(); h1 != "" {
		c.AddTitle(h1, metalink.SourceHTML, 0.2, "first h1")
	}
}
