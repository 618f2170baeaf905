package extract

import (
	"encoding/json"

	"github.com/PuerkitoBio/goquery"

	"github.com/metalink-dev/metalink/internal/metalink"
)

// JSONLDStage parses <script type="application/ld+json"> blocks. Each block
// becomes one structured-data graph candidate, scored by document order so
// the first graph wins; recognized node properties also feed the scalar
// field pools. Malformed blocks are skipped silently.
type JSONLDStage struct{}

func (JSONLDStage) Name() string { return "jsonld" }

func (JSONLDStage) Extract(c *Context) {
	c.Doc().Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return
		}
		graph := flattenGraph(data)
		if len(graph) == 0 {
			return
		}
		score := 1.0 - 0.05*float64(i)
		if score < 0.1 {
			score = 0.1
		}
		c.AddStructured(graph, metalink.SourceJSONLD, score, "ld+json block")

		for _, node := range graph {
			obj, ok := node.(map[string]any)
			if !ok {
				continue
			}
			c.AddTitle(stringProp(obj, "headline"), metalink.SourceJSONLD, 0.6, "jsonld headline")
			c.AddDescription(stringProp(obj, "description"), metalink.SourceJSONLD, 0.6, "jsonld description")
			c.AddPublishedAt(stringProp(obj, "datePublished"), metalink.SourceJSONLD, 0.7, "jsonld datePublished")
			c.AddModifiedAt(stringProp(obj, "dateModified"), metalink.SourceJSONLD, 0.7, "jsonld dateModified")
			if author := nameOf(obj["author"]); author != "" {
				c.AddAuthor(author, metalink.SourceJSONLD, 0.6, "jsonld author")
			}
			if publisher := nameOf(obj["publisher"]); publisher != "" {
				c.AddSiteName(publisher, metalink.SourceJSONLD, 0.6, "jsonld publisher")
			}
			for _, img := range imageURLs(obj["image"]) {
				c.AddImage(metalink.ImageMeta{URL: img}, metalink.SourceJSONLD, 0.6, "jsonld image")
			}
		}
	})
}

// flattenGraph normalizes a JSON-LD document to a flat node list: a bare
// object is a one-node graph, a top-level array is taken as-is, and an
// @graph container is unwrapped.
func flattenGraph(data any) []any {
	switch v := data.(type) {
	case []any:
		return v
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			return graph
		}
		return []any{v}
	default:
		return nil
	}
}

func stringProp(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// nameOf extracts a display name from the polymorphic author/publisher
// shapes: a bare string, an object with "name", or an array of either.
func nameOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return stringProp(t, "name")
	case []any:
		for _, item := range t {
			if name := nameOf(item); name != "" {
				return name
			}
		}
	}
	return ""
}

// imageURLs extracts URLs from the polymorphic image shapes: a bare string,
// an ImageObject with "url", or an array of either.
func imageURLs(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case map[string]any:
		if u := stringProp(t, "url"); u != "" {
			return []string{u}
		}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, imageURLs(item)...)
		}
		return out
	}
	return nil
}
