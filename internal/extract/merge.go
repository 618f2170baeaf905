package extract

import (
	"sort"
	"strings"

	"github.com/metalink-dev/metalink/internal/metalink"
)

// bestCandidate selects the strictly-highest-scoring candidate. Ties resolve
// to the candidate added earliest; stage order is therefore semantically
// significant.
func bestCandidate[T any](cands []metalink.Candidate[T]) (metalink.Candidate[T], bool) {
	if len(cands) == 0 {
		var zero metalink.Candidate[T]
		return zero, false
	}
	best := 0
	for i := 1; i < len(cands); i++ {
		if cands[i].Score > cands[best].Score {
			best = i
		}
	}
	return cands[best], true
}

// rankList orders candidates by (score desc, insertion asc), deduplicates by
// identity key keeping the highest-ranked occurrence, and caps the result.
// A zero or negative cap yields nil.
func rankList[T any](cands []metalink.Candidate[T], identity func(T) string, max int) []metalink.Candidate[T] {
	if max <= 0 || len(cands) == 0 {
		return nil
	}
	ranked := make([]metalink.Candidate[T], len(cands))
	copy(ranked, cands)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	seen := make(map[string]struct{}, len(ranked))
	out := ranked[:0]
	for _, c := range ranked {
		key := identity(c.Value)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
		if len(out) == max {
			break
		}
	}
	return out
}

// merge runs once per field after every stage completed and produces the
// aggregate record plus per-field provenance.
func (c *Context) merge(originalURL, finalURL string) (metalink.LinkMetadata, map[metalink.Field]metalink.Provenance) {
	meta := metalink.NewLinkMetadata(originalURL)
	meta.ResolvedURL = finalURL
	prov := make(map[metalink.Field]metalink.Provenance)

	if b, ok := bestCandidate(c.titles); ok {
		meta.Title = b.Value
		prov[metalink.FieldTitle] = provOf(b)
	}
	if b, ok := bestCandidate(c.descriptions); ok {
		meta.Description = b.Value
		prov[metalink.FieldDescription] = provOf(b)
	}
	if b, ok := bestCandidate(c.siteNames); ok {
		meta.SiteName = b.Value
		prov[metalink.FieldSiteName] = provOf(b)
	}
	if b, ok := bestCandidate(c.locales); ok {
		meta.Locale = b.Value
		prov[metalink.FieldLocale] = provOf(b)
	}
	if b, ok := bestCandidate(c.kinds); ok {
		meta.Kind = b.Value
		prov[metalink.FieldContentKind] = provOf(b)
	}
	if b, ok := bestCandidate(c.canonicals); ok {
		meta.CanonicalURL = b.Value
		prov[metalink.FieldCanonicalURL] = provOf(b)
	}
	if b, ok := bestCandidate(c.authors); ok {
		meta.Author = b.Value
		prov[metalink.FieldAuthor] = provOf(b)
	}
	if b, ok := bestCandidate(c.published); ok {
		t := b.Value
		meta.PublishedAt = &t
		prov[metalink.FieldPublishedAt] = provOf(b)
	}
	if b, ok := bestCandidate(c.modified); ok {
		t := b.Value
		meta.ModifiedAt = &t
		prov[metalink.FieldModifiedAt] = provOf(b)
	}

	opts := c.opts
	images := rankList(c.images, func(v metalink.ImageMeta) string { return v.URL }, *opts.MaxImages)
	for _, img := range images {
		meta.Images = append(meta.Images, img.Value)
	}
	if len(images) > 0 {
		prov[metalink.FieldImages] = provOf(images[0])
	}

	icons := rankList(c.icons, func(v metalink.IconMeta) string { return v.URL }, *opts.MaxIcons)
	for _, ic := range icons {
		meta.Icons = append(meta.Icons, ic.Value)
	}
	if len(icons) > 0 {
		prov[metalink.FieldIcons] = provOf(icons[0])
	}

	videos := rankList(c.videos, func(v metalink.MediaMeta) string { return v.URL }, *opts.MaxVideos)
	for _, v := range videos {
		meta.Videos = append(meta.Videos, v.Value)
	}
	if len(videos) > 0 {
		prov[metalink.FieldVideos] = provOf(videos[0])
	}

	audios := rankList(c.audios, func(v metalink.MediaMeta) string { return v.URL }, *opts.MaxAudios)
	for _, a := range audios {
		meta.Audios = append(meta.Audios, a.Value)
	}
	if len(audios) > 0 {
		prov[metalink.FieldAudios] = provOf(audios[0])
	}

	keywords := rankList(c.keywords, func(v string) string { return strings.ToLower(v) }, *opts.MaxKeywords)
	for _, k := range keywords {
		meta.Keywords = append(meta.Keywords, k.Value)
	}
	if len(keywords) > 0 {
		prov[metalink.FieldKeywords] = provOf(keywords[0])
	}

	// Structured data keeps only the single highest-scoring graph.
	if b, ok := bestCandidate(c.structured); ok {
		meta.Structured = b.Value
		prov[metalink.FieldStructuredData] = provOf(b)
	}

	return meta, prov
}

func provOf[T any](c metalink.Candidate[T]) metalink.Provenance {
	return metalink.Provenance{Source: c.Source, Score: c.Score, Evidence: c.Evidence}
}
