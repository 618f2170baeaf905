package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/metalink-dev/metalink/internal/metalink"
	"github.com/metalink-dev/metalink/internal/urlx"
)

// manifestDoc is the wire shape of a web-app manifest; only the fields used
// for backfill are decoded.
type manifestDoc struct {
	Name            string `json:"name"`
	ShortName       string `json:"short_name"`
	StartURL        string `json:"start_url"`
	ThemeColor      string `json:"theme_color"`
	BackgroundColor string `json:"background_color"`
	Icons           []struct {
		Src   string `json:"src"`
		Sizes string `json:"sizes"`
		Type  string `json:"type"`
	} `json:"icons"`
}

func (p *Pipeline) fetchManifest(ctx context.Context, manifestURL *url.URL, opts metalink.Options) (*metalink.Manifest, error) {
	data, err := p.fetchJSON(ctx, manifestURL, opts)
	if err != nil {
		return nil, err
	}
	var doc manifestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	m := &metalink.Manifest{
		Name:            collapseSpace(doc.Name),
		ShortName:       collapseSpace(doc.ShortName),
		ThemeColor:      doc.ThemeColor,
		BackgroundColor: doc.BackgroundColor,
	}
	// Relative references inside the manifest resolve against the manifest's
	// own URL, not the page's base.
	if u := urlx.Resolve(manifestURL, doc.StartURL); u != nil {
		m.StartURL = u.String()
	}
	for _, icon := range doc.Icons {
		u := urlx.Resolve(manifestURL, icon.Src)
		if u == nil {
			continue
		}
		m.Icons = append(m.Icons, metalink.IconMeta{
			URL:      u.String(),
			Sizes:    icon.Sizes,
			MimeType: icon.Type,
		})
	}
	return m, nil
}
