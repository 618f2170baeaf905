package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/metalink-dev/metalink/internal/metalink"
)

// enrichmentMaxBytes bounds oEmbed and manifest bodies; provider responses
// are tiny JSON documents and anything larger is suspect.
const enrichmentMaxBytes = 1 << 20

var errNoFetcher = errors.New("no fetcher configured for enrichment")

func (p *Pipeline) fetchOEmbed(ctx context.Context, endpoint *url.URL, opts metalink.Options) (*metalink.OEmbed, error) {
	data, err := p.fetchJSON(ctx, endpoint, opts)
	if err != nil {
		return nil, err
	}
	var oe metalink.OEmbed
	if err := json.Unmarshal(data, &oe); err != nil {
		return nil, fmt.Errorf("decode oembed response: %w", err)
	}
	return &oe, nil
}

// fetchJSON issues one bounded GET through the enrichment fetcher. Shared by
// the oEmbed and manifest paths.
func (p *Pipeline) fetchJSON(ctx context.Context, endpoint *url.URL, opts metalink.Options) ([]byte, error) {
	if p.fetcher == nil {
		return nil, errNoFetcher
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	headers := http.Header{}
	headers.Set("User-Agent", opts.UserAgent)
	headers.Set("Accept", "application/json")
	resp := p.fetcher.Get(ctx, endpoint.String(), headers, enrichmentMaxBytes)
	if resp.Err != nil {
		return nil, resp.Err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.Truncated {
		return nil, fmt.Errorf("response exceeded %d bytes", enrichmentMaxBytes)
	}
	return resp.Body, nil
}
