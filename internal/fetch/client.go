package fetch

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/metalink-dev/metalink/internal/metalink"
	"github.com/metalink-dev/metalink/internal/urlx"
)

// Sentinel causes distinguishing the two terminal redirect failures.
var (
	ErrRedirectLoop     = errors.New("redirect loop detected")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// redirectStatuses are followed when a non-empty Location is present.
// 304 is a cache validation status, not a redirect.
var redirectStatuses = map[int]struct{}{
	http.StatusMultipleChoices:   {},
	http.StatusMovedPermanently:  {},
	http.StatusFound:             {},
	http.StatusSeeOther:          {},
	http.StatusTemporaryRedirect: {},
	http.StatusPermanentRedirect: {},
}

// Client runs the per-request fetch state machine: explicit redirect
// resolution (HEAD-first with GET fallback), charset detection, and decoding
// under a byte budget.
type Client struct {
	fetcher metalink.Fetcher
	logger  *zap.Logger
}

// NewClient constructs a Client around a transport.
func NewClient(fetcher metalink.Fetcher, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{fetcher: fetcher, logger: logger}
}

// Fetch resolves rawURL through redirects and returns the decoded body plus
// diagnostics. Failures are carried on the result, never panicked, and the
// result is always non-nil.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts metalink.Options) *metalink.HTMLFetchResult {
	opts = opts.Normalized()
	start := time.Now()
	res := &metalink.HTMLFetchResult{OriginalURL: rawURL}
	defer func() { res.Elapsed = time.Since(start) }()

	u, err := urlx.ParseLoose(rawURL)
	if err != nil {
		res.Err = metalink.NewError(metalink.ErrInvalidURL, err.Error(), err)
		return res
	}
	current := urlx.ApplyProxy(urlx.NormalizeForRequest(u), opts.ProxyTemplate)
	res.FinalURL = current

	// One overall deadline bounds the whole chain; each hop consumes from
	// the remaining budget.
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if opts.StopAfterHead != nil && *opts.StopAfterHead {
		headResp, hops, resolveErr := c.resolve(ctx, http.MethodHead, current, opts)
		res.Redirects = append(res.Redirects, hops...)
		if resolveErr != nil {
			res.FinalURL = headResp.URL
			res.Err = redirectError(resolveErr)
			return res
		}
		current = headResp.URL
		res.FinalURL = current
		switch {
		case headResp.Err != nil:
			// HEAD transport failure falls back to GET resolution from the
			// current hop.
			c.logger.Debug("head probe failed, falling back to get",
				zap.String("url", current), zap.Error(headResp.Err))
		case headResp.StatusCode == http.StatusMethodNotAllowed,
			headResp.StatusCode == http.StatusNotImplemented,
			headResp.StatusCode >= 400:
			// Server rejects HEAD; resolve again with GET.
		default:
			res.StatusCode = headResp.StatusCode
			res.Headers = headResp.Headers
			if !isHTMLContentType(headResp.Headers) {
				// Not HTML: terminate before downloading the payload.
				res.Body = []byte{}
				res.Err = metalink.NewError(metalink.ErrNonHTMLContent,
					fmt.Sprintf("content type %q is not html", headResp.Headers.Get("Content-Type")), nil)
				return res
			}
		}
	}

	getResp, hops, resolveErr := c.resolve(ctx, http.MethodGet, current, opts)
	res.Redirects = append(res.Redirects, hops...)
	res.FinalURL = getResp.URL
	if resolveErr != nil {
		res.Err = redirectError(resolveErr)
		return res
	}
	if getResp.Err != nil {
		res.Err = classifyTransport(getResp.Err)
		return res
	}

	res.StatusCode = getResp.StatusCode
	res.Headers = getResp.Headers
	res.Body = getResp.Body
	res.Truncated = getResp.Truncated

	if getResp.StatusCode < 200 || getResp.StatusCode > 299 {
		res.Err = metalink.NewError(metalink.ErrHTTPStatus,
			fmt.Sprintf("unexpected status %d from %s", getResp.StatusCode, getResp.URL), nil)
		return res
	}
	if !isHTMLContentType(getResp.Headers) {
		res.Err = metalink.NewError(metalink.ErrNonHTMLContent,
			fmt.Sprintf("content type %q is not html", getResp.Headers.Get("Content-Type")), nil)
		return res
	}

	name, source := DetectCharset(res.Body, res.Headers)
	res.Charset = name
	res.CharsetSource = source
	text, err := DecodeBody(res.Body, name)
	if err != nil {
		res.Err = metalink.NewError(metalink.ErrDecode,
			fmt.Sprintf("decode %s body: %v", name, err), err)
		return res
	}
	res.Text = text
	return res
}

// resolve follows redirects from start with the given method until a
// non-redirect response, a loop, or the hop budget is exhausted. The
// returned response is the last one received; its Err carries transport
// failures.
func (c *Client) resolve(
	ctx context.Context,
	method string,
	start string,
	opts metalink.Options,
) (metalink.FetchResponse, []metalink.RedirectHop, error) {
	current := start
	var hops []metalink.RedirectHop
	headers := http.Header{}
	if opts.UserAgent != "" {
		headers.Set("User-Agent", opts.UserAgent)
	}

	for {
		var resp metalink.FetchResponse
		if method == http.MethodHead {
			resp = c.fetcher.Head(ctx, current, headers)
		} else {
			resp = c.fetcher.Get(ctx, current, headers, opts.MaxBodyBytes)
		}
		if resp.Err != nil {
			return resp, hops, nil
		}
		loc := resp.Headers.Get("Location")
		if _, redirect := redirectStatuses[resp.StatusCode]; !redirect || loc == "" {
			return resp, hops, nil
		}

		next := resolveLocation(current, loc)
		if next == "" {
			// Unresolvable Location; treat the response as final.
			return resp, hops, nil
		}
		hops = append(hops, metalink.RedirectHop{
			From:        current,
			To:          next,
			StatusCode:  resp.StatusCode,
			RawLocation: loc,
		})
		if next == current {
			return resp, hops, ErrRedirectLoop
		}
		if len(hops) > opts.MaxRedirects {
			return resp, hops, ErrTooManyRedirects
		}
		current = next
		if method == http.MethodGet {
			c.logger.Debug("following redirect",
				zap.Int("status", resp.StatusCode), zap.String("to", next))
		}
	}
}

// resolveLocation resolves a Location header against the current URL and
// normalizes the result so loop detection sees equivalent URLs as equal.
func resolveLocation(current, location string) string {
	base, err := url.Parse(current)
	if err != nil {
		return ""
	}
	next := urlx.Resolve(base, location)
	if next == nil {
		return ""
	}
	return urlx.NormalizeForRequest(next)
}

func redirectError(cause error) *metalink.Error {
	if errors.Is(cause, ErrRedirectLoop) {
		return metalink.NewError(metalink.ErrNetwork, "redirect loop detected", cause)
	}
	return metalink.NewError(metalink.ErrNetwork, "redirect limit exceeded", cause)
}

// classifyTransport maps a transport failure onto the error taxonomy.
func classifyTransport(err error) *metalink.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return metalink.NewError(metalink.ErrTimeout, err.Error(), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return metalink.NewError(metalink.ErrTimeout, err.Error(), err)
	}
	if errors.Is(err, ErrFetcherClosed) {
		return metalink.NewError(metalink.ErrUnknown, err.Error(), err)
	}
	return metalink.NewError(metalink.ErrNetwork, err.Error(), err)
}

// isHTMLContentType reports whether a Content-Type header names an HTML
// document. A missing header is assumed HTML so bare responses still parse.
func isHTMLContentType(headers http.Header) bool {
	ct := headers.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = strings.TrimSpace(strings.ToLower(strings.Split(ct, ";")[0]))
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return true
	default:
		return false
	}
}
