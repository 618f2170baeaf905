package fetch

import (
	"bytes"
	"mime"
	"net/http"
	"regexp"
	"strings"

	htmlcharset "golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"

	"github.com/metalink-dev/metalink/internal/metalink"
)

// metaProbeLimit bounds how far into the body the meta-charset probe looks.
// Documents declaring their charset after this offset fall through to the
// UTF-8 fallback; the limit is part of the detection contract.
const metaProbeLimit = 4096

const (
	charsetUTF8   = "utf-8"
	charsetLatin1 = "latin1"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var (
	metaCharsetRe  = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?\s*([A-Za-z0-9._:-]+)`)
	tokenCharsetRe = regexp.MustCompile(`(?i)charset\s*=\s*["']?\s*([A-Za-z0-9._:-]+)`)
)

// DetectCharset applies the detection priority order: UTF-8 BOM, then the
// Content-Type header, then a bounded probe of the body, then the UTF-8
// fallback. The returned name is always decodable by DecodeBody.
func DetectCharset(body []byte, headers http.Header) (name string, source metalink.CharsetSource) {
	if bytes.HasPrefix(body, utf8BOM) {
		return charsetUTF8, metalink.CharsetFromBOM
	}
	if ct := headers.Get("Content-Type"); ct != "" {
		if _, params, err := mime.ParseMediaType(ct); err == nil {
			if cs, ok := recognizeCharset(params["charset"]); ok {
				return cs, metalink.CharsetFromHeader
			}
		}
	}
	if cs, ok := probeMetaCharset(body); ok {
		return cs, metalink.CharsetFromMeta
	}
	return charsetUTF8, metalink.CharsetFromFallback
}

// probeMetaCharset scans the head of the body for a charset declaration. The
// probe decodes bytes 1:1 into codepoints so multi-byte sequences are not
// corrupted before the real charset is known.
func probeMetaCharset(body []byte) (string, bool) {
	if len(body) > metaProbeLimit {
		body = body[:metaProbeLimit]
	}
	head := decodeSingleByte(body)
	if m := metaCharsetRe.FindStringSubmatch(head); m != nil {
		if cs, ok := recognizeCharset(m[1]); ok {
			return cs, true
		}
		return "", false
	}
	if m := tokenCharsetRe.FindStringSubmatch(head); m != nil {
		if cs, ok := recognizeCharset(m[1]); ok {
			return cs, true
		}
	}
	return "", false
}

// recognizeCharset canonicalizes a declared label through the WHATWG
// encoding registry and maps it onto one of the two decodable charsets.
// Anything else is unrecognized and falls through to the caller.
func recognizeCharset(token string) (string, bool) {
	_, canonical := htmlcharset.Lookup(strings.TrimSpace(token))
	switch canonical {
	case "utf-8":
		return charsetUTF8, true
	case "windows-1252", "iso-8859-1":
		return charsetLatin1, true
	default:
		return "", false
	}
}

// DecodeBody decodes raw bytes using a charset name returned by
// DetectCharset. UTF-8 decoding tolerates malformed sequences by replacing
// them rather than failing.
func DecodeBody(body []byte, name string) (string, error) {
	body = bytes.TrimPrefix(body, utf8BOM)
	switch name {
	case charsetLatin1:
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(body)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	default:
		return strings.ToValidUTF8(string(body), "�"), nil
	}
}

// decodeSingleByte maps each byte to the codepoint of the same value.
func decodeSingleByte(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
