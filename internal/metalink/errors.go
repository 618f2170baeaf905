package metalink

import "fmt"

// ErrorKind classifies fatal failures that end a request.
type ErrorKind string

// Fatal error kinds.
const (
	ErrInvalidURL     ErrorKind = "invalidUrl"
	ErrNetwork        ErrorKind = "network"
	ErrTimeout        ErrorKind = "timeout"
	ErrHTTPStatus     ErrorKind = "httpStatus"
	ErrNonHTMLContent ErrorKind = "nonHtmlContent"
	ErrDecode         ErrorKind = "decode"
	ErrParse          ErrorKind = "parse"
	ErrUnknown        ErrorKind = "unknown"
)

// Retryable reports whether a failure of this kind is plausibly transient.
// The decision to retry belongs to the caller.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrNetwork, ErrTimeout, ErrHTTPStatus:
		return true
	default:
		return false
	}
}

// Error is a fatal, kind-tagged request failure carried as a value.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	cause   error
}

// NewError builds an Error, optionally wrapping a cause so callers can use
// errors.Is/As against sentinels.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// WarningKind classifies non-fatal conditions; extraction continues.
type WarningKind string

// Warning kinds.
const (
	WarnCacheBypassed     WarningKind = "cacheBypassed"
	WarnCacheReadFailed   WarningKind = "cacheReadFailed"
	WarnCacheWriteFailed  WarningKind = "cacheWriteFailed"
	WarnRedirectedTooMuch WarningKind = "redirectedTooMuch"
	WarnTruncatedHTML     WarningKind = "truncatedHtml"
	WarnCharsetFallback   WarningKind = "charsetFallback"
	WarnNonHTMLResponse   WarningKind = "nonHtmlResponse"
	WarnOEmbedFailed      WarningKind = "oembedFailed"
	WarnManifestFailed    WarningKind = "manifestFailed"
	WarnPartialParse      WarningKind = "partialParse"
)

// Warning records a non-fatal condition. Stage is set when a pipeline stage
// faulted.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Stage   string      `json:"stage,omitempty"`
	Message string      `json:"message"`
}
