// Package proxyerr defines the one error boundary every handler reports
// through: a tagged kind with an HTTP status, mapped to the JSON body at
// the router and nowhere else (spec.md §7).
package proxyerr

import "net/http"

// Kind classifies the error so the router can pick a status without
// re-deriving it from the message string.
type Kind int

const (
	KindClientInput Kind = iota
	KindUpstream
	KindInternal
)

// Error is the structured error every component returns instead of a bare
// string. URL is optional context surfaced to the caller for debugging.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	URL     string
}

func (e *Error) Error() string { return e.Message }

// BadRequest builds a 400 ClientInput error (malformed token, SSRF denial,
// missing parameter).
func BadRequest(message string) *Error {
	return &Error{Kind: KindClientInput, Status: http.StatusBadRequest, Message: message}
}

// BadRequestURL is BadRequest with the offending URL attached.
func BadRequestURL(message, url string) *Error {
	return &Error{Kind: KindClientInput, Status: http.StatusBadRequest, Message: message, URL: url}
}

// NotFound builds a 404 for unknown routes.
func NotFound(message string) *Error {
	return &Error{Kind: KindClientInput, Status: http.StatusNotFound, Message: message}
}

// Upstream builds a 502 for exhausted retries / transport failure. Upstream
// HTTP statuses that are not retryable are forwarded verbatim by the
// caller instead of going through this constructor.
func Upstream(message string) *Error {
	return &Error{Kind: KindUpstream, Status: http.StatusBadGateway, Message: message}
}

// Internal builds a 500 for anything uncaught.
func Internal(message string) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: message}
}

// Body is the JSON shape written to the client.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
}

// AsBody renders e for JSON encoding at the router boundary.
func (e *Error) AsBody() Body {
	name := "internal_error"
	switch e.Kind {
	case KindClientInput:
		name = "invalid_request"
	case KindUpstream:
		name = "upstream_error"
	}
	return Body{Error: name, Message: e.Message, URL: e.URL}
}
