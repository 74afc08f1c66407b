package model

import "fmt"

// ErrorKind classifies fetch-boundary failures. Every error crossing
// from a Fetcher into the scheduler carries exactly one kind; the
// scheduler never sees an unclassified error.
type ErrorKind string

// Fetch error kinds.
const (
	// ErrorKindNone means no error occurred.
	ErrorKindNone ErrorKind = ""

	// ErrorKindNetwork covers connection, DNS, and timeout failures.
	// Always retryable.
	ErrorKindNetwork ErrorKind = "network"

	// ErrorKindHTTPStatus covers non-2xx responses. Retryable only for
	// transient statuses (429, 5xx except 501).
	ErrorKindHTTPStatus ErrorKind = "http_status"

	// ErrorKindParsing covers malformed content that could not be
	// parsed. Fatal, unless the content was empty.
	ErrorKindParsing ErrorKind = "parsing"

	// ErrorKindEmptyContent covers responses with no usable content.
	// Retried once; servers occasionally serve blank pages transiently.
	ErrorKindEmptyContent ErrorKind = "empty_content"

	// ErrorKindContentQuality covers pages below the quality floor:
	// too short, or matching a known error-page signature. Fatal.
	ErrorKindContentQuality ErrorKind = "content_quality"

	// ErrorKindRedirectLoop covers redirect or path cycles. Fatal;
	// the task is discarded silently.
	ErrorKindRedirectLoop ErrorKind = "redirect_loop"

	// ErrorKindRobots covers robots.txt disallowed paths. Fatal; sets a
	// permanent skip for the matching path prefix on the domain.
	ErrorKindRobots ErrorKind = "robots_disallowed"

	// ErrorKindEthics covers paths excluded by configured deny
	// patterns. Fatal, same skip semantics as robots.
	ErrorKindEthics ErrorKind = "ethics_excluded"

	// ErrorKindInternal covers panics and other unexpected failures
	// caught at the worker boundary. Fatal.
	ErrorKindInternal ErrorKind = "internal"
)

// FetchError is the typed error all fetchers must return. It pins the
// failure to a taxonomy kind so the scheduler can decide retry behavior
// without inspecting error strings.
type FetchError struct {
	// Kind is the taxonomy classification.
	Kind ErrorKind

	// HTTPStatus is the response status for ErrorKindHTTPStatus, 0 otherwise.
	HTTPStatus int

	// Message describes the failure for logs and reports.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
//
// The retryable set follows the error taxonomy: network errors and
// transient HTTP statuses are retryable, empty content earns one retry,
// everything else is fatal.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case ErrorKindNetwork, ErrorKindEmptyContent:
		return true
	case ErrorKindHTTPStatus:
		return retryableHTTPStatus(e.HTTPStatus)
	default:
		return false
	}
}

// retryableHTTPStatus reports whether an HTTP status is transient.
// 501 Not Implemented is permanent even though it is a 5xx.
func retryableHTTPStatus(status int) bool {
	switch status {
	case 408, 425, 429:
		return true
	}
	return status >= 500 && status != 501
}

// NewFetchError creates a FetchError with the given kind and message.
func NewFetchError(kind ErrorKind, message string, err error) *FetchError {
	return &FetchError{Kind: kind, Message: message, Err: err}
}
