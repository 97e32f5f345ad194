// Package adapters holds the contracts shared by the conversion, extraction and
// structuring clients: page/document types, supported mime types and the
// transient/permanent error taxonomy the pipeline retries on.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind separates failures worth retrying from those that will fail again.
type Kind int

const (
	KindTransient Kind = iota + 1
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Failure codes reported by adapters.
const (
	CodeTimeout           = "timeout"
	CodeRateLimited       = "rate_limited"
	CodeUnavailable       = "service_unavailable"
	CodeUnsupportedFormat = "unsupported_format"
	CodeCorruptInput      = "corrupt_input"
	CodeUnreadableImage   = "unreadable_image"
	CodeMalformedOutput   = "malformed_output"
	CodeRejected          = "rejected"
)

// Error is a classified adapter failure.
type Error struct {
	Adapter    string
	Kind       Kind
	Code       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Adapter)
	b.WriteString(": ")
	b.WriteString(e.Code)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (http status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Transient builds a retryable failure.
func Transient(adapter, code string, err error) error {
	return &Error{Adapter: adapter, Kind: KindTransient, Code: code, Err: err}
}

// Permanent builds a failure that must not be retried.
func Permanent(adapter, code string, err error) error {
	return &Error{Adapter: adapter, Kind: KindPermanent, Code: code, Err: err}
}

// FromHTTPStatus classifies a non-2xx response. 408, 429 and 5xx are transient.
func FromHTTPStatus(adapter string, status int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	var cause error
	if snippet != "" {
		cause = errors.New(snippet)
	}
	e := &Error{Adapter: adapter, StatusCode: status, Err: cause}
	switch {
	case status == http.StatusRequestTimeout:
		e.Kind, e.Code = KindTransient, CodeTimeout
	case status == http.StatusTooManyRequests:
		e.Kind, e.Code = KindTransient, CodeRateLimited
	case status >= 500:
		e.Kind, e.Code = KindTransient, CodeUnavailable
	case status == http.StatusUnsupportedMediaType:
		e.Kind, e.Code = KindPermanent, CodeUnsupportedFormat
	case status == http.StatusUnprocessableEntity:
		e.Kind, e.Code = KindPermanent, CodeCorruptInput
	default:
		e.Kind, e.Code = KindPermanent, CodeRejected
	}
	return e
}

// FromTransport classifies an error returned by an HTTP round trip. Caller
// cancellation is passed through unchanged so it is never retried.
func FromTransport(adapter string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isTimeout(err) {
		return Transient(adapter, CodeTimeout, err)
	}
	return Transient(adapter, CodeUnavailable, err)
}

// KindOf reports how err should be treated. Unclassified errors are transient
// when they look like network faults and permanent otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if looksTransient(err) {
		return KindTransient
	}
	return KindPermanent
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// CodeOf returns the adapter failure code of err, if any.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	if isTimeout(err) {
		return CodeTimeout
	}
	return ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "client.timeout")
}

func looksTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if isTimeout(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"http status 5",
		"connection reset",
		"connection refused",
		"connection closed",
		"broken pipe",
		"tls handshake timeout",
		"unexpected eof",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
