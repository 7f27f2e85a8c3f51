// Package apperror is the HTTP-facing error taxonomy. Operational errors are
// expected failures whose message is safe to show to clients; everything
// else is reported as a generic server error.
package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindRateLimited     Kind = "rate_limited"
	KindPayloadTooLarge Kind = "payload_too_large"
	KindBadRequest      Kind = "bad_request"
	KindInternal        Kind = "internal"
)

// Error carries the response status alongside the client-facing message.
type Error struct {
	StatusCode int
	// Status is "fail" for 4xx and "error" otherwise.
	Status      string
	Message     string
	Kind        Kind
	Path        string
	Operational bool
	Err         error

	pcs []uintptr
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// StackPCs lets the logger print where the error was raised.
func (e *Error) StackPCs() []uintptr { return e.pcs }

// Stack renders the captured frames one per line.
func (e *Error) Stack() string {
	if len(e.pcs) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.pcs)
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

func statusText(code int) string {
	if code >= 400 && code < 500 {
		return "fail"
	}
	return "error"
}

func build(code int, kind Kind, msg string, err error, operational bool) *Error {
	pcs := make([]uintptr, 32)
	// skip runtime.Callers, build, and the exported constructor
	n := runtime.Callers(3, pcs)
	return &Error{
		StatusCode:  code,
		Status:      statusText(code),
		Message:     msg,
		Kind:        kind,
		Operational: operational,
		Err:         err,
		pcs:         pcs[:n],
	}
}

// New returns an operational error.
func New(code int, kind Kind, msg string) *Error {
	return build(code, kind, msg, nil, true)
}

// NotFound reports an unmatched route. url is the original request URI.
func NotFound(url string) *Error {
	e := build(http.StatusNotFound, KindNotFound, fmt.Sprintf("Can't find %s on this server", url), nil, true)
	e.Path = url
	return e
}

func TooManyRequests(msg string) *Error {
	return build(http.StatusTooManyRequests, KindRateLimited, msg, nil, true)
}

func PayloadTooLarge(limit int64) *Error {
	return build(http.StatusRequestEntityTooLarge, KindPayloadTooLarge,
		fmt.Sprintf("Request body exceeds the %d byte limit", limit), nil, true)
}

func BadRequest(msg string, err error) *Error {
	return build(http.StatusBadRequest, KindBadRequest, msg, err, true)
}

// Internal wraps an unexpected failure. Its message is never shown in production.
func Internal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return build(http.StatusInternalServerError, KindInternal, msg, err, false)
}

// From classifies any error. An *Error anywhere in the chain wins; body
// limit and JSON decode failures map to 413 and 400; everything else is an
// internal error. From(nil) is nil.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		e := PayloadTooLarge(mbe.Limit)
		e.Err = err
		return e
	}
	var se *json.SyntaxError
	if errors.As(err, &se) {
		return BadRequest(fmt.Sprintf("Invalid JSON body: %s", se.Error()), err)
	}
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		return BadRequest(fmt.Sprintf("Invalid JSON body: %s", te.Error()), err)
	}
	return Internal(err)
}

// StatusOf is the HTTP status an error will be answered with; 200 for nil.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return From(err).StatusCode
}

// KindOf is the metric label for err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}
