// Package request holds the per-request data that pipeline stages parse,
// sanitize and annotate before a router sees the request.
package request

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// isoMillis matches the millisecond UTC form used by browsers and JSON APIs.
const isoMillis = "2006-01-02T15:04:05.000Z"

// State is mutated in place by each stage. It is not safe for use by more
// than one goroutine.
type State struct {
	// Body is the decoded payload: map[string]any, []any, or nil when no
	// parser matched the content type.
	Body any
	// BodyPolluted holds url-encoded body arrays collapsed by the pollution guard.
	BodyPolluted map[string]any

	// Query mirrors r.URL.Query() after sanitization and collapse.
	Query url.Values
	// QueryPolluted holds the original values of collapsed query keys.
	QueryPolluted url.Values

	Cookies     map[string]string
	JSONCookies map[string]any

	RequestTime time.Time
}

// RequestTimeISO renders RequestTime like 2024-05-01T12:00:00.000Z. Zero time
// renders as "".
func (s *State) RequestTimeISO() string {
	if s == nil || s.RequestTime.IsZero() {
		return ""
	}
	return s.RequestTime.UTC().Format(isoMillis)
}

// BodyMap returns Body as an object, or nil.
func (s *State) BodyMap() map[string]any {
	if s == nil {
		return nil
	}
	m, _ := s.Body.(map[string]any)
	return m
}

type stateKey struct{}

func WithState(ctx context.Context, s *State) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, stateKey{}, s)
}

// FromContext returns the state attached to ctx, or nil.
func FromContext(ctx context.Context) *State {
	s, _ := ctx.Value(stateKey{}).(*State)
	return s
}

// Ensure returns r's state, attaching a fresh one seeded from the URL query
// when none exists yet.
func Ensure(r *http.Request) (*http.Request, *State) {
	if s := FromContext(r.Context()); s != nil {
		return r, s
	}
	s := &State{Query: r.URL.Query()}
	return r.WithContext(WithState(r.Context(), s)), s
}

// Attach is middleware that guarantees downstream handlers find a State.
func Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, _ = Ensure(r)
		next.ServeHTTP(w, r)
	})
}
