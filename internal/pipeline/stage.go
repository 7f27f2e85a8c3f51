package pipeline

import (
	"net/http"
	"strings"
)

// ProcessFunc inspects or annotates a request. Returning an error
// short-circuits; otherwise the returned request (or r when nil) continues.
type ProcessFunc func(w http.ResponseWriter, r *http.Request) (*http.Request, error)

type funcStage struct {
	name string
	fn   ProcessFunc
}

// StageFunc builds a stage from fn.
func StageFunc(name string, fn ProcessFunc) Stage { return funcStage{name: name, fn: fn} }

func (s funcStage) Name() string { return s.name }

func (s funcStage) Wrap(next Handler) Handler {
	return HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		r2, err := s.fn(w, r)
		if err != nil {
			return err
		}
		if r2 == nil {
			r2 = r
		}
		return next.ServeHTTP(w, r2)
	})
}

type wrapStage struct {
	name string
	wrap func(next Handler) Handler
}

// Named builds a stage from a wrap function, for stages that act after next
// returns.
func Named(name string, wrap func(next Handler) Handler) Stage {
	return wrapStage{name: name, wrap: wrap}
}

func (s wrapStage) Name() string { return s.name }

func (s wrapStage) Wrap(next Handler) Handler { return s.wrap(next) }

type middlewareStage struct {
	name string
	mw   func(http.Handler) http.Handler
}

// FromMiddleware adapts plain net/http middleware. Errors from later stages
// pass back through mw unchanged; if mw never calls its handler the
// exchange ends without error.
func FromMiddleware(name string, mw func(http.Handler) http.Handler) Stage {
	return middlewareStage{name: name, mw: mw}
}

func (s middlewareStage) Name() string { return s.name }

func (s middlewareStage) Wrap(next Handler) Handler {
	return HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		var downstream error
		s.mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			downstream = next.ServeHTTP(w, r)
		})).ServeHTTP(w, r)
		return downstream
	})
}

type gatedStage struct {
	Stage
	enabled bool
}

// When includes s only if enabled. The decision is fixed at build time and
// New leaves a disabled stage out of the pipeline entirely.
func When(enabled bool, s Stage) Stage { return gatedStage{Stage: s, enabled: enabled} }

func (g gatedStage) Wrap(next Handler) Handler {
	if !g.enabled {
		return next
	}
	return g.Stage.Wrap(next)
}

// Enabled reports whether the gated stage runs.
func (g gatedStage) Enabled() bool { return g.enabled }

type prefixStage struct {
	Stage
	prefix string
}

// Prefix runs s only for request paths under prefix. Matching is by whole
// path segment: "/api" matches "/api" and "/api/x" but not "/apix".
func Prefix(prefix string, s Stage) Stage {
	return prefixStage{Stage: s, prefix: strings.TrimSuffix(prefix, "/")}
}

func (p prefixStage) Name() string { return p.Stage.Name() + "@" + p.prefix }

func (p prefixStage) Wrap(next Handler) Handler {
	scoped := p.Stage.Wrap(next)
	return HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		if HasPathPrefix(r.URL.Path, p.prefix) {
			return scoped.ServeHTTP(w, r)
		}
		return next.ServeHTTP(w, r)
	})
}

// HasPathPrefix reports whether path equals prefix or continues it with a '/'.
func HasPathPrefix(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
