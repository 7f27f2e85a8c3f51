// Package pipeline runs an ordered list of request stages in front of a
// terminal handler and funnels every error into a single error handler.
//
// A stage has three choices for each request: call next to continue, return
// an error to short-circuit (the error handler then owns the response), or
// write a response and return nil to end the exchange.
package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/keithlinneman/tours-web/internal/xerrors"
)

// Handler is an http.Handler that can fail.
type Handler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request) error
}

type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) error { return f(w, r) }

// Stage is one named step of the pipeline.
type Stage interface {
	Name() string
	Wrap(next Handler) Handler
}

// ErrPanic is wrapped by errors recovered from a panicking stage or terminal.
var ErrPanic = errors.New("panic")

// ErrorHandler produces the response for an error raised anywhere in the pipeline.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Pipeline is an http.Handler. It is immutable once built.
type Pipeline struct {
	stages  []Stage
	onError ErrorHandler
	h       Handler
}

// New composes stages so the first stage sees the request first and terminal
// runs last. Nil stages and stages gated off with When are skipped.
func New(terminal Handler, onError ErrorHandler, stages ...Stage) *Pipeline {
	if terminal == nil {
		terminal = HandlerFunc(func(http.ResponseWriter, *http.Request) error { return nil })
	}
	if onError == nil {
		onError = func(w http.ResponseWriter, r *http.Request, err error) {
			if !Committed(w) {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}
	}

	kept := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if s == nil {
			continue
		}
		if g, ok := s.(interface{ Enabled() bool }); ok && !g.Enabled() {
			continue
		}
		kept = append(kept, s)
	}

	h := terminal
	for i := len(kept) - 1; i >= 0; i-- {
		h = kept[i].Wrap(h)
	}
	return &Pipeline{stages: kept, onError: onError, h: h}
}

// Stages returns stage names in execution order.
func (p *Pipeline) Stages() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name()
	}
	return out
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cw := &commitWriter{ResponseWriter: w}
	if err := p.run(cw, r); err != nil {
		p.onError(cw, r, err)
	}
}

func (p *Pipeline) run(w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if v := recover(); v != nil {
			// net/http relies on this sentinel to abort silently
			if v == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
				panic(v)
			}
			if e, ok := v.(error); ok {
				err = xerrors.WithStack(fmt.Errorf("%w: %w", ErrPanic, e))
				return
			}
			err = xerrors.WithStack(fmt.Errorf("%w: %v", ErrPanic, v))
		}
	}()
	return p.h.ServeHTTP(w, r)
}

// commitWriter records whether status or body bytes have been sent.
type commitWriter struct {
	http.ResponseWriter
	committed bool
}

func (c *commitWriter) WriteHeader(code int) {
	// informational responses do not commit the exchange
	if code >= 200 {
		c.committed = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *commitWriter) Write(b []byte) (int, error) {
	c.committed = true
	return c.ResponseWriter.Write(b)
}

func (c *commitWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		c.committed = true
		f.Flush()
	}
}

func (c *commitWriter) Committed() bool { return c.committed }

func (c *commitWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }

// Committed reports whether a response has already started on w or any
// writer it wraps. Unknown writers report false.
func Committed(w http.ResponseWriter) bool {
	for w != nil {
		if c, ok := w.(interface{ Committed() bool }); ok {
			return c.Committed()
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
	return false
}
