// Package errhandler is the single place where pipeline errors become
// responses. API requests get JSON; everything else gets the error page.
package errhandler

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/keithlinneman/tours-web/internal/apperror"
	"github.com/keithlinneman/tours-web/internal/log"
	"github.com/keithlinneman/tours-web/internal/pipeline"
)

const (
	pageTitle          = "Something went wrong!"
	genericAPIMessage  = "Something went very wrong!"
	genericPageMessage = "Please try again later."
)

var ErrNoTemplate = errors.New("errhandler: error template missing")

// Recorder counts handled errors by kind.
type Recorder interface {
	IncPipelineError(kind string)
}

type Options struct {
	// Development exposes messages, causes and stacks for every error.
	Development bool
	// Templates must define TemplateName.
	Templates *template.Template
	// TemplateName defaults to "error.html".
	TemplateName string
	// APIPrefix selects JSON responses. Default: "/api".
	APIPrefix string
	Metrics   Recorder
}

type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	if opts.TemplateName == "" {
		opts.TemplateName = "error.html"
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api"
	}
	if opts.Templates == nil || opts.Templates.Lookup(opts.TemplateName) == nil {
		return nil, ErrNoTemplate
	}
	return &Handler{opts: opts}, nil
}

type devErrorBody struct {
	StatusCode  int    `json:"statusCode"`
	Status      string `json:"status"`
	Kind        string `json:"kind"`
	Operational bool   `json:"isOperational"`
	Path        string `json:"path,omitempty"`
	Cause       string `json:"cause,omitempty"`
}

type devBody struct {
	Status  string       `json:"status"`
	Error   devErrorBody `json:"error"`
	Message string       `json:"message"`
	Stack   string       `json:"stack"`
}

type prodBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type pageData struct {
	Title   string
	Message string
	Stack   string
}

// Handle satisfies pipeline.ErrorHandler.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	ctx := r.Context()
	L := log.FromContext(ctx)
	ae := apperror.From(err)

	if h.opts.Metrics != nil {
		h.opts.Metrics.IncPipelineError(string(ae.Kind))
	}

	if pipeline.Committed(w) {
		L.Error(ctx, err, "error after response started", "error.kind", string(ae.Kind))
		return
	}

	if ae.StatusCode >= http.StatusInternalServerError || !ae.Operational {
		L.Error(ctx, err, "request failed", "error.kind", string(ae.Kind), "http.response.status_code", ae.StatusCode)
	} else {
		L.Debug(ctx, "request rejected", "error.kind", string(ae.Kind), "http.response.status_code", ae.StatusCode, "error.message", ae.Message)
	}

	api := pipeline.HasPathPrefix(r.URL.Path, h.opts.APIPrefix)
	switch {
	case h.opts.Development && api:
		h.writeJSON(w, r, ae.StatusCode, devBody{
			Status:  ae.Status,
			Error:   devError(ae),
			Message: ae.Message,
			Stack:   ae.Stack(),
		})
	case h.opts.Development:
		h.writePage(w, r, ae.StatusCode, pageData{Title: pageTitle, Message: ae.Message, Stack: ae.Stack()})
	case api && ae.Operational:
		h.writeJSON(w, r, ae.StatusCode, prodBody{Status: ae.Status, Message: ae.Message})
	case api:
		h.writeJSON(w, r, http.StatusInternalServerError, prodBody{Status: "error", Message: genericAPIMessage})
	case ae.Operational:
		h.writePage(w, r, ae.StatusCode, pageData{Title: pageTitle, Message: ae.Message})
	default:
		h.writePage(w, r, http.StatusInternalServerError, pageData{Title: pageTitle, Message: genericPageMessage})
	}
}

func devError(ae *apperror.Error) devErrorBody {
	d := devErrorBody{
		StatusCode:  ae.StatusCode,
		Status:      ae.Status,
		Kind:        string(ae.Kind),
		Operational: ae.Operational,
		Path:        ae.Path,
	}
	if ae.Err != nil {
		d.Cause = ae.Err.Error()
	}
	return d
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, code int, body any) {
	buf, err := json.Marshal(body)
	if err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "encode error response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(buf)
}

func (h *Handler) writePage(w http.ResponseWriter, r *http.Request, code int, data pageData) {
	var buf bytes.Buffer
	if err := h.opts.Templates.ExecuteTemplate(&buf, h.opts.TemplateName, data); err != nil {
		log.FromContext(r.Context()).Error(r.Context(), err, "render error page")
		http.Error(w, data.Message, code)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
