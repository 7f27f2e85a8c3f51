package routes

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tours-web/internal/apperror"
	"github.com/keithlinneman/tours-web/internal/httpmw"
	"github.com/keithlinneman/tours-web/internal/pipeline"
	"github.com/keithlinneman/tours-web/internal/request"
	"github.com/keithlinneman/tours-web/internal/xerrors"
)

var ErrMissingTemplate = errors.New("routes: view template missing")

// TourSummary is one card on the overview page.
type TourSummary struct {
	Slug string
	Name string
}

// DefaultCatalog is the fixed set of tours rendered by the views router.
var DefaultCatalog = []TourSummary{
	{Slug: "the-forest-hiker", Name: "The Forest Hiker"},
	{Slug: "the-sea-explorer", Name: "The Sea Explorer"},
	{Slug: "the-snow-adventurer", Name: "The Snow Adventurer"},
}

type Views struct {
	tmpl    *template.Template
	catalog []TourSummary
}

// NewViews needs templates named overview.html and tour.html. A nil catalog
// uses DefaultCatalog.
func NewViews(tmpl *template.Template, catalog []TourSummary) (*Views, error) {
	if tmpl == nil || tmpl.Lookup("overview.html") == nil || tmpl.Lookup("tour.html") == nil {
		return nil, ErrMissingTemplate
	}
	if catalog == nil {
		catalog = DefaultCatalog
	}
	return &Views{tmpl: tmpl, catalog: catalog}, nil
}

func (v *Views) Register(r chi.Router) {
	r.Use(httpmw.Scope("views"))
	r.Get("/", pipeline.Errorable(v.overview))
	r.Get("/tour/{slug}", pipeline.Errorable(v.tour))
}

type overviewPage struct {
	Title       string
	Tours       []TourSummary
	RequestedAt string
}

type tourPage struct {
	Title       string
	Slug        string
	RequestedAt string
}

func (v *Views) overview(w http.ResponseWriter, r *http.Request) error {
	return v.render(w, "overview.html", overviewPage{
		Title:       "All Tours",
		Tours:       v.catalog,
		RequestedAt: request.FromContext(r.Context()).RequestTimeISO(),
	})
}

func (v *Views) tour(w http.ResponseWriter, r *http.Request) error {
	slug := chi.URLParam(r, "slug")
	for _, t := range v.catalog {
		if t.Slug == slug {
			return v.render(w, "tour.html", tourPage{
				Title:       t.Name,
				Slug:        t.Slug,
				RequestedAt: request.FromContext(r.Context()).RequestTimeISO(),
			})
		}
	}
	return apperror.New(http.StatusNotFound, apperror.KindNotFound, "There is no tour with that name.")
}

// render buffers the page so a template failure can still become an error
// response.
func (v *Views) render(w http.ResponseWriter, name string, data any) error {
	var buf bytes.Buffer
	if err := v.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return xerrors.Wrapf(err, "render %s", name)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
	return nil
}
