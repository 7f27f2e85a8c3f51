package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tours-web/internal/httpmw"
	"github.com/keithlinneman/tours-web/internal/pipeline"
	"github.com/keithlinneman/tours-web/internal/request"
	"github.com/keithlinneman/tours-web/internal/xerrors"
)

type echoData struct {
	Query   map[string]any    `json:"query"`
	Body    any               `json:"body"`
	Cookies map[string]string `json:"cookies"`
	ID      string            `json:"id,omitempty"`
}

type echoResponse struct {
	Status      string   `json:"status"`
	RequestedAt string   `json:"requestedAt"`
	Resource    string   `json:"resource"`
	Data        echoData `json:"data"`
}

type resource struct {
	name string
}

func (res resource) register(r chi.Router) {
	r.Get("/", pipeline.Errorable(res.echo(http.StatusOK)))
	r.Post("/", pipeline.Errorable(res.echo(http.StatusCreated)))
	r.Get("/{id}", pipeline.Errorable(res.echo(http.StatusOK)))
	r.Patch("/{id}", pipeline.Errorable(res.echo(http.StatusOK)))
	r.Delete("/{id}", pipeline.Errorable(res.echo(http.StatusOK)))
}

func (res resource) echo(code int) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		st := request.FromContext(r.Context())
		data := echoData{
			Query: queryObject(r.URL.Query()),
			ID:    chi.URLParam(r, "id"),
		}
		if st != nil {
			data.Body = st.Body
			data.Cookies = st.Cookies
		}
		if data.Cookies == nil {
			data.Cookies = map[string]string{}
		}
		return writeJSON(w, code, echoResponse{
			Status:      "success",
			RequestedAt: st.RequestTimeISO(),
			Resource:    res.name,
			Data:        data,
		})
	}
}

// Resource registers the reflective CRUD routes for name.
func Resource(name string) func(chi.Router) {
	res := resource{name: name}
	return func(r chi.Router) {
		r.Use(httpmw.Scope("api." + name))
		res.register(r)
	}
}

// ErrTourLookup is forwarded by GET /error on the tours router.
var ErrTourLookup = xerrors.New("tour lookup failed")

// Tours is Resource("tours") plus GET /error, which forwards ErrTourLookup
// to the pipeline's error handler.
func Tours() func(chi.Router) {
	res := resource{name: "tours"}
	return func(r chi.Router) {
		r.Use(httpmw.Scope("api.tours"))
		r.Get("/error", func(w http.ResponseWriter, r *http.Request) {
			if !pipeline.Forward(r, ErrTourLookup) {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		})
		res.register(r)
	}
}

func Users() func(chi.Router)   { return Resource("users") }
func Reviews() func(chi.Router) { return Resource("reviews") }
