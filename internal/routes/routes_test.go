package routes

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tours-web/internal/apperror"
	"github.com/keithlinneman/tours-web/internal/pipeline"
	"github.com/keithlinneman/tours-web/internal/request"
	"github.com/keithlinneman/tours-web/internal/webassets"
)

// helpers

func apiRouter() chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1/tours", Tours())
	r.Route("/api/v1/users", Users())
	r.Route("/api/v1/reviews", Reviews())
	return r
}

// serve dispatches through a pipeline terminal so forwarded errors surface.
func serve(t *testing.T, h http.Handler, req *http.Request, st *request.State) (*httptest.ResponseRecorder, error) {
	t.Helper()
	if st != nil {
		req = req.WithContext(request.WithState(req.Context(), st))
	}
	rec := httptest.NewRecorder()
	err := pipeline.Dispatch(h).ServeHTTP(rec, req)
	return rec, err
}

func decodeEcho(t *testing.T, rec *httptest.ResponseRecorder) echoResponse {
	t.Helper()
	var out echoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

// API resources

func TestResource_Methods(t *testing.T) {
	tests := []struct {
		method   string
		path     string
		resource string
		id       string
		code     int
	}{
		{http.MethodGet, "/api/v1/tours", "tours", "", http.StatusOK},
		{http.MethodGet, "/api/v1/tours/5c88fa8cf4afda39709c2955", "tours", "5c88fa8cf4afda39709c2955", http.StatusOK},
		{http.MethodPost, "/api/v1/users", "users", "", http.StatusCreated},
		{http.MethodPatch, "/api/v1/users/42", "users", "42", http.StatusOK},
		{http.MethodDelete, "/api/v1/reviews/7", "reviews", "7", http.StatusOK},
	}
	r := apiRouter()
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec, err := serve(t, r, httptest.NewRequest(tt.method, tt.path, http.NoBody), nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			out := decodeEcho(t, rec)
			if out.Status != "success" || out.Resource != tt.resource || out.Data.ID != tt.id {
				t.Fatalf("response = %+v", out)
			}
		})
	}
}

func TestResource_EchoesState(t *testing.T) {
	st := &request.State{
		Body:        map[string]any{"name": "The Park Camper"},
		Cookies:     map[string]string{"jwt": "abc"},
		RequestTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tours?sort=price&price=10&price=20", http.NoBody)
	rec, err := serve(t, apiRouter(), req, st)
	if err != nil {
		t.Fatal(err)
	}

	out := decodeEcho(t, rec)
	if out.RequestedAt != "2024-05-01T12:00:00.000Z" {
		t.Errorf("requestedAt = %q", out.RequestedAt)
	}
	if out.Data.Query["sort"] != "price" {
		t.Errorf("sort = %v", out.Data.Query["sort"])
	}
	if prices, _ := out.Data.Query["price"].([]any); len(prices) != 2 {
		t.Errorf("price = %v", out.Data.Query["price"])
	}
	if body, _ := out.Data.Body.(map[string]any); body["name"] != "The Park Camper" {
		t.Errorf("body = %v", out.Data.Body)
	}
	if out.Data.Cookies["jwt"] != "abc" {
		t.Errorf("cookies = %v", out.Data.Cookies)
	}
}

func TestResource_NoStateStillAnswers(t *testing.T) {
	rec, err := serve(t, apiRouter(), httptest.NewRequest(http.MethodGet, "/api/v1/users", http.NoBody), nil)
	if err != nil {
		t.Fatal(err)
	}
	out := decodeEcho(t, rec)
	if out.RequestedAt != "" || out.Data.Cookies == nil {
		t.Fatalf("response = %+v", out)
	}
}

func TestTours_ErrorRouteForwards(t *testing.T) {
	rec, err := serve(t, apiRouter(), httptest.NewRequest(http.MethodGet, "/api/v1/tours/error", http.NoBody), nil)
	if !errors.Is(err, ErrTourLookup) {
		t.Fatalf("err = %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("route wrote a response: %q", rec.Body.String())
	}
}

func TestTours_ErrorRouteOutsidePipeline(t *testing.T) {
	rec := httptest.NewRecorder()
	apiRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tours/error", http.NoBody))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestQueryObject(t *testing.T) {
	got := queryObject(url.Values{"a": {"1"}, "b": {"1", "2"}, "c": {}})
	if got["a"] != "1" {
		t.Errorf("a = %v", got["a"])
	}
	if b, _ := got["b"].([]string); len(b) != 2 {
		t.Errorf("b = %v", got["b"])
	}
	if _, ok := got["c"]; ok {
		t.Error("empty key should be omitted")
	}
}

// Views

func newViewsRouter(t *testing.T) chi.Router {
	t.Helper()
	tmpl, err := webassets.Templates()
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewViews(tmpl, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	r.Group(v.Register)
	return r
}

func TestNewViews_MissingTemplates(t *testing.T) {
	if _, err := NewViews(nil, nil); !errors.Is(err, ErrMissingTemplate) {
		t.Fatalf("err = %v", err)
	}
	tmpl := template.Must(template.New("overview.html").Parse("x"))
	if _, err := NewViews(tmpl, nil); !errors.Is(err, ErrMissingTemplate) {
		t.Fatalf("err = %v", err)
	}
}

func TestViews_Overview(t *testing.T) {
	st := &request.State{RequestTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	rec, err := serve(t, newViewsRouter(t), httptest.NewRequest(http.MethodGet, "/", http.NoBody), st)
	if err != nil {
		t.Fatal(err)
	}
	body := rec.Body.String()
	for _, want := range []string{"Natours | All Tours", `href="/tour/the-forest-hiker"`, "2024-05-01T12:00:00.000Z"} {
		if !strings.Contains(body, want) {
			t.Errorf("overview missing %q", want)
		}
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestViews_Tour(t *testing.T) {
	rec, err := serve(t, newViewsRouter(t), httptest.NewRequest(http.MethodGet, "/tour/the-sea-explorer", http.NoBody), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), "<h1>The Sea Explorer</h1>") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestViews_UnknownTour(t *testing.T) {
	_, err := serve(t, newViewsRouter(t), httptest.NewRequest(http.MethodGet, "/tour/nope", http.NoBody), nil)
	if apperror.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestViews_RenderFailureForwards(t *testing.T) {
	tmpl := template.Must(template.New("overview.html").Parse(`{{.Missing.Field}}`))
	template.Must(tmpl.New("tour.html").Parse("ok"))
	v, err := NewViews(tmpl, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	r.Group(v.Register)

	rec, err := serve(t, r, httptest.NewRequest(http.MethodGet, "/", http.NoBody), nil)
	if err == nil || apperror.StatusOf(err) != http.StatusInternalServerError {
		t.Fatalf("err = %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatal("partial page written")
	}
}
