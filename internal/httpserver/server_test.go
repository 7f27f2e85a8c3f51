package httpserver

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tours-web/internal/log"
	"github.com/keithlinneman/tours-web/internal/metrics"
	"github.com/keithlinneman/tours-web/internal/ratelimit"
	"github.com/keithlinneman/tours-web/internal/routes"
	"github.com/keithlinneman/tours-web/internal/webassets"
)

// test helpers

// recordingLogger keeps every message; With returns the same recorder.
type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *recordingLogger) count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.msgs {
		if m == msg {
			n++
		}
	}
	return n
}

func (l *recordingLogger) With(...any) log.Logger                                 { return l }
func (l *recordingLogger) Debug(_ context.Context, msg string, _ ...any)          { l.add(msg) }
func (l *recordingLogger) Info(_ context.Context, msg string, _ ...any)           { l.add(msg) }
func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...any)           { l.add(msg) }
func (l *recordingLogger) Error(_ context.Context, _ error, msg string, _ ...any) { l.add(msg) }
func (l *recordingLogger) Sync() error                                            { return nil }

// counter is a router that counts how often it is reached.
type counter struct{ n atomic.Int64 }

func (c *counter) register(r chi.Router) {
	r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		c.n.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testOptions(t *testing.T) *Options {
	t.Helper()
	tmpl, err := webassets.Templates()
	if err != nil {
		t.Fatal(err)
	}
	views, err := routes.NewViews(tmpl, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &Options{
		Logger:       log.Nop(),
		Templates:    tmpl,
		Mounts:       StandardMounts(views),
		UseRecoverMW: true,
		Now:          func() time.Time { return fixedNow },
	}
}

func newLimiter(t *testing.T, max int) *ratelimit.Limiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ratelimit.New(ctx,
		ratelimit.WithMax(max),
		ratelimit.WithWindow(time.Hour),
		ratelimit.WithStore(ratelimit.NewMemoryStore(ctx)),
	)
}

func mustHandler(t *testing.T, opts *Options) http.Handler {
	t.Helper()
	h, err := NewHandler(opts)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	if req.RemoteAddr == "" || req.RemoteAddr == "192.0.2.1:1234" {
		req.RemoteAddr = "198.51.100.10:40000"
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	return do(h, httptest.NewRequest(http.MethodGet, target, http.NoBody))
}

func postJSON(h http.Handler, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return do(h, req)
}

func jsonBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func echoData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if rec.Code >= 300 {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	data, _ := jsonBody(t, rec)["data"].(map[string]any)
	if data == nil {
		t.Fatalf("no data in %s", rec.Body.String())
	}
	return data
}

// Pipeline order

func TestNewPipeline_StageOrder(t *testing.T) {
	tests := []struct {
		name        string
		development bool
		want        []string
	}{
		{"production", false, []string{
			"static",
			"csp",
			"rate-limit@/api",
			"json-body",
			"urlencoded-body",
			"cookies",
			"nosql-sanitize",
			"xss-sanitize",
			"hpp",
			"request-time",
		}},
		{"development", true, []string{
			"static",
			"csp",
			"access-log",
			"rate-limit@/api",
			"json-body",
			"urlencoded-body",
			"cookies",
			"nosql-sanitize",
			"xss-sanitize",
			"hpp",
			"request-time",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(t)
			opts.Development = tt.development
			opts.Limiter = newLimiter(t, 100)

			p, err := NewPipeline(opts)
			if err != nil {
				t.Fatal(err)
			}
			got := p.Stages()
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("stages =\n  %v\nwant\n  %v", got, tt.want)
			}
		})
	}
}

func TestNewPipeline_MissingErrorTemplate(t *testing.T) {
	opts := testOptions(t)
	opts.Templates = template.Must(template.New("overview.html").Parse("{{.}}"))
	if _, err := NewPipeline(opts); err == nil {
		t.Fatal("expected error without error.html")
	}
}

// Not found

func TestHandler_UnmatchedAPIPath(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	rec := get(h, "/api/v1/bookings?sort=price")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	body := jsonBody(t, rec)
	if body["status"] != "fail" || body["message"] != "Can't find /api/v1/bookings?sort=price on this server" {
		t.Fatalf("body = %v", body)
	}
}

func TestHandler_UnmatchedMethodIsNotFound(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	rec := do(h, httptest.NewRequest(http.MethodPut, "/api/v1/tours/5", http.NoBody))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Can't find /api/v1/tours/5 on this server") {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_UnmatchedPageRendersErrorPage(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	rec := get(h, "/no/such/page")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "Can&#39;t find /no/such/page on this server") {
		t.Fatalf("page = %s", rec.Body.String())
	}
}

// Rate limiting

func TestHandler_RateLimitBreach(t *testing.T) {
	opts := testOptions(t)
	opts.Limiter = newLimiter(t, 3)
	var c counter
	opts.Mounts = append(opts.Mounts, Mount{Pattern: "/api/v1/count", Register: c.register})
	h := mustHandler(t, opts)

	for i := 0; i < 3; i++ {
		if rec := get(h, "/api/v1/count/x"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
	rec := get(h, "/api/v1/count/x")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := jsonBody(t, rec)["message"]; msg != ratelimit.DefaultMessage {
		t.Fatalf("message = %v", msg)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("headers = %v", rec.Header())
	}
	if c.n.Load() != 3 {
		t.Fatalf("router reached %d times, want 3", c.n.Load())
	}

	// views are outside the limited prefix
	if rec := get(h, "/"); rec.Code != http.StatusOK {
		t.Fatalf("overview status = %d", rec.Code)
	}
}

func TestHandler_RateLimitPerClient(t *testing.T) {
	opts := testOptions(t)
	opts.Limiter = newLimiter(t, 1)
	h := mustHandler(t, opts)

	for _, addr := range []string{"203.0.113.1:1", "203.0.113.2:1"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tours", http.NoBody)
		req.RemoteAddr = addr
		if rec := do(h, req); rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", addr, rec.Code)
		}
	}
}

// Body limits and parsing

func TestHandler_JSONBodyTooLarge(t *testing.T) {
	opts := testOptions(t)
	var c counter
	opts.Mounts = append(opts.Mounts, Mount{Pattern: "/api/v1/count", Register: c.register})
	h := mustHandler(t, opts)

	big := `{"name":"` + strings.Repeat("a", 11<<10) + `"}`
	rec := postJSON(h, "/api/v1/count/x", big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
	if c.n.Load() != 0 {
		t.Fatal("router reached with oversized body")
	}
}

func TestHandler_MalformedJSON(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	rec := postJSON(h, "/api/v1/tours", `{"name":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandler_URLEncodedBody(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader("name=Jonas&role[]=guide&role[]=admin&address[city]=Lisbon"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, _ := echoData(t, do(h, req))["body"].(map[string]any)
	if body["name"] != "Jonas" {
		t.Fatalf("body = %v", body)
	}
	// role is not whitelisted, so the pollution guard keeps the last value
	if body["role"] != "admin" {
		t.Fatalf("role = %v", body["role"])
	}
	if addr, _ := body["address"].(map[string]any); addr["city"] != "Lisbon" {
		t.Fatalf("address = %v", body["address"])
	}
}

// Sanitizers

func TestHandler_NoSQLOperatorsStripped(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	rec := postJSON(h, "/api/v1/users", `{"email":{"$gt":""},"password":"pass1234"}`)

	body, _ := echoData(t, rec)["body"].(map[string]any)
	email, _ := body["email"].(map[string]any)
	if len(email) != 0 {
		t.Fatalf("email = %v", body["email"])
	}
	if body["password"] != "pass1234" {
		t.Fatalf("password = %v", body["password"])
	}
}

func TestHandler_NoSQLQueryOperatorsStripped(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	query, _ := echoData(t, get(h, "/api/v1/tours?price[$lt]=500&difficulty=easy"))["query"].(map[string]any)
	if _, ok := query["price[$lt]"]; ok {
		t.Fatalf("query = %v", query)
	}
	if query["difficulty"] != "easy" {
		t.Fatalf("query = %v", query)
	}
}

func TestHandler_XSSStripped(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	rec := postJSON(h, "/api/v1/tours", `{"name":"<script>alert(1)</script>The Park Camper"}`)
	body, _ := echoData(t, rec)["body"].(map[string]any)
	name, _ := body["name"].(string)
	if strings.Contains(name, "<script>") || !strings.Contains(name, "The Park Camper") {
		t.Fatalf("name = %q", name)
	}
}

// Parameter pollution

func TestHandler_ParameterPollution(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	query, _ := echoData(t, get(h, "/api/v1/tours?sort=a&sort=b&price=10&price=20"))["query"].(map[string]any)

	if query["sort"] != "b" {
		t.Fatalf("sort = %v", query["sort"])
	}
	prices, _ := query["price"].([]any)
	if len(prices) != 2 || prices[0] != "10" || prices[1] != "20" {
		t.Fatalf("price = %v", query["price"])
	}
}

// Access log

func TestHandler_AccessLogOnlyInDevelopment(t *testing.T) {
	for _, dev := range []bool{false, true} {
		t.Run(fmt.Sprintf("development=%v", dev), func(t *testing.T) {
			rl := &recordingLogger{}
			opts := testOptions(t)
			opts.Logger = rl
			opts.Development = dev
			h := mustHandler(t, opts)

			get(h, "/api/v1/tours")
			get(h, "/css/style.css")

			want := 0
			if dev {
				want = 1 // the static stage answers before the access log
			}
			if got := rl.count("http request"); got != want {
				t.Fatalf("access log entries = %d, want %d", got, want)
			}
		})
	}
}

// Error handling

func TestHandler_DownstreamErrorProduction(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	rec := get(h, "/api/v1/tours/error")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	body := jsonBody(t, rec)
	if body["message"] != "Something went very wrong!" || strings.Contains(rec.Body.String(), "tour lookup failed") {
		t.Fatalf("body = %v", body)
	}
}

func TestHandler_DownstreamErrorDevelopment(t *testing.T) {
	opts := testOptions(t)
	opts.Development = true
	h := mustHandler(t, opts)

	body := jsonBody(t, get(h, "/api/v1/tours/error"))
	if body["message"] != "tour lookup failed" {
		t.Fatalf("body = %v", body)
	}
	if stack, _ := body["stack"].(string); stack == "" {
		t.Fatal("development response should carry a stack")
	}
}

func TestHandler_PanicInRouterBecomesError(t *testing.T) {
	opts := testOptions(t)
	opts.Mounts = append(opts.Mounts, Mount{Pattern: "/api/v1/panic", Register: func(r chi.Router) {
		r.Get("/", func(http.ResponseWriter, *http.Request) { panic("boom") })
	}})
	h := mustHandler(t, opts)

	rec := get(h, "/api/v1/panic")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if jsonBody(t, rec)["status"] != "error" {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestHandler_PanicCountedOnce(t *testing.T) {
	opts := testOptions(t)
	opts.Metrics = metrics.New()
	opts.OnPanic = opts.Metrics.IncHttpPanic
	opts.Mounts = append(opts.Mounts, Mount{Pattern: "/api/v1/panic", Register: func(r chi.Router) {
		r.Get("/", func(http.ResponseWriter, *http.Request) { panic("boom") })
	}})
	h := mustHandler(t, opts)

	get(h, "/api/v1/panic")
	get(h, "/api/v1/tours")

	rec := httptest.NewRecorder()
	opts.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if !strings.Contains(rec.Body.String(), "http_panic_total 1\n") {
		t.Fatalf("want exactly one counted panic, metrics:\n%s", rec.Body.String())
	}
}

func TestHandler_PipelineErrorsCounted(t *testing.T) {
	opts := testOptions(t)
	opts.Metrics = metrics.New()
	h := mustHandler(t, opts)

	get(h, "/api/v1/nope")
	get(h, "/api/v1/nope")

	rec := httptest.NewRecorder()
	opts.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if !strings.Contains(rec.Body.String(), `pipeline_errors_total{kind="not_found"} 2`) {
		t.Fatalf("metrics missing pipeline error count")
	}
}

// Static, headers, views

func TestHandler_StaticAssets(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	rec := get(h, "/css/style.css")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Cache-Control") == "" {
		t.Fatal("static response missing Cache-Control")
	}
	if rec.Header().Get("Content-Security-Policy-Report-Only") != "" {
		t.Fatal("static stage answers before the CSP stage")
	}
}

func TestHandler_CSPReportOnly(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	for _, target := range []string{"/", "/api/v1/tours", "/api/v1/missing"} {
		rec := get(h, target)
		csp := rec.Header().Get("Content-Security-Policy-Report-Only")
		if !strings.Contains(csp, "default-src 'self'") || strings.Contains(csp, "upgrade-insecure-requests") {
			t.Errorf("%s: CSP = %q", target, csp)
		}
		if rec.Header().Get("Content-Security-Policy") != "" {
			t.Errorf("%s: enforcing CSP header set", target)
		}
	}
}

func TestHandler_Views(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	rec := get(h, "/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "2024-05-01T12:00:00.000Z") {
		t.Fatalf("overview %d: %s", rec.Code, rec.Body.String())
	}
	if rec := get(h, "/tour/the-forest-hiker"); rec.Code != http.StatusOK {
		t.Fatalf("tour status = %d", rec.Code)
	}
	if rec := get(h, "/tour/unknown"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown tour status = %d", rec.Code)
	}
}

func TestHandler_RequestTimeAndCookies(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/9", http.NoBody)
	req.Header.Set("Cookie", "jwt=abc.def; theme=dark")
	rec := do(h, req)

	out := jsonBody(t, rec)
	if out["requestedAt"] != "2024-05-01T12:00:00.000Z" {
		t.Fatalf("requestedAt = %v", out["requestedAt"])
	}
	cookies, _ := echoData(t, rec)["cookies"].(map[string]any)
	if cookies["jwt"] != "abc.def" || cookies["theme"] != "dark" {
		t.Fatalf("cookies = %v", cookies)
	}
}

func TestHandler_RequestID(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	if id := get(h, "/api/v1/tours").Header().Get("X-Request-Id"); id == "" {
		t.Fatal("missing generated request id")
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tours", http.NoBody)
	req.Header.Set("X-Request-Id", "abc-123")
	if id := do(h, req).Header().Get("X-Request-Id"); id != "abc-123" {
		t.Fatalf("request id = %q", id)
	}
}

func TestHandler_CompressesJSON(t *testing.T) {
	h := mustHandler(t, testOptions(t))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tours?pad="+strings.Repeat("x", 2048), http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := do(h, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", rec.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(plain, []byte(`"status":"success"`)) {
		t.Fatalf("decompressed body = %s", plain)
	}
}

// Server

func TestNewServer_Configuration(t *testing.T) {
	srv := NewServer(":8080", http.NotFoundHandler())
	if srv.ReadHeaderTimeout != DefaultReadHeaderTimeout || srv.ReadTimeout != DefaultReadTimeout ||
		srv.WriteTimeout != DefaultWriteTimeout || srv.IdleTimeout != DefaultIdleTimeout ||
		srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Fatalf("unexpected server config: %+v", srv)
	}
}

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestStart_ServesAndStops(t *testing.T) {
	opts := testOptions(t)
	opts.Port = getFreePort(t)
	ctx := context.Background()

	stop, err := Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/tours", opts.Port)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
