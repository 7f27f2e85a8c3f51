package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keithlinneman/tours-web/internal/pipeline"
)

func TestContentSecurityPolicy_ReportOnly(t *testing.T) {
	var reached bool
	h := ContentSecurityPolicy(CSPOptions{ReportOnly: true}).Wrap(pipeline.HandlerFunc(func(http.ResponseWriter, *http.Request) error {
		reached = true
		return nil
	}))
	rec := httptest.NewRecorder()
	if err := h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody)); err != nil {
		t.Fatal(err)
	}
	if !reached {
		t.Fatal("csp stage must continue")
	}
	if rec.Header().Get("Content-Security-Policy") != "" {
		t.Fatal("enforcing header set in report-only mode")
	}
	got := rec.Header().Get("Content-Security-Policy-Report-Only")
	if !strings.HasPrefix(got, "default-src 'self';") {
		t.Fatalf("policy = %q", got)
	}
	if strings.Contains(got, "upgrade-insecure-requests") {
		t.Fatalf("upgrade-insecure-requests in report-only policy: %q", got)
	}
}

func TestContentSecurityPolicy_Enforcing(t *testing.T) {
	h := ContentSecurityPolicy(CSPOptions{}).Wrap(pipeline.HandlerFunc(func(http.ResponseWriter, *http.Request) error { return nil }))
	rec := httptest.NewRecorder()
	_ = h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	got := rec.Header().Get("Content-Security-Policy")
	if !strings.HasSuffix(got, ";upgrade-insecure-requests") {
		t.Fatalf("policy = %q", got)
	}
}

func TestBuildPolicy(t *testing.T) {
	tests := []struct {
		name       string
		directives []Directive
		reportOnly bool
		want       string
	}{
		{"custom", []Directive{{"default-src", []string{"'none'"}}, {"img-src", []string{"'self'", "data:"}}}, false, "default-src 'none';img-src 'self' data:"},
		{"bare directive", []Directive{{"block-all-mixed-content", nil}}, false, "block-all-mixed-content"},
		{"empty list", []Directive{}, false, ""},
		{"report only drops upgrade", []Directive{{"upgrade-insecure-requests", nil}, {"object-src", []string{"'none'"}}}, true, "object-src 'none'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildPolicy(tt.directives, tt.reportOnly); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
