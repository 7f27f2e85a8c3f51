package httpmw

import (
	"net/http"
	"strings"

	"github.com/keithlinneman/tours-web/internal/pipeline"
)

// Directive is one content-security-policy directive; an empty Values list
// renders the bare name.
type Directive struct {
	Name   string
	Values []string
}

// DefaultCSPDirectives is the common same-origin baseline.
var DefaultCSPDirectives = []Directive{
	{"default-src", []string{"'self'"}},
	{"base-uri", []string{"'self'"}},
	{"font-src", []string{"'self'", "https:", "data:"}},
	{"form-action", []string{"'self'"}},
	{"frame-ancestors", []string{"'self'"}},
	{"img-src", []string{"'self'", "data:"}},
	{"object-src", []string{"'none'"}},
	{"script-src", []string{"'self'"}},
	{"script-src-attr", []string{"'none'"}},
	{"style-src", []string{"'self'", "https:", "'unsafe-inline'"}},
	{"upgrade-insecure-requests", nil},
}

type CSPOptions struct {
	// Directives defaults to DefaultCSPDirectives.
	Directives []Directive
	// ReportOnly sends Content-Security-Policy-Report-Only, so violations are
	// reported by browsers but nothing is blocked.
	ReportOnly bool
}

// ContentSecurityPolicy sets the CSP header on every response that reaches
// it. upgrade-insecure-requests is dropped in report-only mode since browsers
// ignore it there.
func ContentSecurityPolicy(opts CSPOptions) pipeline.Stage {
	header := "Content-Security-Policy"
	if opts.ReportOnly {
		header = "Content-Security-Policy-Report-Only"
	}
	value := buildPolicy(opts.Directives, opts.ReportOnly)

	return pipeline.StageFunc("csp", func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		w.Header().Set(header, value)
		return r, nil
	})
}

func buildPolicy(directives []Directive, reportOnly bool) string {
	if directives == nil {
		directives = DefaultCSPDirectives
	}
	parts := make([]string, 0, len(directives))
	for _, d := range directives {
		if reportOnly && d.Name == "upgrade-insecure-requests" {
			continue
		}
		if len(d.Values) == 0 {
			parts = append(parts, d.Name)
			continue
		}
		parts = append(parts, d.Name+" "+strings.Join(d.Values, " "))
	}
	return strings.Join(parts, ";")
}
