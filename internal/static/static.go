// Package static serves the public directory as the first pipeline stage.
// Requests it cannot answer fall through untouched.
package static

import (
	"net/http"

	"github.com/keithlinneman/tours-web/internal/metrics"
	"github.com/keithlinneman/tours-web/internal/pipeline"
)

// RouteLabel is the metrics route for every file this stage serves.
const RouteLabel = "static"

type stage struct {
	opts Options
}

// New validates opts and returns the static file stage.
func New(opts Options) (pipeline.Stage, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &stage{opts: opts}, nil
}

func (s *stage) Name() string { return "static" }

func (s *stage) Wrap(next pipeline.Handler) pipeline.Handler {
	return pipeline.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			return next.ServeHTTP(w, r)
		}

		file, redirect, ok := resolvePath(r.URL.Path, s.opts.FS, s.opts.Index)
		if !ok {
			return next.ServeHTTP(w, r)
		}

		metrics.SetRoute(r.Context(), RouteLabel)
		if redirect != "" {
			if r.URL.RawQuery != "" {
				redirect += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, redirect, http.StatusMovedPermanently)
			return nil
		}

		if cc := cacheControlForFile(file, &s.opts); cc != "" {
			w.Header().Set("Cache-Control", cc)
		}
		http.ServeFileFS(w, r, s.opts.FS, file)
		return nil
	})
}
