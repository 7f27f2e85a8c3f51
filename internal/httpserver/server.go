package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/tours-web/internal/apperror"
	"github.com/keithlinneman/tours-web/internal/errhandler"
	"github.com/keithlinneman/tours-web/internal/httpmw"
	"github.com/keithlinneman/tours-web/internal/log"
	"github.com/keithlinneman/tours-web/internal/pipeline"
	"github.com/keithlinneman/tours-web/internal/ratelimit"
	"github.com/keithlinneman/tours-web/internal/request"
	"github.com/keithlinneman/tours-web/internal/static"
	"github.com/keithlinneman/tours-web/internal/webassets"
	"github.com/keithlinneman/tours-web/internal/xerrors"
)

// NewPipeline builds the ordered request pipeline: static assets, CSP,
// access log (development only), rate limit (API only), body parsers,
// cookies, sanitizers, pollution guard, request time, then the router.
func NewPipeline(opts *Options) (*pipeline.Pipeline, error) {
	public := opts.Public
	if public == nil {
		public = webassets.PublicFS()
	}
	staticStage, err := static.New(static.Options{FS: public})
	if err != nil {
		return nil, xerrors.Wrap(err, "static stage")
	}

	tmpl := opts.Templates
	if tmpl == nil {
		if tmpl, err = webassets.Templates(); err != nil {
			return nil, err
		}
	}
	eh := errhandler.Options{Development: opts.Development, Templates: tmpl}
	if opts.Metrics != nil {
		eh.Metrics = opts.Metrics
	}
	onError, err := errhandler.New(eh)
	if err != nil {
		return nil, xerrors.Wrap(err, "error handler")
	}

	var limit pipeline.Stage
	if opts.Limiter != nil {
		prefix := opts.RateLimitPrefix
		if prefix == "" {
			prefix = "/api"
		}
		limit = pipeline.Prefix(prefix, opts.Limiter.Stage(ratelimit.StageOptions{}))
	}

	whitelist := opts.PollutionWhitelist
	if whitelist == nil {
		whitelist = httpmw.DefaultPollutionWhitelist
	}

	handle := onError.Handle
	if onPanic := opts.OnPanic; onPanic != nil {
		handle = func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, pipeline.ErrPanic) {
				onPanic()
			}
			onError.Handle(w, r, err)
		}
	}

	return pipeline.New(pipeline.Dispatch(newRouter(opts.Mounts)), handle,
		staticStage,
		httpmw.ContentSecurityPolicy(httpmw.CSPOptions{Directives: opts.CSPDirectives, ReportOnly: true}),
		pipeline.When(opts.Development, httpmw.AccessLog()),
		limit,
		httpmw.JSONBody(opts.BodyLimit),
		httpmw.URLEncodedBody(opts.BodyLimit),
		httpmw.Cookies(),
		httpmw.NoSQLSanitize(),
		httpmw.XSSSanitize(),
		httpmw.ParameterPollution(whitelist),
		httpmw.RequestTime(opts.Now),
	), nil
}

// newRouter mounts the routers and turns every unmatched path or method into
// a not-found error for the pipeline's error handler.
func newRouter(mounts []Mount) chi.Router {
	r := chi.NewRouter()
	notFound := pipeline.Errorable(func(w http.ResponseWriter, r *http.Request) error {
		return apperror.NotFound(originalURL(r))
	})
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	for _, m := range mounts {
		if m.Register == nil {
			continue
		}
		if m.Pattern == "" || m.Pattern == "/" {
			r.Group(m.Register)
			continue
		}
		r.Route(m.Pattern, m.Register)
	}
	return r
}

// originalURL is the request target as the client sent it, query included.
func originalURL(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}

// routeContext gives chi a route context up front so stages running after
// dispatch can read the matched pattern.
func routeContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}
		next.ServeHTTP(w, r)
	})
}

// shouldTrace skips health checks and static assets.
func shouldTrace(p string) bool {
	if p == "/favicon.ico" || p == "/robots.txt" || p == "/-/healthy" || p == "/-/ready" {
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}
	return true
}

// NewHandler wraps the pipeline in the transport middleware. main() owns
// *http.Server so it can do graceful shutdown.
func NewHandler(opts *Options) (http.Handler, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	p, err := NewPipeline(opts)
	if err != nil {
		return nil, err
	}

	var recoverMW httpmw.Middleware
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(opts.Logger, opts.OnPanic)
	}
	var metricsMW httpmw.Middleware
	if opts.Metrics != nil {
		metricsMW = opts.Metrics.Middleware
	}

	traced := func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "http.server",
			otelhttp.WithFilter(func(r *http.Request) bool { return shouldTrace(r.URL.Path) }),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				// AnnotateHTTPRoute renames the span to the route pattern
				return r.Method + " " + r.URL.Path
			}),
			otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
		)
	}

	return httpmw.Chain(p,
		recoverMW,
		httpmw.RequestID("X-Request-Id"),
		httpmw.ClientIP(opts.ClientIP),
		traced,
		httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id"),
		routeContext,
		metricsMW,
		httpmw.WithLogger(opts.Logger),
		httpmw.AnnotateHTTPRoute,
		middleware.Compress(5,
			"text/html",
			"text/css",
			"application/javascript",
			"text/javascript",
			"application/json",
			"image/svg+xml",
		),
		request.Attach,
	), nil
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start public HTTP server
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	handler, err := NewHandler(opts)
	if err != nil {
		return nil, err
	}
	srv := NewServer(addr, handler)

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp4", addr)
	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", addr, "development", opts.Development)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
