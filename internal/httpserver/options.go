package httpserver

import (
	"html/template"
	"io/fs"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tours-web/internal/httpmw"
	"github.com/keithlinneman/tours-web/internal/log"
	"github.com/keithlinneman/tours-web/internal/metrics"
	"github.com/keithlinneman/tours-web/internal/ratelimit"
)

// Mount attaches a router under Pattern. An empty pattern or "/" registers
// the routes on the root router.
type Mount struct {
	Pattern  string
	Register func(chi.Router)
}

type Options struct {
	Logger log.Logger
	Port   int

	// Development enables the access log stage and detailed error responses.
	Development bool

	// Public is served by the static stage. Defaults to the embedded assets.
	Public fs.FS
	// Templates must define error.html.
	Templates *template.Template

	// Limiter guards RateLimitPrefix (default "/api"). Nil disables it.
	Limiter         *ratelimit.Limiter
	RateLimitPrefix string

	// BodyLimit caps JSON and url-encoded bodies. Default: httpmw.DefaultBodyLimit.
	BodyLimit int64
	// PollutionWhitelist lists query keys allowed to repeat. Default:
	// httpmw.DefaultPollutionWhitelist.
	PollutionWhitelist []string
	// CSPDirectives defaults to httpmw.DefaultCSPDirectives. The policy is
	// always sent report-only.
	CSPDirectives []httpmw.Directive
	ClientIP      httpmw.ClientIPOptions
	// Now stamps State.RequestTime. Default: time.Now.
	Now func() time.Time

	Mounts []Mount

	// Metrics instruments requests and handled errors when set.
	Metrics      *metrics.ServerMetrics
	UseRecoverMW bool
	// OnPanic runs once for every recovered panic, whether the pipeline or
	// the outer recover middleware caught it.
	OnPanic func()
}
