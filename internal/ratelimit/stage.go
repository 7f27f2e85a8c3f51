package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/tours-web/internal/apperror"
	"github.com/keithlinneman/tours-web/internal/httpmw"
	"github.com/keithlinneman/tours-web/internal/log"
	"github.com/keithlinneman/tours-web/internal/pipeline"
)

// StageOptions tunes the pipeline stage.
type StageOptions struct {
	// Identify maps a request to a limiter key. Defaults to the client IP
	// resolved by httpmw.ClientIP, falling back to the connection peer.
	Identify func(r *http.Request) string
}

type stage struct {
	l      *Limiter
	opts   StageOptions
	logErr *rate.Sometimes
}

// Stage wraps the limiter for the request pipeline. Every checked response
// carries X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset;
// denied requests also get Retry-After and short-circuit with a 429 error.
func (l *Limiter) Stage(opts StageOptions) pipeline.Stage {
	if opts.Identify == nil {
		opts.Identify = clientIdentity
	}
	return &stage{
		l:    l,
		opts: opts,
		// a dead store would otherwise log on every request
		logErr: &rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

func (s *stage) Name() string { return "rate-limit" }

func (s *stage) Wrap(next pipeline.Handler) pipeline.Handler {
	return pipeline.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		ctx := r.Context()
		d, err := s.l.Check(ctx, s.opts.Identify(r))
		if err != nil {
			// Limiter.OnStoreError has already seen err
			s.logErr.Do(func() {
				log.FromContext(ctx).Error(ctx, err, "rate limiter store failed, allowing request")
			})
			return next.ServeHTTP(w, r)
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			h.Set("Retry-After", strconv.Itoa(int(d.RetryAfter(s.l.Now())/time.Second)))
			return apperror.TooManyRequests(s.l.Message())
		}
		return next.ServeHTTP(w, r)
	})
}

func clientIdentity(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
