package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/keithlinneman/tours-web/internal/xerrors"
)

// DefaultMessage is returned to clients that exceed the limit.
const DefaultMessage = "Too many requests form this IP, please try again in an hour."

// Decision is the outcome of one Check.
type Decision struct {
	Allowed bool
	Limit   int
	// Remaining requests in the current window, never negative.
	Remaining int
	// Count of requests seen in the current window, this one included.
	Count   int
	ResetAt time.Time
}

// RetryAfter is the time until the window resets, rounded up to a whole
// second and never below one.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	secs := (d.ResetAt.Sub(now) + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

// Limiter enforces max requests per identity per window.
type Limiter struct {
	store   Store
	max     int
	window  time.Duration
	message string
	now     func() time.Time

	// OnFirstDenied is called once per identity per window, on the first
	// request past the limit. Used for logging.
	OnFirstDenied func(identity string)

	// OnDenied is called on every denied request, used for incrementing prometheus counter
	OnDenied func(identity string)

	// OnStoreError sees every store failure other than ErrCapacity.
	OnStoreError func(err error)
}

type Option func(*Limiter)

// WithMax sets the number of requests allowed per window.
func WithMax(n int) Option {
	return func(l *Limiter) { l.max = n }
}

func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithMessage replaces DefaultMessage.
func WithMessage(msg string) Option {
	return func(l *Limiter) { l.message = msg }
}

func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithOnFirstDenied(fn func(identity string)) Option {
	return func(l *Limiter) { l.OnFirstDenied = fn }
}

func WithOnDenied(fn func(identity string)) Option {
	return func(l *Limiter) { l.OnDenied = fn }
}

func WithOnStoreError(fn func(err error)) Option {
	return func(l *Limiter) { l.OnStoreError = fn }
}

// New returns a limiter allowing 100 requests per hour by default. Without
// WithStore it uses a MemoryStore whose sweeper stops when ctx is cancelled.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		max:     100,
		window:  time.Hour,
		message: DefaultMessage,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.store == nil {
		l.store = NewMemoryStore(ctx)
	}
	return l
}

func (l *Limiter) Max() int { return l.max }

func (l *Limiter) Window() time.Duration { return l.window }

func (l *Limiter) Message() string { return l.message }

func (l *Limiter) Now() time.Time { return l.now() }

// Check counts one request for identity. A store at capacity denies new
// identities. Any other store failure is returned with an allowing decision
// so the caller can choose to fail open.
func (l *Limiter) Check(ctx context.Context, identity string) (Decision, error) {
	now := l.now()
	count, resetAt, err := l.store.Increment(ctx, identity, l.window, now)
	if errors.Is(err, ErrCapacity) {
		l.denied(identity, false)
		return Decision{Limit: l.max, ResetAt: now.Add(l.window)}, nil
	}
	if err != nil {
		if l.OnStoreError != nil {
			l.OnStoreError(err)
		}
		return Decision{Allowed: true, Limit: l.max, Remaining: l.max}, xerrors.Wrapf(err, "ratelimit check %q", identity)
	}

	d := Decision{
		Allowed:   count <= l.max,
		Limit:     l.max,
		Remaining: max(l.max-count, 0),
		Count:     count,
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		l.denied(identity, count == l.max+1)
	}
	return d, nil
}

func (l *Limiter) denied(identity string, first bool) {
	if first && l.OnFirstDenied != nil {
		l.OnFirstDenied(identity)
	}
	if l.OnDenied != nil {
		l.OnDenied(identity)
	}
}
