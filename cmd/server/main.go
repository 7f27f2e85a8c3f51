package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/tours-web/internal/assets"
	"github.com/keithlinneman/tours-web/internal/cfg"
	"github.com/keithlinneman/tours-web/internal/health"
	"github.com/keithlinneman/tours-web/internal/httpmw"
	"github.com/keithlinneman/tours-web/internal/httpserver"
	"github.com/keithlinneman/tours-web/internal/log"
	"github.com/keithlinneman/tours-web/internal/metrics"
	"github.com/keithlinneman/tours-web/internal/opshttp"
	"github.com/keithlinneman/tours-web/internal/otelx"
	"github.com/keithlinneman/tours-web/internal/prof"
	"github.com/keithlinneman/tours-web/internal/ratelimit"
	"github.com/keithlinneman/tours-web/internal/routes"
	v "github.com/keithlinneman/tours-web/internal/version"
	"github.com/keithlinneman/tours-web/internal/webassets"
)

// drainPeriod gives the load balancer time to notice a failing readiness
// probe before listeners close.
const drainPeriod = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	// flags set on the command line win over TOURS_* variables
	cfg.FillFromEnv(flag.CommandLine, "TOURS_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Env:               conf.Env,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"env", conf.Env,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
		"public_dir", conf.PublicDir,
		"public_s3_bucket", conf.PublicS3Bucket,
		"ratelimit_max", conf.RateLimitMax,
		"ratelimit_window", conf.RateLimitWindow.String(),
		"ratelimit_store", conf.RateLimitStore,
		"body_limit", conf.BodyLimit,
		"trusted_hops", conf.TrustedHops,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"env":       conf.Env,
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure because the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
		Env:       conf.Env,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	if conf.PublicS3Bucket != "" {
		syncer, err := assets.NewS3Syncer(ctx, assets.S3Options{
			Logger: L,
			Bucket: conf.PublicS3Bucket,
			Prefix: conf.PublicS3Prefix,
			Dir:    conf.PublicDir,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create public asset syncer")
			os.Exit(1)
		}
		// stale or embedded assets are better than no site
		if _, err := syncer.Sync(ctx); err != nil {
			L.Error(ctx, err, "public asset sync failed, serving existing files")
		}
	}
	public, source := assets.Public(ctx, conf.PublicDir, L)
	m.SetAssetsSource(source)

	tmpl, err := webassets.Templates()
	if err != nil {
		L.Error(ctx, err, "failed to parse templates")
		os.Exit(1)
	}
	views, err := routes.NewViews(tmpl, routes.DefaultCatalog)
	if err != nil {
		L.Error(ctx, err, "failed to create views")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := []health.Probe{gate.Probe()}

	store, closeStore, err := newRateLimitStore(ctx, conf, m, L)
	if err != nil {
		L.Error(ctx, err, "failed to create rate limit store")
		os.Exit(1)
	}
	defer closeStore()
	if p, ok := store.(health.Pinger); ok {
		readiness = append(readiness, health.Timeout(health.Ping("redis", p), 2*time.Second))
	}

	limiter := ratelimit.New(ctx,
		ratelimit.WithMax(conf.RateLimitMax),
		ratelimit.WithWindow(conf.RateLimitWindow),
		ratelimit.WithStore(store),
		ratelimit.WithOnDenied(func(string) {
			m.IncRateLimitDenied()
		}),
		ratelimit.WithOnStoreError(func(error) {
			m.IncRateLimitStoreError()
		}),
		// once per identity and window
		ratelimit.WithOnFirstDenied(func(identity string) {
			L.Warn(ctx, "rate limit triggered", "client.address", identity)
		}),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Development:  conf.Development(),
		Public:       public,
		Templates:    tmpl,
		Limiter:      limiter,
		BodyLimit:    conf.BodyLimit,
		ClientIP:     httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Mounts:       httpserver.StandardMounts(views),
		Metrics:      m,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// the ops listener also refuses public peers in middleware in case the
	// security group is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.OK(),
		Readiness:   health.All(readiness...),
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "drain_period", drainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()
	closeStore()

	L.Info(context.Background(), "shutdown complete")
}

// newRateLimitStore builds the configured counter store. The returned close
// func is safe to call more than once.
func newRateLimitStore(ctx context.Context, conf cfg.App, m *metrics.ServerMetrics, L log.Logger) (ratelimit.Store, func(), error) {
	switch conf.RateLimitStore {
	case cfg.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: conf.RedisAddr})
		store := ratelimit.NewRedisStore(client, conf.RedisPrefix)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		// the limiter fails open, so an unreachable redis only degrades limiting
		if err := store.Ping(pingCtx); err != nil {
			L.Warn(ctx, "redis unreachable at startup", "redis_addr", conf.RedisAddr, "error", err)
		}

		var closed bool
		return store, func() {
			if closed {
				return
			}
			closed = true
			_ = client.Close()
		}, nil
	case cfg.StoreMemory, "":
		store := ratelimit.NewMemoryStore(ctx,
			ratelimit.WithMaxKeys(conf.RateLimitMaxKeys),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some windows expire")
			}),
		)
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown rate limit store %q", conf.RateLimitStore)
	}
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit uses Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
