package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keithlinneman/pipeline-web/internal/app"
	"github.com/keithlinneman/pipeline-web/internal/cfg"
	"github.com/keithlinneman/pipeline-web/internal/health"
	"github.com/keithlinneman/pipeline-web/internal/httpmw"
	"github.com/keithlinneman/pipeline-web/internal/httpserver"
	"github.com/keithlinneman/pipeline-web/internal/log"
	"github.com/keithlinneman/pipeline-web/internal/metrics"
	"github.com/keithlinneman/pipeline-web/internal/opshttp"
	"github.com/keithlinneman/pipeline-web/internal/otelx"
	"github.com/keithlinneman/pipeline-web/internal/prof"
	"github.com/keithlinneman/pipeline-web/internal/ratelimit"
	"github.com/keithlinneman/pipeline-web/internal/secrets"
	"github.com/keithlinneman/pipeline-web/internal/session"
	"github.com/keithlinneman/pipeline-web/internal/static"
	"github.com/keithlinneman/pipeline-web/internal/version"
	"github.com/keithlinneman/pipeline-web/internal/view"
	"github.com/keithlinneman/pipeline-web/internal/webassets"
)

func main() {
	vi := version.Get()

	root := &cobra.Command{
		Use:           version.AppName,
		Short:         "Session-backed web application server",
		Version:       vi.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve [flags]",
			Short: "Run the web and admin listeners (default)",
			// flags belong to the stdlib FlagSet in cfg so env fill-in can
			// tell explicit flags from defaults
			DisableFlagParsing: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), args)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version and build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), vi.String())
			},
		},
	)

	args := os.Args[1:]
	if len(args) == 0 || (strings.HasPrefix(args[0], "-") && args[0] != "--version" && args[0] != "--help") {
		args = append([]string{"serve"}, args...)
	}
	root.SetArgs(args)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, args []string) error {
	vi := version.Get()

	// Parse config from flags and env
	var conf cfg.App
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfg.Register(fs, &conf)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	cfg.FillFromEnv(fs, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	env, err := cfg.LoadEnvironment()
	if err != nil {
		return err
	}
	if err := cfg.Validate(conf, env); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	// Setup logging
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               vi.AppName,
		Component:         "server",
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON || env.IsProduction(),
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, kept so a buffered backend gets flushed
	defer func() { _ = lg.Sync() }()
	L := lg
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"node_env", env.NodeEnv,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"public_dir", conf.PublicDir,
		"redis_addr", env.RedisAddr(),
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
		"rate_limit_rps", conf.RateLimitRPS,
	)

	// secrets from SSM override the environment
	params := secrets.Params{CookieSecret: conf.CookieSecretSSMParam, RedisPassword: conf.RedisPasswordSSMParam}
	if !params.Empty() {
		resolver, err := secrets.NewSSMResolver(ctx, L)
		if err != nil {
			return err
		}
		if err := resolver.Apply(ctx, params, &env); err != nil {
			return err
		}
	}
	if env.CookieSecret == "" {
		L.Warn(ctx, "COOKIE_SECRET is not set, requests that reach the session stage will fail")
	}
	if env.IsProduction() {
		L.Warn(ctx, "session cookies are issued without the Secure attribute", "node_env", env.NodeEnv)
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(vi.AppName, "server", &vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       vi.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Environment:   env.NodeEnv,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure is true because we only push to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    true,
		Sample:      conf.TraceSample,
		Service:     vi.AppName,
		Component:   "server",
		Version:     vi.Version,
		Environment: env.NodeEnv,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	store, err := session.Connect(ctx, session.ConnectOptions{
		Addr:           env.RedisAddr(),
		Password:       env.RedisPassword,
		Deadline:       conf.RedisConnectTimeout,
		AttemptTimeout: conf.SessionTimeout,
		Logger:         L,
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	m.SetSessionStoreUp(true)

	views, err := view.New(webassets.ViewsFS())
	if err != nil {
		return err
	}
	public, onDisk, err := static.Dir(conf.PublicDir, webassets.PublicFS())
	if err != nil {
		return err
	}
	if !onDisk {
		L.Info(ctx, "public dir not found, serving embedded assets", "public_dir", conf.PublicDir)
	}

	handler, err := app.New(app.Options{
		Env:            env,
		Logger:         L,
		Store:          store,
		Views:          views,
		Public:         public,
		TrustedHops:    conf.TrustedHops,
		SessionTimeout: conf.SessionTimeout,
		Hooks: app.Hooks{
			CSRFFailure:  m.IncCSRFFailure,
			SessionOp:    m.ObserveSessionOp,
			ErrorPage:    m.IncErrorPage,
			StaticServed: m.IncStaticServed,
			Panic:        m.IncHTTPPanic,
		},
	})
	if err != nil {
		return err
	}

	errPage, err := app.ErrorPage(env, views, m.IncErrorPage)
	if err != nil {
		return err
	}

	hops := 0
	if env.IsProduction() {
		hops = max(conf.TrustedHops, 1)
	}

	var rateLimitMW func(next http.Handler) http.Handler
	if conf.RateLimitRPS > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
			// logged once per visitor until it is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Handler:      handler,
		UseRecoverMW: true,
		OnPanic:      m.IncHTTPPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  rateLimitMW,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: hops},
		ErrorHandler: errPage,
	})
	if err != nil {
		return err
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// readiness fails while draining or while the session store is down
	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.Dependency("redis", conf.SessionTimeout, store.Ping, m.SetSessionStoreUp),
	)

	// admin listener rejects public peers in middleware in case the
	// network rules in front of it are ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHTTPPanic,
	})
	if err != nil {
		return err
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Debug(ctx, "systemd readiness not sent", "reason", err.Error())
	}

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	<-sigCtx.Done()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	if conf.ShutdownDrain > 0 {
		L.Info(bg, "draining", "duration", conf.ShutdownDrain.String())
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-time.After(conf.ShutdownDrain):
			L.Info(bg, "drain period complete")
		case <-forceCh:
			L.Warn(bg, "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()
	if err := store.Close(); err != nil {
		L.Error(bg, err, "session store close")
	}

	L.Info(bg, "shutdown complete")
	return nil
}

func notifySystemd() error {
	// set by systemd for units with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return errors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify: close: %w", err)
	}
	return nil
}
