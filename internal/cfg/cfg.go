package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/pipeline-web/internal/log"
)

// EnvPrefix namespaces the operational flags in the environment so they do
// not collide with the application variables in Environment.
const EnvPrefix = "APP_"

var environ = os.Environ

// App holds operational settings: listeners, logging, telemetry, limits.
type App struct {
	LogJSON               bool
	LogLevel              string
	StacktraceLevel       string
	IncludeErrorLinks     bool
	MaxErrorLinks         int
	HTTPPort              int
	AdminPort             int
	PublicDir             string
	TrustedHops           int
	EnablePprof           bool
	EnableTracing         bool
	OTLPEndpoint          string
	TraceSample           float64
	EnablePyroscope       bool
	PyroServer            string
	PyroTenantID          string
	RateLimitRPS          float64
	RateLimitBurst        int
	SessionTimeout        time.Duration
	RedisConnectTimeout   time.Duration
	ShutdownDrain         time.Duration
	CookieSecretSSMParam  string
	RedisPasswordSSMParam string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs; always on when NODE_ENV=production")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.IntVar(&c.HTTPPort, "http-port", 3000, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.StringVar(&c.PublicDir, "public-dir", "public", "directory served by the static stage; embedded assets are used when missing")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "reverse proxies trusted for X-Forwarded-* in production (1..10)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", false, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 0, "per-ip requests per second, 0 disables")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 30, "per-ip burst size")
	fs.DurationVar(&c.SessionTimeout, "session-timeout", 2*time.Second, "timeout for each session store round trip")
	fs.DurationVar(&c.RedisConnectTimeout, "redis-connect-timeout", 30*time.Second, "how long to retry the initial session store connection")
	fs.DurationVar(&c.ShutdownDrain, "shutdown-drain", 5*time.Second, "time readiness reports draining before listeners stop")
	fs.StringVar(&c.CookieSecretSSMParam, "cookie-secret-ssm-param", "", "SSM parameter holding COOKIE_SECRET (overrides env)")
	fs.StringVar(&c.RedisPasswordSSMParam, "redis-password-ssm-param", "", "SSM parameter holding REDIS_PASSWORD (overrides env)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		val, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, val)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, val); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, val, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App, e Environment) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.PublicDir == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_DIR is required"))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..10 (got %d)", c.TrustedHops))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}
	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be >= 0 (got %v)", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be >= 1 when rate limiting is on (got %d)", c.RateLimitBurst))
	}
	if c.SessionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TIMEOUT must be positive (got %s)", c.SessionTimeout))
	}
	if c.RedisConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REDIS_CONNECT_TIMEOUT must be positive (got %s)", c.RedisConnectTimeout))
	}
	if c.ShutdownDrain < 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_DRAIN must be >= 0 (got %s)", c.ShutdownDrain))
	}

	// application environment
	if e.NodeEnv == "" {
		errs = append(errs, fmt.Errorf("NODE_ENV must not be empty"))
	}
	if e.RedisHost == "" {
		errs = append(errs, fmt.Errorf("REDIS_HOST must not be empty"))
	}
	if e.RedisPort < 1 || e.RedisPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid REDIS_PORT %d (must be 1..65535)", e.RedisPort))
	}

	return errors.Join(errs...)
}
