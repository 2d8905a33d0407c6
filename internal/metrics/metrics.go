package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/pipeline-web/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	// pipeline stages
	csrfFailuresTotal prometheus.Counter
	errorPagesTotal   *prometheus.CounterVec
	staticServedTotal prometheus.Counter
	sessionOpsTotal   *prometheus.CounterVec
	sessionStoreUp    prometheus.Gauge
	profilingActive   prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP and pipeline metrics.
// Labels are bounded: method, route pattern, status, store op, error code.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		csrfFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csrf_failures_total",
			Help: "Requests rejected for a missing or invalid CSRF token",
		}),
		errorPagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "error_pages_rendered_total",
			Help: "Errors rendered by the terminal stage by status and code",
		}, []string{"status", "code"}),
		staticServedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "static_files_served_total",
			Help: "Responses served from the public directory",
		}),
		sessionOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_store_operations_total",
			Help: "Session store round trips by operation and result",
		}, []string{"op", "result"}),
		sessionStoreUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_store_up",
			Help: "Whether the last readiness ping of the session store succeeded (1) or not (0)",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.csrfFailuresTotal,
		m.errorPagesTotal,
		m.staticServedTotal,
		m.sessionOpsTotal,
		m.sessionStoreUp,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHTTPPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) IncCSRFFailure() {
	m.csrfFailuresTotal.Inc()
}

// IncErrorPage counts one error handled by the terminal stage. An empty code
// is recorded as "none".
func (m *ServerMetrics) IncErrorPage(status int, code string) {
	if code == "" {
		code = "none"
	}
	m.errorPagesTotal.WithLabelValues(strconv.Itoa(status), code).Inc()
}

func (m *ServerMetrics) IncStaticServed() {
	m.staticServedTotal.Inc()
}

// ObserveSessionOp matches session.Options.Observe.
func (m *ServerMetrics) ObserveSessionOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sessionOpsTotal.WithLabelValues(op, result).Inc()
}

func (m *ServerMetrics) SetSessionStoreUp(up bool) {
	m.sessionStoreUp.Set(boolGauge(up))
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
