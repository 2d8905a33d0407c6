package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

const DefaultTraceHeader = "X-Trace-Id"

// TraceID echoes the trace id of sampled requests so a user-visible error
// can be matched to its trace. Unsampled traces are not exposed.
func TraceID(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultTraceHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() && sc.IsSampled() {
				w.Header().Set(header, sc.TraceID().String())
			}
			next.ServeHTTP(w, r)
		})
	}
}
