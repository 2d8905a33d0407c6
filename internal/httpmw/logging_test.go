package httpmw

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/pipeline-web/internal/log"
)

type capturedLog struct {
	msg    string
	fields []any
}

// flatLogger records With() and Info() calls. With() returns the same
// logger so every record lands in one place.
type flatLogger struct {
	mu    sync.Mutex
	infos []capturedLog
	withs [][]any
}

func (l *flatLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withs = append(l.withs, kv)
	return l
}

func (l *flatLogger) Info(_ context.Context, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, capturedLog{msg: msg, fields: kv})
}

func (l *flatLogger) Debug(context.Context, string, ...any)        {}
func (l *flatLogger) Warn(context.Context, string, ...any)         {}
func (l *flatLogger) Error(context.Context, error, string, ...any) {}
func (l *flatLogger) Sync() error                                  { return nil }

func (l *flatLogger) lastInfo(t *testing.T) capturedLog {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.infos) == 0 {
		t.Fatal("no info record emitted")
	}
	return l.infos[len(l.infos)-1]
}

func fieldValue(fields []any, key string) (any, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == key {
			return fields[i+1], true
		}
	}
	return nil, false
}

func withFieldValue(withs [][]any, key string) (any, bool) {
	for _, kv := range withs {
		if v, ok := fieldValue(kv, key); ok {
			return v, true
		}
	}
	return nil, false
}

// withTestLogger installs fl as the request logger, standing in for WithLogger.
func withTestLogger(fl *flatLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(log.WithContext(r.Context(), fl)))
		})
	}
}

type flusherRecorder struct {
	*httptest.ResponseRecorder
	flushed bool
}

func (f *flusherRecorder) Flush() { f.flushed = true }

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

type noHijackRecorder struct {
	*httptest.ResponseRecorder
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, ctx: context.Background()}

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusTeapot)
	_, _ = rw.Write([]byte("body"))

	if rw.status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rw.status)
	}
	if rw.bytes != 4 {
		t.Fatalf("bytes = %d, want 4", rw.bytes)
	}
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: context.Background()}
	if rw.statusOrOK() != http.StatusOK {
		t.Fatal("unwritten response should report 200")
	}
	_, _ = rw.Write([]byte("aaa"))
	_, _ = rw.Write([]byte("bbbbb"))
	if rw.status != http.StatusOK || rw.bytes != 8 {
		t.Fatalf("status=%d bytes=%d", rw.status, rw.bytes)
	}
}

func TestResponseWriter_FlushAndHijack(t *testing.T) {
	fr := &flusherRecorder{ResponseRecorder: httptest.NewRecorder()}
	(&responseWriter{ResponseWriter: fr, ctx: context.Background()}).Flush()
	if !fr.flushed {
		t.Fatal("Flush not delegated")
	}

	// plain recorders must not panic
	(&responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: context.Background()}).Flush()

	hr := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	if _, _, err := (&responseWriter{ResponseWriter: hr, ctx: context.Background()}).Hijack(); err != nil || !hr.hijacked {
		t.Fatalf("Hijack not delegated: %v", err)
	}

	nh := &noHijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	_, _, err := (&responseWriter{ResponseWriter: nh, ctx: context.Background()}).Hijack()
	if err == nil || !strings.Contains(err.Error(), "does not implement http.Hijacker") {
		t.Fatalf("err = %v", err)
	}
}

func TestResponseWriter_UnwrapAndSpanSafety(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, ctx: context.Background()}
	if rw.Unwrap() != rec {
		t.Fatal("Unwrap should return the wrapped writer")
	}
	rw.ensureWriteSpan()
	rw.ensureWriteSpan()
	if !rw.writeSpanStarted {
		t.Fatal("write span should be marked started")
	}
	// no recording parent, so there is no span to end
	rw.finishWriteSpan()
}

func TestWithLogger_EnrichesContext(t *testing.T) {
	fl := &flatLogger{}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if log.FromContext(r.Context()) != fl {
			t.Error("request logger should be stored in the context")
		}
	}), RequestID(""), ClientIPWithOptions(ClientIPOptions{TrustedHops: 1}), WithLogger(fl))

	req := httptest.NewRequest(http.MethodPost, "/users?secret=1", http.NoBody)
	req.RemoteAddr = "10.0.0.2:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Request-Id", "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)

	want := map[string]any{
		"request_id":           "abc-123",
		"client.address":       "203.0.113.9",
		"network.peer.address": "10.0.0.2",
		"http.request.method":  http.MethodPost,
		"url.path":             "/users",
		"url.scheme":           "https",
	}
	for k, v := range want {
		if got, ok := withFieldValue(fl.withs, k); !ok || got != v {
			t.Errorf("%s = %v, want %v", k, got, v)
		}
	}
	for _, kv := range fl.withs {
		for _, f := range kv {
			if s, ok := f.(string); ok && strings.Contains(s, "secret") {
				t.Fatalf("query string leaked into logger fields: %v", kv)
			}
		}
	}
}

func TestWithLogger_WithoutClientIPStage(t *testing.T) {
	fl := &flatLogger{}
	h := WithLogger(fl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-Proto", "https")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if v, _ := withFieldValue(fl.withs, "client.address"); v != "192.0.2.1" {
		t.Fatalf("client.address = %v", v)
	}
	if v, _ := withFieldValue(fl.withs, "url.scheme"); v != "http" {
		t.Fatalf("url.scheme = %v, untrusted proto must be ignored", v)
	}
}

func TestAccessLog_Combined(t *testing.T) {
	fl := &flatLogger{}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	}), ClientIPWithOptions(ClientIPOptions{}), withTestLogger(fl), AccessLog(FormatCombined))

	req := httptest.NewRequest(http.MethodPost, "/users?x=1", http.NoBody)
	req.RemoteAddr = "198.51.100.7:4000"
	req.Header.Set("Referer", "https://ref.example/")
	req.Header.Set("User-Agent", "probe/1.0")
	req.SetBasicAuth("alice", "pw")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entry := fl.lastInfo(t)
	if entry.msg != "http request" {
		t.Fatalf("msg = %q", entry.msg)
	}
	want := map[string]any{
		"remote_addr":               "198.51.100.7",
		"remote_user":               "alice",
		"request":                   "POST /users?x=1 HTTP/1.1",
		"http.response.status_code": http.StatusCreated,
		"http.response.body.size":   int64(5),
		"referrer":                  "https://ref.example/",
		"user_agent":                "probe/1.0",
	}
	for k, v := range want {
		if got, _ := fieldValue(entry.fields, k); got != v {
			t.Errorf("%s = %v, want %v", k, got, v)
		}
	}
	if d, ok := fieldValue(entry.fields, "http.server.request.duration"); !ok || d.(float64) < 0 {
		t.Errorf("duration = %v", d)
	}
}

func TestAccessLog_CombinedDashes(t *testing.T) {
	fl := &flatLogger{}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), withTestLogger(fl), AccessLog(FormatCombined))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Del("User-Agent")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entry := fl.lastInfo(t)
	for _, k := range []string{"remote_user", "referrer", "user_agent"} {
		if v, _ := fieldValue(entry.fields, k); v != "-" {
			t.Errorf("%s = %v, want -", k, v)
		}
	}
	if v, _ := fieldValue(entry.fields, "http.response.status_code"); v != http.StatusOK {
		t.Errorf("status = %v, want implicit 200", v)
	}
}

func TestAccessLog_Dev(t *testing.T) {
	fl := &flatLogger{}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}), withTestLogger(fl), AccessLog(FormatDev))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing?q=1", http.NoBody))

	entry := fl.lastInfo(t)
	if !strings.HasPrefix(entry.msg, "GET /missing?q=1 404 ") || !strings.HasSuffix(entry.msg, " ms - 5") {
		t.Fatalf("msg = %q", entry.msg)
	}
}

func TestAccessLog_DevEmptyBody(t *testing.T) {
	fl := &flatLogger{}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), withTestLogger(fl), AccessLog(FormatDev))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/x", http.NoBody))

	if msg := fl.lastInfo(t).msg; !strings.HasSuffix(msg, " ms - -") {
		t.Fatalf("msg = %q", msg)
	}
}

func TestAccessLog_RoutePattern(t *testing.T) {
	fl := &flatLogger{}
	r := chi.NewRouter()
	r.Use(withTestLogger(fl), AccessLog(FormatCombined))
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/42", http.NoBody))

	if v, _ := fieldValue(fl.lastInfo(t).fields, "http.route"); v != "/users/{id}" {
		t.Fatalf("http.route = %v", v)
	}
}

func TestAccessLog_RouteFallsBackToPath(t *testing.T) {
	fl := &flatLogger{}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), withTestLogger(fl), AccessLog(FormatCombined))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", http.NoBody))

	if v, _ := fieldValue(fl.lastInfo(t).fields, "http.route"); v != "/plain" {
		t.Fatalf("http.route = %v", v)
	}
}

func TestAccessLog_NoLoggerInContext(t *testing.T) {
	called := false
	AccessLog(FormatCombined)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if !called {
		t.Fatal("handler should run with the nop logger")
	}
}

func TestScope_TagsLogger(t *testing.T) {
	fl := &flatLogger{}
	called := false
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}), withTestLogger(fl), Scope("users"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if !called {
		t.Fatal("handler not called")
	}
	if v, _ := withFieldValue(fl.withs, "handler"); v != "users" {
		t.Fatalf("handler = %v", v)
	}
}

func FuzzAccessLog_Path(f *testing.F) {
	for _, s := range []string{"/", "/users", "/a%20b", "/../../etc/passwd", "/x?y=1&y=2"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, path string) {
		req, err := http.NewRequest(http.MethodGet, "http://example.com"+path, http.NoBody)
		if err != nil {
			return
		}
		fl := &flatLogger{}
		Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), withTestLogger(fl), AccessLog(FormatDev)).
			ServeHTTP(httptest.NewRecorder(), req)
		if len(fl.infos) != 1 {
			t.Fatalf("records = %d", len(fl.infos))
		}
	})
}
