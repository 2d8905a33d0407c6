package errorpage

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keithlinneman/pipeline-web/internal/httpmw"
	"github.com/keithlinneman/pipeline-web/internal/view"
	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

type captureRenderer struct {
	name   string
	status int
	locals view.Locals
	err    error
}

func (c *captureRenderer) Render(w http.ResponseWriter, status int, name string, locals view.Locals) error {
	if c.err != nil {
		return c.err
	}
	c.name, c.status, c.locals = name, status, locals
	w.WriteHeader(status)
	return nil
}

func serve(t *testing.T, opts Options, err error) *httptest.ResponseRecorder {
	t.Helper()
	h, nerr := New(opts)
	if nerr != nil {
		t.Fatalf("New: %v", nerr)
	}
	rec := httptest.NewRecorder()
	h.ServeError(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody), err)
	return rec
}

func TestServeError_StatusFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", xerrors.NotFound(), http.StatusNotFound},
		{"csrf", &xerrors.HTTPError{Status: http.StatusForbidden, Code: xerrors.CodeBadCSRFToken, Msg: "invalid csrf token"}, http.StatusForbidden},
		{"plain error defaults to 500", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped status", xerrors.Wrap(xerrors.WithStatus(errors.New("x"), http.StatusRequestEntityTooLarge, ""), "body"), http.StatusRequestEntityTooLarge},
		{"nil error", nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &captureRenderer{}
			rec := serve(t, Options{Renderer: r}, tt.err)
			if rec.Code != tt.want || r.status != tt.want {
				t.Fatalf("status = %d/%d, want %d", rec.Code, r.status, tt.want)
			}
			if r.name != View {
				t.Fatalf("view = %q", r.name)
			}
			if r.locals["status"] != tt.want {
				t.Fatalf("status local = %v", r.locals["status"])
			}
		})
	}
}

func TestServeError_MessageIsErrorMessage(t *testing.T) {
	r := &captureRenderer{}
	serve(t, Options{Renderer: r}, &xerrors.HTTPError{Status: http.StatusForbidden, Code: xerrors.CodeBadCSRFToken, Msg: "invalid csrf token"})
	if r.locals["message"] != "invalid csrf token" {
		t.Fatalf("message = %v", r.locals["message"])
	}
}

func TestServeError_DetailOnlyInDevelopment(t *testing.T) {
	cause := errors.New("secret internals")

	dev := &captureRenderer{}
	serve(t, Options{Renderer: dev, Development: true}, cause)
	if dev.locals["error"] != cause {
		t.Fatalf("development error local = %#v, want the original error", dev.locals["error"])
	}

	prod := &captureRenderer{}
	serve(t, Options{Renderer: prod}, cause)
	m, ok := prod.locals["error"].(map[string]any)
	if !ok || len(m) != 0 {
		t.Fatalf("error local = %#v, want empty object", prod.locals["error"])
	}
}

func TestServeError_PlainTextFallback(t *testing.T) {
	rec := serve(t, Options{Renderer: &captureRenderer{err: errors.New("template broke")}}, xerrors.NotFound())

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "Not Found" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestServeError_OnError(t *testing.T) {
	var gotStatus int
	var gotCode string
	serve(t, Options{Renderer: &captureRenderer{}, OnError: func(s int, c string) { gotStatus, gotCode = s, c }},
		&xerrors.HTTPError{Status: http.StatusForbidden, Code: xerrors.CodeBadCSRFToken})
	if gotStatus != http.StatusForbidden || gotCode != xerrors.CodeBadCSRFToken {
		t.Fatalf("OnError(%d, %q)", gotStatus, gotCode)
	}
}

func TestNew_RequiresRenderer(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected an error without a renderer")
	}
}

func TestNotFound(t *testing.T) {
	r := &captureRenderer{}
	h, _ := New(Options{Renderer: r})
	rec := httptest.NewRecorder()
	httpmw.Chain(http.HandlerFunc(NotFound), httpmw.WithErrorHandler(h)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", http.NoBody))

	if rec.Code != http.StatusNotFound || r.locals["message"] != "Not Found" {
		t.Fatalf("status=%d locals=%v", rec.Code, r.locals)
	}
}
