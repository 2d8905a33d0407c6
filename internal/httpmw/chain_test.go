package httpmw

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// tag appends name to a header on the way in, so the final value records
// the order stages ran in.
func tag(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Add("X-Stages", name)
			next.ServeHTTP(w, r)
		})
	}
}

func stagesSeen() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Join(r.Header.Values("X-Stages"), ">"))
	})
}

func TestChain(t *testing.T) {
	tests := []struct {
		name string
		mws  []func(http.Handler) http.Handler
		want string
	}{
		{"none", nil, ""},
		{"one", []func(http.Handler) http.Handler{tag("a")}, "a"},
		{"first runs first", []func(http.Handler) http.Handler{tag("errors"), tag("cors"), tag("session")}, "errors>cors>session"},
		{"nil skipped", []func(http.Handler) http.Handler{nil, tag("a"), nil, tag("b"), nil}, "a>b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Chain(stagesSeen(), tt.mws...).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
			if got := rec.Body.String(); got != tt.want {
				t.Fatalf("order = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChain_ShortCircuit(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}
	rec := httptest.NewRecorder()
	Chain(stagesSeen(), tag("a"), deny, tag("never")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusForbidden || rec.Body.Len() != 0 {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}
