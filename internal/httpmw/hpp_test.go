package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func servePollution(t *testing.T, target string, allow ...string) *http.Request {
	t.Helper()
	var got *http.Request
	h := ParamPollution(allow...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, http.NoBody))
	if got == nil {
		t.Fatal("next handler not called")
	}
	return got
}

func TestParamPollution_LastValueWins(t *testing.T) {
	r := servePollution(t, "/search?q=a&q=b&q=c&page=2")

	if got := r.URL.Query()["q"]; len(got) != 1 || got[0] != "c" {
		t.Fatalf("q = %v, want [c]", got)
	}
	if r.URL.Query().Get("page") != "2" {
		t.Fatalf("untouched params should survive, got %q", r.URL.RawQuery)
	}
	if r.FormValue("q") != "c" {
		t.Fatalf("FormValue(q) = %q", r.FormValue("q"))
	}

	polluted := PollutedQuery(r.Context())
	if len(polluted["q"]) != 3 || polluted["q"][0] != "a" {
		t.Fatalf("polluted = %v", polluted)
	}
	if _, ok := polluted["page"]; ok {
		t.Fatal("single-valued params are not polluted")
	}
}

func TestParamPollution_AllowList(t *testing.T) {
	r := servePollution(t, "/?tag=a&tag=b&id=1&id=2", "tag")

	if got := r.URL.Query()["tag"]; len(got) != 2 {
		t.Fatalf("allowed param should keep all values, got %v", got)
	}
	if got := r.URL.Query()["id"]; len(got) != 1 || got[0] != "2" {
		t.Fatalf("id = %v", got)
	}
}

func TestParamPollution_NoQueryPassesThrough(t *testing.T) {
	r := servePollution(t, "/plain")
	if PollutedQuery(r.Context()) != nil {
		t.Fatal("no polluted values expected")
	}
	if r.URL.RawQuery != "" {
		t.Fatalf("raw query = %q", r.URL.RawQuery)
	}
}
