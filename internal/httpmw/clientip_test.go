package httpmw

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractRealClientAddr(t *testing.T) {
	tests := []struct {
		name        string
		remote      string
		xff         string
		hops        int
		want        string
		wantTrusted bool
	}{
		{"empty remote", "", "", 1, "0.0.0.0", false},
		{"malformed remote", "garbage", "", 1, "garbage", false},
		{"public peer ignores xff", "203.0.113.9:5000", "1.1.1.1", 1, "203.0.113.9", false},
		{"private peer no hops", "10.0.0.5:5000", "1.1.1.1", 0, "10.0.0.5", false},
		{"private peer one hop", "10.0.0.5:5000", "9.9.9.9, 1.1.1.1", 1, "1.1.1.1", true},
		{"private peer two hops", "10.0.0.5:5000", "9.9.9.9, 1.1.1.1, 2.2.2.2", 2, "1.1.1.1", true},
		{"loopback peer one hop", "127.0.0.1:5000", "8.8.8.8", 1, "8.8.8.8", true},
		{"too few entries fails closed", "10.0.0.5:5000", "1.1.1.1", 3, "10.0.0.5", false},
		{"invalid candidate keeps peer", "10.0.0.5:5000", "not-an-ip", 1, "10.0.0.5", true},
		{"no xff private peer", "192.168.1.2:80", "", 1, "192.168.1.2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			got, trusted := extractRealClientAddr(r, tt.hops)
			if got != tt.want || trusted != tt.wantTrusted {
				t.Fatalf("got (%q, %v), want (%q, %v)", got, trusted, tt.want, tt.wantTrusted)
			}
		})
	}
}

func TestExtractRealClientAddr_StripsUntrustedHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "203.0.113.9:5000"
	r.Header.Set("X-Forwarded-For", "1.1.1.1")
	r.Header.Set("X-Forwarded-Proto", "https")

	extractRealClientAddr(r, 1)

	if r.Header.Get("X-Forwarded-For") != "" || r.Header.Get("X-Forwarded-Proto") != "" {
		t.Fatal("forwarded headers from a public peer should be removed")
	}
}

func TestResolveScheme(t *testing.T) {
	tests := []struct {
		name    string
		proto   string
		tls     bool
		trusted bool
		want    string
	}{
		{"plain", "", false, false, "http"},
		{"tls", "", true, false, "https"},
		{"trusted forwarded https", "https", false, true, "https"},
		{"trusted forwarded list", "HTTPS, http", false, true, "https"},
		{"untrusted forwarded ignored", "https", false, false, "http"},
		{"garbage forwarded ignored", "javascript", false, true, "http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.proto != "" {
				r.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if got := resolveScheme(r, tt.trusted); got != tt.want {
				t.Fatalf("resolveScheme = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPWithOptions_Middleware(t *testing.T) {
	var gotIP, gotScheme string
	h := ClientIPWithOptions(ClientIPOptions{TrustedHops: 1})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = ClientIPFromContext(r.Context())
		gotScheme = SchemeFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "10.1.2.3:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.7")
	r.Header.Set("X-Forwarded-Proto", "https")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if gotIP != "198.51.100.7" {
		t.Errorf("client ip = %q", gotIP)
	}
	if gotScheme != "https" {
		t.Errorf("scheme = %q", gotScheme)
	}
}

func TestClientIP_DefaultIgnoresForwarded(t *testing.T) {
	var gotIP string
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = ClientIPFromContext(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "10.1.2.3:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.7")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if gotIP != "10.1.2.3" {
		t.Fatalf("client ip = %q, want peer address", gotIP)
	}
}

func TestWithClientIP_Empty(t *testing.T) {
	ctx := WithClientIP(context.Background(), "")
	if ClientIPFromContext(ctx) != "" {
		t.Fatal("empty ip should not be stored")
	}
	if SchemeFromContext(ctx) != "" {
		t.Fatal("scheme should be empty without the middleware")
	}
}

func TestClientIPWithOptions_OuterResolutionWins(t *testing.T) {
	var gotIP, gotScheme string
	inner := ClientIPWithOptions(ClientIPOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = ClientIPFromContext(r.Context())
		gotScheme = SchemeFromContext(r.Context())
	}))
	h := ClientIPWithOptions(ClientIPOptions{TrustedHops: 1})(inner)

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "10.0.0.2:5000"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	r.Header.Set("X-Forwarded-Proto", "https")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if gotIP != "203.0.113.9" || gotScheme != "https" {
		t.Fatalf("ip=%q scheme=%q, inner stage should keep the outer result", gotIP, gotScheme)
	}
}
