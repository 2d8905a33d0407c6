package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}
type schemeKey struct{}

// ClientIPOptions configures proxy trust for client address and scheme
// resolution.
type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies between the client and
	// this server. 0 ignores X-Forwarded-* entirely, 1 takes the rightmost
	// X-Forwarded-For entry, 2 the second from the end, and so on.
	TrustedHops int
}

// ClientIP resolves the client address with no trusted proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions resolves the client address and request scheme and
// stores both in the context. Forwarded headers that are not trusted are
// removed so later stages cannot read them by accident. A request already
// resolved by an outer instance passes through unchanged.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if SchemeFromContext(r.Context()) != "" {
				next.ServeHTTP(w, r)
				return
			}
			ip, trusted := extractRealClientAddr(r, opts.TrustedHops)
			ctx := WithClientIP(r.Context(), ip)
			ctx = context.WithValue(ctx, schemeKey{}, resolveScheme(r, trusted))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractRealClientAddr returns the client address and whether forwarded
// headers were trusted. Forwarded headers are only considered when the peer
// is a private address and at least one hop is trusted.
func extractRealClientAddr(r *http.Request, trustedHops int) (string, bool) {
	if r.RemoteAddr == "" {
		return "0.0.0.0", false
	}

	clientAddr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		stripForwarded(r)
		return r.RemoteAddr, false
	}

	ip := net.ParseIP(clientAddr)
	if ip == nil {
		stripForwarded(r)
		return "0.0.0.0", false
	}

	if (!ip.IsPrivate() && !ip.IsLoopback()) || trustedHops <= 0 {
		stripForwarded(r)
		return clientAddr, false
	}

	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		idx := len(parts) - trustedHops
		if idx < 0 {
			// fewer entries than proxies: misconfigured or forged, fail closed
			stripForwarded(r)
			return clientAddr, false
		}
		if candidate := strings.TrimSpace(parts[idx]); net.ParseIP(candidate) != nil {
			clientAddr = candidate
		}
	}

	return clientAddr, true
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

func resolveScheme(r *http.Request, trusted bool) string {
	if trusted {
		if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
			// first entry is the one the client spoke
			first := strings.ToLower(strings.TrimSpace(strings.Split(xf, ",")[0]))
			if first == "http" || first == "https" {
				return first
			}
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// SchemeFromContext returns the resolved request scheme, "" when
// ClientIPWithOptions has not run.
func SchemeFromContext(ctx context.Context) string {
	s, _ := ctx.Value(schemeKey{}).(string)
	return s
}
