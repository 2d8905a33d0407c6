package httpmw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

type cookiesKey struct{}

// Cookies parses the Cookie header once into a name to value map available
// through RequestCookies. The first occurrence of a name wins and values are
// percent-decoded when they decode cleanly.
func Cookies(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jar := make(map[string]string)
		for _, c := range r.Cookies() {
			if _, seen := jar[c.Name]; seen {
				continue
			}
			v := c.Value
			if strings.Contains(v, "%") {
				if dec, err := url.PathUnescape(v); err == nil {
					v = dec
				}
			}
			jar[c.Name] = v
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), cookiesKey{}, jar)))
	})
}

// RequestCookies returns the parsed cookies, or nil when Cookies has not run.
func RequestCookies(ctx context.Context) map[string]string {
	m, _ := ctx.Value(cookiesKey{}).(map[string]string)
	return m
}

// JSONCookie decodes a cookie written in the "j:" JSON form into dst.
// It reports false when the cookie is absent or not JSON.
func JSONCookie(ctx context.Context, name string, dst any) bool {
	v, ok := RequestCookies(ctx)[name]
	if !ok || !strings.HasPrefix(v, "j:") {
		return false
	}
	return json.Unmarshal([]byte(v[2:]), dst) == nil
}
