package httpmw

import (
	"context"
	"net/http"
	"net/url"
	"slices"
)

type pollutedKey struct{}

// ParamPollution collapses repeated query parameters to their last value so
// handlers never see an unexpected list. The original repeated values stay
// available through PollutedQuery. Parameters named in allow keep all values.
func ParamPollution(allow ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.RawQuery == "" {
				next.ServeHTTP(w, r)
				return
			}
			q := r.URL.Query()
			polluted := url.Values{}
			for k, vs := range q {
				if len(vs) < 2 || slices.Contains(allow, k) {
					continue
				}
				polluted[k] = vs
				q[k] = vs[len(vs)-1:]
			}
			if len(polluted) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			r2 := r.WithContext(context.WithValue(r.Context(), pollutedKey{}, polluted))
			u := *r.URL
			u.RawQuery = q.Encode()
			r2.URL = &u
			// a previously parsed form would still hold the duplicates
			r2.Form = nil
			next.ServeHTTP(w, r2)
		})
	}
}

// PollutedQuery returns the repeated query values ParamPollution removed.
func PollutedQuery(ctx context.Context) url.Values {
	v, _ := ctx.Value(pollutedKey{}).(url.Values)
	return v
}
