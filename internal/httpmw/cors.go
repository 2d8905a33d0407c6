package httpmw

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSOptions narrows the cross-origin policy. The zero value reflects any
// origin and allows credentials.
type CORSOptions struct {
	// AllowOrigin limits which origins are reflected. nil allows all.
	AllowOrigin    func(origin string) bool
	ExposedHeaders []string
	MaxAge         int
}

// CORS answers preflights itself and decorates actual requests. The request
// Origin is echoed back rather than "*" so credentialed requests work.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return opts.AllowOrigin == nil || opts.AllowOrigin(origin)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   opts.ExposedHeaders,
		AllowCredentials: true,
		MaxAge:           opts.MaxAge,
	})
}
