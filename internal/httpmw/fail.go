package httpmw

import (
	"context"
	"net/http"

	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

// ErrorHandler is the terminal stage. Every stage that cannot continue hands
// its error here instead of writing a response itself.
type ErrorHandler interface {
	ServeError(w http.ResponseWriter, r *http.Request, err error)
}

// ErrorHandlerFunc adapts a function into an ErrorHandler.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)

func (f ErrorHandlerFunc) ServeError(w http.ResponseWriter, r *http.Request, err error) {
	f(w, r, err)
}

type errorHandlerKey struct{}

// WithErrorHandler installs h into the request context for Fail.
func WithErrorHandler(h ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), errorHandlerKey{}, h)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ErrorHandlerFromContext returns the installed terminal stage, or nil.
func ErrorHandlerFromContext(ctx context.Context) ErrorHandler {
	h, _ := ctx.Value(errorHandlerKey{}).(ErrorHandler)
	return h
}

// Fail forwards err to the terminal stage. Without one in the context it
// falls back to a plain status response.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = xerrors.NewHTTP(http.StatusInternalServerError)
	}
	if h := ErrorHandlerFromContext(r.Context()); h != nil {
		h.ServeError(w, r, err)
		return
	}
	status := xerrors.StatusCode(err)
	http.Error(w, http.StatusText(status), status)
}
