package httpmw

import (
	"fmt"
	"net/http"

	"github.com/keithlinneman/pipeline-web/internal/log"
	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

// Recover turns a panic below it into a 500 handed to the terminal stage.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				var err error
				switch v := rec.(type) {
				case error:
					err = xerrors.Wrap(v, "panic")
				default:
					err = xerrors.Newf("panic: %v", v)
				}

				L.With("http.request.method", r.Method, "url.path", r.URL.Path).
					Error(r.Context(), err, "httpserver panic recovered", "panic", fmt.Sprint(rec))
				if onPanic != nil {
					onPanic()
				}

				Fail(w, r, xerrors.WithStatus(err, http.StatusInternalServerError, ""))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
