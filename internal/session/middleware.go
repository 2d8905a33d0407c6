package session

import (
	"context"
	"net/http"

	"github.com/keithlinneman/pipeline-web/internal/httpmw"
	"github.com/keithlinneman/pipeline-web/internal/log"
	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

// Middleware installs the session stage. A configuration error, such as a
// missing secret, fails every request that reaches the stage with a 500
// instead of failing startup.
func Middleware(cfg Config, opts Options) func(http.Handler) http.Handler {
	m, cfgErr := NewManager(cfg, opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfgErr != nil {
				httpmw.Fail(w, r, xerrors.WithStatus(cfgErr, http.StatusInternalServerError, ""))
				return
			}

			h := &handle{m: m}
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, h))
			h.r = r

			cw := &commitWriter{
				ResponseWriter: w,
				r:              r,
				commit:         func() error { return m.commit(r, w, h) },
			}
			next.ServeHTTP(cw, r)
			cw.settle()
		})
	}
}

// commit decides what to persist once the handler starts responding.
func (m *Manager) commit(r *http.Request, w http.ResponseWriter, h *handle) error {
	s := h.peek()
	if s == nil {
		// never read: keep an existing session alive without loading it
		if id, ok := m.cookieID(r, m.opts.CookieName); ok {
			m.touchLogged(r, id)
		}
		return nil
	}

	switch {
	case s.isDestroyed():
		if s.IsNew() {
			return nil
		}
		s.raw.Options.MaxAge = -1
		return m.Save(r, w, s.raw)
	case s.IsNew():
		if !s.modified() && !m.cfg.SaveUninitialized {
			return nil
		}
		return m.Save(r, w, s.raw)
	case s.modified():
		return m.Save(r, w, s.raw)
	case m.cfg.Resave:
		return m.store(r, s.raw)
	default:
		m.touchLogged(r, s.ID())
		return nil
	}
}

// touchLogged extends the store TTL. Failure only shortens the session's
// life, so it is logged rather than failing the request.
func (m *Manager) touchLogged(r *http.Request, id string) {
	if err := m.touch(r, id); err != nil {
		log.FromContext(r.Context()).Warn(r.Context(), "session touch failed", "error", err)
	}
}

// commitWriter runs commit exactly once, before the first header or body
// byte reaches the client. When commit fails, the error page replaces the
// handler's response and later writes are discarded.
type commitWriter struct {
	http.ResponseWriter
	r      *http.Request
	commit func() error
	done   bool
	failed bool
}

func (cw *commitWriter) settle() bool {
	if !cw.done {
		cw.done = true
		if err := cw.commit(); err != nil {
			cw.failed = true
			httpmw.Fail(cw.ResponseWriter, cw.r, err)
		}
	}
	return !cw.failed
}

func (cw *commitWriter) WriteHeader(code int) {
	if cw.settle() {
		cw.ResponseWriter.WriteHeader(code)
	}
}

func (cw *commitWriter) Write(b []byte) (int, error) {
	if !cw.settle() {
		return len(b), nil
	}
	return cw.ResponseWriter.Write(b)
}

func (cw *commitWriter) Flush() {
	if !cw.settle() {
		return
	}
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (cw *commitWriter) Unwrap() http.ResponseWriter { return cw.ResponseWriter }
