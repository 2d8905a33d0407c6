// Package errorpage is the terminal stage: every error raised by the
// pipeline ends up here, is logged, and is rendered with the "error" view.
package errorpage

import (
	"net/http"
	"strconv"

	"github.com/keithlinneman/pipeline-web/internal/httpmw"
	"github.com/keithlinneman/pipeline-web/internal/log"
	"github.com/keithlinneman/pipeline-web/internal/view"
	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

const View = "error"

type Options struct {
	Renderer view.Renderer
	// Development exposes the error itself to the view. Otherwise the view
	// receives an empty object.
	Development bool
	// OnError is called once per rendered error, for metrics.
	OnError func(status int, code string)
}

type Handler struct {
	opts Options
}

var _ httpmw.ErrorHandler = (*Handler)(nil)

func New(opts Options) (*Handler, error) {
	if opts.Renderer == nil {
		return nil, xerrors.New("errorpage: Renderer is required")
	}
	if opts.OnError == nil {
		opts.OnError = func(int, string) {}
	}
	return &Handler{opts: opts}, nil
}

func (h *Handler) ServeError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = xerrors.NewHTTP(http.StatusInternalServerError)
	}
	ctx := r.Context()
	status := xerrors.StatusCode(err)
	code := xerrors.Code(err)

	L := log.FromContext(ctx)
	L.Error(ctx, xerrors.EnsureTrace(err), "request error", "http.response.status_code", status, "error.code", code)
	h.opts.OnError(status, code)

	var detail any = map[string]any{}
	if h.opts.Development {
		detail = err
	}
	locals := view.Locals{
		"message": err.Error(),
		"error":   detail,
		"status":  status,
	}

	if rerr := h.opts.Renderer.Render(w, status, View, locals); rerr != nil {
		L.Error(ctx, rerr, "error view failed, sending plain text")
		body := err.Error()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

// NotFound is the catch-all stage for requests no router claimed.
func NotFound(w http.ResponseWriter, r *http.Request) {
	httpmw.Fail(w, r, xerrors.NotFound())
}
