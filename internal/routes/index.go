package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/pipeline-web/internal/httpmw"
	"github.com/keithlinneman/pipeline-web/internal/session"
	"github.com/keithlinneman/pipeline-web/internal/view"
	"github.com/keithlinneman/pipeline-web/internal/xerrors"
)

const (
	DefaultTitle = "Express"
	visitsKey    = "visits"
)

// Index serves the home page with a per-session visit counter. POST "/"
// resets the counter, or ends the session when the form asks for it.
type Index struct {
	Views view.Renderer
	Title string
}

func (x *Index) Mount(r chi.Router) {
	r = r.With(httpmw.Scope("index"))
	r.Get("/", x.home)
	r.Post("/", x.reset)
}

func (x *Index) home(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		httpmw.Fail(w, r, err)
		return
	}
	visits := sess.Int(visitsKey) + 1
	sess.Set(visitsKey, visits)

	title := x.Title
	if title == "" {
		title = DefaultTitle
	}
	err = x.Views.Render(w, http.StatusOK, "index", view.Locals{
		"title":     title,
		"csrfToken": httpmw.CSRFToken(r),
		"visits":    visits,
	})
	if err != nil {
		httpmw.Fail(w, r, xerrors.Wrap(err, "render index"))
	}
}

func (x *Index) reset(w http.ResponseWriter, r *http.Request) {
	sess, err := session.FromContext(r.Context())
	if err != nil {
		httpmw.Fail(w, r, err)
		return
	}
	if r.PostFormValue("action") == "logout" {
		sess.Destroy()
	} else {
		sess.Delete(visitsKey)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
